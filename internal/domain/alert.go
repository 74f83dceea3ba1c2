package domain

import (
	"time"
)

// Severity is the ordered alert severity scale.
// Ordering is defined by Rank, not by lexical comparison.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of the severity in the total order
// low < medium < high < critical. Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AlertStatus tracks the review lifecycle of an alert.
type AlertStatus string

const (
	AlertStatusNew         AlertStatus = "new"
	AlertStatusUnderReview AlertStatus = "under_review"
	AlertStatusCompleted   AlertStatus = "completed"
)

// AlertDecision is the analyst's final disposition of an alert.
// Applying any decision closes the alert.
type AlertDecision string

const (
	DecisionRejected  AlertDecision = "rejected"
	DecisionDismissed AlertDecision = "dismissed"
	DecisionCleared   AlertDecision = "cleared"
)

// ExecutionRow holds the aggregation numbers that justified a hit.
// TransactionCount is serialized as a decimal string to match the
// warehouse bigint representation downstream consumers expect.
type ExecutionRow struct {
	TransactionCount string  `json:"transactionCount"`
	TotalAmount      float64 `json:"totalAmount"`
	AverageAmount    float64 `json:"averageAmount,omitempty"`
	MaxAmount        float64 `json:"maxAmount,omitempty"`
	Ratio            float64 `json:"ratio,omitempty"`
	NumeratorCount   string  `json:"numeratorCount,omitempty"`
	DenominatorCount string  `json:"denominatorCount,omitempty"`
}

// ExecutionDetails is the evidence payload stored verbatim on an alert.
type ExecutionDetails struct {
	ExecutionRow ExecutionRow `json:"executionRow"`
}

// Alert is a persisted detection result awaiting human review.
// The store guarantees at most one open alert per
// (alertDefinitionId, counterpartyId, businessId) tuple.
type Alert struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"projectId"`
	AlertDefinitionID string            `json:"alertDefinitionId"`
	CounterpartyID    string            `json:"counterpartyId,omitempty"`
	BusinessID        string            `json:"businessId,omitempty"`
	Severity          Severity          `json:"severity"`
	Status            AlertStatus       `json:"status"`
	Decision          AlertDecision     `json:"decision,omitempty"`
	ExecutionDetails  *ExecutionDetails `json:"executionDetails,omitempty"`
	AdditionalInfo    map[string]any    `json:"additionalInfo,omitempty"`
	AssigneeID        string            `json:"assigneeId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	DecidedAt         *time.Time        `json:"decidedAt,omitempty"`
}

// Open reports whether the alert is still awaiting a decision.
func (a *Alert) Open() bool {
	return a.DecidedAt == nil
}

// AlertFilter narrows alert queries.
type AlertFilter struct {
	AlertDefinitionID string
	CounterpartyID    string
	BusinessID        string
	Statuses          []AlertStatus
	OpenOnly          bool
	AssigneeID        string
}
