package domain

import "time"

// RuleStrategy identifies the evaluator family a rule belongs to.
// The catalog is a closed tagged union: each strategy has a dedicated
// evaluator resolved at definition load time.
type RuleStrategy string

const (
	// StrategyCountThreshold fires when the matching transaction count
	// reaches the configured threshold (inclusive).
	StrategyCountThreshold RuleStrategy = "count_threshold"

	// StrategyAmountRangeCount fires when the count of transactions
	// inside the half-open amount range [min, max) reaches the threshold.
	StrategyAmountRangeCount RuleStrategy = "amount_range_count"

	// StrategySumThreshold fires when the summed base amount strictly
	// exceeds the configured threshold.
	StrategySumThreshold RuleStrategy = "sum_threshold"

	// StrategyRatio fires when the numerator-type count reaches the
	// minimum and numerator/denominator reaches the configured ratio.
	StrategyRatio RuleStrategy = "ratio"

	// StrategyOutlierAverage fires when enough transactions above the
	// amount floor exist and one strictly exceeds the subject's mean.
	StrategyOutlierAverage RuleStrategy = "outlier_average"

	// StrategyRiskIncrease fires when the risk score increase between
	// consecutive ongoing-monitoring reports crosses the delta.
	StrategyRiskIncrease RuleStrategy = "risk_increase"

	// StrategyRiskThreshold fires when the current risk score reaches
	// the configured maximum (inclusive).
	StrategyRiskThreshold RuleStrategy = "risk_threshold"
)

// DefinitionCategory separates transaction sweeps from merchant monitoring.
type DefinitionCategory string

const (
	CategoryTransactionMonitoring DefinitionCategory = "transaction_monitoring"
	CategoryMerchantMonitoring    DefinitionCategory = "merchant_monitoring"
)

// SubjectSide selects which counterparty of a transaction the grouping
// key is taken from.
type SubjectSide string

const (
	SubjectOriginator  SubjectSide = "counterparty_originator"
	SubjectBeneficiary SubjectSide = "counterparty_beneficiary"
)

// AmountRange is a half-open interval [Min, Max).
type AmountRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RuleOptions is the per-rule parameter bag. Which fields are required
// depends on the strategy; Validate in the rules package enforces that.
type RuleOptions struct {
	Direction             TransactionDirection  `json:"direction,omitempty"`
	PaymentMethods        []PaymentMethod       `json:"paymentMethods,omitempty"`
	ExcludePaymentMethods bool                  `json:"excludePaymentMethods,omitempty"`
	TransactionType       TransactionRecordType `json:"transactionType,omitempty"`
	GroupBy               SubjectSide           `json:"groupBy,omitempty"`
	AmountBetween         *AmountRange          `json:"amountBetween,omitempty"`
	CountThreshold        int64                 `json:"countThreshold,omitempty"`
	SumThreshold          float64               `json:"sumThreshold,omitempty"`
	MinimumCount          int64                 `json:"minimumCount,omitempty"`
	RatioThreshold        float64               `json:"ratioThreshold,omitempty"` // percentage, e.g. 50 means 50%
	AmountFloor           float64               `json:"amountFloor,omitempty"`
	TimeWindowDays        int                   `json:"timeWindowDays,omitempty"`
	RiskScoreDelta        float64               `json:"riskScoreDelta,omitempty"`
	MaxRiskScoreThreshold float64               `json:"maxRiskScoreThreshold,omitempty"`

	// FilterExpression is an optional CEL predicate applied to each
	// transaction before aggregation. Compiled at definition load.
	FilterExpression string `json:"filterExpression,omitempty"`
}

// InlineRule is the declarative rule embedded in a definition.
type InlineRule struct {
	ID       string       `json:"id"`
	Strategy RuleStrategy `json:"strategy"`
	Subjects []string     `json:"subjects"`
	Options  RuleOptions  `json:"options"`
}

// AlertDefinition declares one detection rule owned by a project.
type AlertDefinition struct {
	ID              string             `json:"id"`
	ProjectID       string             `json:"projectId"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	Category        DefinitionCategory `json:"category"`
	Rule            InlineRule         `json:"rule"`
	DefaultSeverity Severity           `json:"defaultSeverity"`
	Enabled         bool               `json:"enabled"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}
