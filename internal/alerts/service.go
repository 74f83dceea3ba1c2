// Package alerts applies bulk assignment and decision operations to
// existing alerts and reports a per-id outcome for each request.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Bulk item statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusPartial = "PARTIAL"
)

// errNotUpdated is the per-id explanation for ids that were not part of
// the updated set: either the alert does not exist or it belongs to a
// different project.
const errNotUpdated = "Alert not found or not updated."

// Actor identifies who is performing a bulk operation. Decisions made
// by a human user auto-assign that user to the alert; service and
// customer principals do not.
type Actor struct {
	UserID  string
	IsHuman bool
}

// BulkItem is the outcome for a single requested alert id.
type BulkItem struct {
	AlertID string `json:"alertId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BulkResponse reports the overall and per-id outcome of a bulk
// assignment or decision request.
type BulkResponse struct {
	Status string     `json:"status"`
	Items  []BulkItem `json:"items"`
}

// Service performs bulk mutations against the alert store.
type Service struct {
	repo domain.Repository
}

func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// UpdateAlertsAssignee assigns (or, with an empty assigneeID,
// unassigns) the given alerts in a single bulk update scoped to the
// project. It returns the alerts that were actually updated; ids that
// do not exist or belong to another project are silently absent from
// the result.
func (s *Service) UpdateAlertsAssignee(ctx context.Context, alertIDs []string, projectID, assigneeID string) ([]*domain.Alert, error) {
	updated, err := s.repo.UpdateAlertsAssignee(ctx, projectID, alertIDs, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to update assignee: %w", err)
	}
	return updated, nil
}

// UpdateAlertsDecision applies a decision outcome to the given alerts
// in a single bulk update scoped to the project. Decided alerts are
// closed: their status moves to completed and they no longer block new
// alerts for the same subject.
func (s *Service) UpdateAlertsDecision(ctx context.Context, alertIDs []string, projectID string, decision domain.AlertDecision) ([]*domain.Alert, error) {
	updated, err := s.repo.UpdateAlertsDecision(ctx, projectID, alertIDs, decision)
	if err != nil {
		return nil, fmt.Errorf("failed to update decision: %w", err)
	}
	return updated, nil
}

// DecideAlerts applies a decision on behalf of an actor. When the actor
// is a human user, the alerts are first assigned to that user so the
// decision record carries an accountable assignee.
func (s *Service) DecideAlerts(ctx context.Context, alertIDs []string, projectID string, decision domain.AlertDecision, actor Actor) ([]*domain.Alert, error) {
	if actor.IsHuman && actor.UserID != "" {
		if _, err := s.repo.UpdateAlertsAssignee(ctx, projectID, alertIDs, actor.UserID); err != nil {
			return nil, fmt.Errorf("failed to assign deciding user: %w", err)
		}
		slog.Debug("assigned deciding user to alerts",
			"projectId", projectID,
			"userId", actor.UserID,
			"alertCount", len(alertIDs))
	}
	return s.UpdateAlertsDecision(ctx, alertIDs, projectID, decision)
}

// BuildBulkResponse classifies each requested id against the set of
// alerts actually updated. The overall status is SUCCESS when every id
// was updated, FAILED when none was, and PARTIAL otherwise.
func BuildBulkResponse(requestedIDs []string, updated []*domain.Alert) BulkResponse {
	updatedSet := make(map[string]bool, len(updated))
	for _, alert := range updated {
		updatedSet[alert.ID] = true
	}

	items := make([]BulkItem, 0, len(requestedIDs))
	succeeded := 0
	for _, id := range requestedIDs {
		if updatedSet[id] {
			items = append(items, BulkItem{AlertID: id, Status: StatusSuccess})
			succeeded++
		} else {
			items = append(items, BulkItem{AlertID: id, Status: StatusFailed, Error: errNotUpdated})
		}
	}

	status := StatusPartial
	switch succeeded {
	case len(requestedIDs):
		status = StatusSuccess
	case 0:
		status = StatusFailed
	}
	return BulkResponse{Status: status, Items: items}
}
