// Package monitoring implements the ongoing-monitoring risk resolver:
// it compares a business report's risk score against its predecessor
// and files at most one alert for the highest-severity matching rule.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

const companyNameTTL = 30 * time.Minute

// Resolver evaluates merchant-monitoring definitions against report
// score pairs.
type Resolver struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewResolver creates a resolver. The cache is optional.
func NewResolver(repo domain.Repository, cache domain.Cache) *Resolver {
	return &Resolver{repo: repo, cache: cache}
}

// CheckOngoingMonitoringAlert runs the risk check for one report.
// It returns nil without error when no alert is warranted: the report
// has no predecessor, the predecessor is not an ongoing-monitoring
// report, no definition matches, or an open alert already covers the
// business. companyName is an optional hint; when empty the resolver
// looks it up itself.
func (r *Resolver) CheckOngoingMonitoringAlert(ctx context.Context, params domain.MonitoringCheckParams, companyName string) (*domain.Alert, error) {
	reportID := params.BusinessReportID
	if reportID == "" {
		reportID = params.ReportID
	}

	report, err := r.repo.GetBusinessReport(ctx, params.ProjectID, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", reportID, err)
	}

	previous := report.Payload.PreviousReport
	if previous == nil {
		metrics.MonitoringChecks.WithLabelValues("no_previous").Inc()
		return nil, nil
	}
	if previous.ReportType != domain.ReportTypeOngoingMerchant {
		metrics.MonitoringChecks.WithLabelValues("wrong_type").Inc()
		return nil, nil
	}

	currentScore := report.Payload.Summary.RiskScore
	previousScore := previous.Summary.RiskScore

	winner, reason, err := r.resolve(ctx, params.ProjectID, previousScore, currentScore)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		metrics.MonitoringChecks.WithLabelValues("no_match").Inc()
		return nil, nil
	}

	if companyName == "" {
		companyName = r.lookupCompanyName(ctx, params.ProjectID, params.BusinessID)
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:                uuid.New().String(),
		ProjectID:         params.ProjectID,
		AlertDefinitionID: winner.ID,
		BusinessID:        params.BusinessID,
		Severity:          winner.DefaultSeverity,
		Status:            domain.AlertStatusNew,
		AdditionalInfo: map[string]any{
			"alertReason":         reason,
			"businessCompanyName": companyName,
			"businessId":          params.BusinessID,
			"businessReportId":    report.ID,
			"previousRiskScore":   previousScore,
			"projectId":           params.ProjectID,
			"reportId":            params.ReportID,
			"riskScore":           currentScore,
			"severity":            string(winner.DefaultSeverity),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := r.repo.CreateAlertIfAbsent(ctx, params.ProjectID, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	if !created {
		// An open alert already covers this business and definition.
		metrics.MonitoringChecks.WithLabelValues("deduplicated").Inc()
		return nil, nil
	}

	metrics.MonitoringChecks.WithLabelValues("alert_created").Inc()
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()

	slog.Info("monitoring alert created",
		"project_id", params.ProjectID,
		"business_id", params.BusinessID,
		"definition_id", winner.ID,
		"severity", alert.Severity,
		"previous_score", previousScore,
		"current_score", currentScore,
	)

	return alert, nil
}

// resolve evaluates every active merchant-monitoring definition and
// returns the winner: the highest severity among the matches, earliest
// created definition on ties.
func (r *Resolver) resolve(ctx context.Context, projectID string, previousScore, currentScore float64) (*domain.AlertDefinition, string, error) {
	defs, err := r.loadDefinitions(ctx, projectID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load monitoring definitions: %w", err)
	}

	var winner *domain.AlertDefinition
	var winnerReason string

	for _, def := range defs {
		rule, err := rules.Prepare(def)
		if err != nil {
			slog.Warn("skipping definition with invalid rule",
				"project_id", projectID,
				"definition_id", def.ID,
				"error", err,
			)
			continue
		}

		matched, reason := evaluateRiskRule(rule, previousScore, currentScore)
		if !matched {
			continue
		}

		// Definitions arrive in creation order, so a strict rank
		// comparison keeps the earliest on ties.
		if winner == nil || def.DefaultSeverity.Rank() > winner.DefaultSeverity.Rank() {
			winner = def
			winnerReason = reason
		}
	}

	return winner, winnerReason, nil
}

// evaluateRiskRule applies one merchant-monitoring strategy to the
// score pair. Delta and threshold comparisons are inclusive.
func evaluateRiskRule(rule *rules.PreparedRule, previousScore, currentScore float64) (bool, string) {
	opts := rule.Definition.Rule.Options

	switch rule.Definition.Rule.Strategy {
	case domain.StrategyRiskIncrease:
		delta := currentScore - previousScore
		if delta >= opts.RiskScoreDelta {
			return true, fmt.Sprintf("The risk score has increased from %v to %v, reaching the configured delta of %v",
				previousScore, currentScore, opts.RiskScoreDelta)
		}

	case domain.StrategyRiskThreshold:
		if currentScore >= opts.MaxRiskScoreThreshold {
			return true, fmt.Sprintf("The risk score has exceeded the threshold of %v", opts.MaxRiskScoreThreshold)
		}
	}

	return false, ""
}

func (r *Resolver) loadDefinitions(ctx context.Context, projectID string) ([]*domain.AlertDefinition, error) {
	if r.cache != nil {
		if defs, err := r.cache.GetDefinitions(ctx, projectID, domain.CategoryMerchantMonitoring); err == nil && defs != nil {
			return defs, nil
		}
	}

	defs, err := r.repo.ListAlertDefinitions(ctx, projectID, domain.CategoryMerchantMonitoring)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && len(defs) > 0 {
		_ = r.cache.SetDefinitions(ctx, projectID, domain.CategoryMerchantMonitoring, defs, time.Minute)
	}

	return defs, nil
}

// lookupCompanyName resolves a business's display name, preferring the
// cache. Missing businesses resolve to an empty name rather than an
// error; the alert is still worth filing.
func (r *Resolver) lookupCompanyName(ctx context.Context, projectID, businessID string) string {
	if businessID == "" {
		return ""
	}

	if r.cache != nil {
		if name, err := r.cache.GetCompanyName(ctx, projectID, businessID); err == nil && name != "" {
			return name
		}
	}

	business, err := r.repo.GetBusiness(ctx, projectID, businessID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to load business",
				"project_id", projectID,
				"business_id", businessID,
				"error", err,
			)
		}
		return ""
	}

	if r.cache != nil && business.CompanyName != "" {
		_ = r.cache.SetCompanyName(ctx, projectID, businessID, business.CompanyName, companyNameTTL)
	}

	return business.CompanyName
}
