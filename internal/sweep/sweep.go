// Package sweep runs the batch detection pass: it loads every active
// transaction-monitoring definition, aggregates the matching
// transactions per subject, and files an alert for each rule hit that
// has no open predecessor.
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/rules"
)

const sweepCounterKey = "sweep-runs"

// Sweeper evaluates all transaction-monitoring definitions across all
// projects. Safe for concurrent use; overlapping sweeps converge on
// the same open alerts through the store's dedup insert.
type Sweeper struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	cfg    domain.SweepConfig
	tracer trace.Tracer
}

// DefinitionResult is the outcome of evaluating one definition.
type DefinitionResult struct {
	DefinitionID   string `json:"definitionId"`
	RuleID         string `json:"ruleId"`
	Subjects       int    `json:"subjects"`
	Hits           int    `json:"hits"`
	AlertsCreated  int    `json:"alertsCreated"`
	Deduplicated   int    `json:"deduplicated"`
	Skipped        bool   `json:"skipped,omitempty"`
	Error          string `json:"error,omitempty"`
	DurationMillis int64  `json:"durationMs"`
}

// SweepReport summarizes one full sweep across all projects.
type SweepReport struct {
	RunNumber     int64              `json:"runNumber"`
	Projects      int                `json:"projects"`
	Definitions   []DefinitionResult `json:"definitions"`
	AlertsCreated int                `json:"alertsCreated"`
	Deduplicated  int                `json:"deduplicated"`
	StartedAt     time.Time          `json:"startedAt"`
	DurationMs    int64              `json:"durationMs"`
}

// NewSweeper creates a sweeper. The cache and bus are optional; a nil
// bus disables alert event publishing.
func NewSweeper(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.SweepConfig) *Sweeper {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.DefaultLookbackDays <= 0 {
		cfg.DefaultLookbackDays = 7
	}
	return &Sweeper{
		repo:   repo,
		cache:  cache,
		bus:    bus,
		cfg:    cfg,
		tracer: otel.Tracer("harrier/sweep"),
	}
}

// CheckAllAlerts runs one full sweep: every project, every active
// transaction-monitoring definition. A definition that fails to
// prepare or evaluate is reported and skipped; it never aborts the
// sweep. Repository errors on the project listing abort, since nothing
// can run without it.
func (s *Sweeper) CheckAllAlerts(ctx context.Context) (*SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.CheckAllAlerts")
	defer span.End()

	start := time.Now()
	metrics.SweepRuns.Inc()

	report := &SweepReport{StartedAt: start.UTC()}
	if s.cache != nil {
		if n, err := s.cache.IncrementCounter(ctx, "_global", sweepCounterKey, 24*time.Hour); err == nil {
			report.RunNumber = n
		}
	}

	projectIDs, err := s.repo.ListProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	report.Projects = len(projectIDs)
	span.SetAttributes(attribute.Int("sweep.projects", len(projectIDs)))

	for _, projectID := range projectIDs {
		results, err := s.sweepProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		report.Definitions = append(report.Definitions, results...)
	}

	for _, result := range report.Definitions {
		report.AlertsCreated += result.AlertsCreated
		report.Deduplicated += result.Deduplicated
	}
	report.DurationMs = time.Since(start).Milliseconds()
	metrics.SweepDuration.Observe(float64(report.DurationMs))

	slog.Info("sweep completed",
		"run", report.RunNumber,
		"projects", report.Projects,
		"definitions", len(report.Definitions),
		"alerts_created", report.AlertsCreated,
		"deduplicated", report.Deduplicated,
		"duration_ms", report.DurationMs,
	)

	s.publishSweepCompleted(ctx, report)

	return report, nil
}

// sweepProject evaluates every active definition of one project with
// bounded concurrency. A store failure listing the definitions aborts
// the whole sweep; only per-definition evaluation failures are
// contained as result rows.
func (s *Sweeper) sweepProject(ctx context.Context, projectID string) ([]DefinitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "sweep.project",
		trace.WithAttributes(attribute.String("project.id", projectID)))
	defer span.End()

	defs, err := s.loadDefinitions(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions for project %s: %w", projectID, err)
	}

	results := make([]DefinitionResult, len(defs))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, s.cfg.MaxWorkers)

	for i, def := range defs {
		wg.Add(1)
		go func(idx int, def *domain.AlertDefinition) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = s.evaluateDefinition(ctx, projectID, def)
		}(i, def)
	}

	wg.Wait()
	return results, nil
}

// loadDefinitions loads the active transaction-monitoring definitions,
// preferring the cache.
func (s *Sweeper) loadDefinitions(ctx context.Context, projectID string) ([]*domain.AlertDefinition, error) {
	if s.cache != nil {
		if defs, err := s.cache.GetDefinitions(ctx, projectID, domain.CategoryTransactionMonitoring); err == nil && defs != nil {
			return defs, nil
		}
	}

	defs, err := s.repo.ListAlertDefinitions(ctx, projectID, domain.CategoryTransactionMonitoring)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && len(defs) > 0 {
		ttl := time.Duration(s.cfg.DefinitionCacheTTL) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
		_ = s.cache.SetDefinitions(ctx, projectID, domain.CategoryTransactionMonitoring, defs, ttl)
	}

	return defs, nil
}

// evaluateDefinition runs one definition end to end. Failures are
// contained in the result.
func (s *Sweeper) evaluateDefinition(ctx context.Context, projectID string, def *domain.AlertDefinition) DefinitionResult {
	ctx, span := s.tracer.Start(ctx, "sweep.definition",
		trace.WithAttributes(
			attribute.String("definition.id", def.ID),
			attribute.String("rule.id", def.Rule.ID),
		))
	defer span.End()

	start := time.Now()
	result := DefinitionResult{DefinitionID: def.ID, RuleID: def.Rule.ID}

	rule, err := rules.Prepare(def)
	if err != nil {
		// Configuration error: log and skip, the sweep continues.
		slog.Warn("skipping definition with invalid rule",
			"project_id", projectID,
			"definition_id", def.ID,
			"rule_id", def.Rule.ID,
			"error", err,
		)
		metrics.DefinitionsEvaluated.WithLabelValues(metrics.OutcomeSkipped).Inc()
		result.Skipped = true
		result.Error = err.Error()
		result.DurationMillis = time.Since(start).Milliseconds()
		return result
	}

	filter := rule.QueryFilter(time.Now().UTC(), s.cfg.DefaultLookbackDays)
	txs, err := s.repo.QueryTransactions(ctx, projectID, filter)
	if err != nil {
		return s.failResult(result, start, projectID, def, fmt.Errorf("query failed: %w", err))
	}

	rows, err := rules.Aggregate(rule, txs)
	if err != nil {
		return s.failResult(result, start, projectID, def, fmt.Errorf("aggregation failed: %w", err))
	}
	result.Subjects = len(rows)

	for _, row := range rows {
		hit := rules.Evaluate(rule, row)
		if hit == nil {
			continue
		}
		result.Hits++

		created, err := s.dispatch(ctx, projectID, def, hit)
		if err != nil {
			slog.Error("failed to create alert",
				"project_id", projectID,
				"definition_id", def.ID,
				"counterparty_id", hit.CounterpartyID,
				"error", err,
			)
			continue
		}
		if created {
			result.AlertsCreated++
		} else {
			result.Deduplicated++
			metrics.AlertsDeduplicated.Inc()
		}
	}

	if result.Hits > 0 {
		metrics.DefinitionsEvaluated.WithLabelValues(metrics.OutcomeHit).Inc()
	} else {
		metrics.DefinitionsEvaluated.WithLabelValues(metrics.OutcomeMiss).Inc()
	}
	result.DurationMillis = time.Since(start).Milliseconds()
	return result
}

func (s *Sweeper) failResult(result DefinitionResult, start time.Time, projectID string, def *domain.AlertDefinition, err error) DefinitionResult {
	slog.Error("definition evaluation failed",
		"project_id", projectID,
		"definition_id", def.ID,
		"rule_id", def.Rule.ID,
		"error", err,
	)
	metrics.DefinitionsEvaluated.WithLabelValues(metrics.OutcomeFailed).Inc()
	result.Error = err.Error()
	result.DurationMillis = time.Since(start).Milliseconds()
	return result
}

// dispatch persists a hit as an alert unless an open alert for the
// same subject exists, then publishes the created-alert event.
func (s *Sweeper) dispatch(ctx context.Context, projectID string, def *domain.AlertDefinition, hit *rules.Hit) (bool, error) {
	now := time.Now().UTC()
	details := hit.Details
	alert := &domain.Alert{
		ID:                uuid.New().String(),
		ProjectID:         projectID,
		AlertDefinitionID: def.ID,
		CounterpartyID:    hit.CounterpartyID,
		BusinessID:        hit.BusinessID,
		Severity:          hit.Severity,
		Status:            domain.AlertStatusNew,
		ExecutionDetails:  &details,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.repo.CreateAlertIfAbsent(ctx, projectID, alert)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()

	if s.bus != nil {
		payload, err := json.Marshal(alert)
		if err == nil {
			if err := s.bus.Publish(ctx, projectID, domain.TopicAlertCreated, payload); err != nil {
				slog.Warn("failed to publish alert event",
					"project_id", projectID,
					"alert_id", alert.ID,
					"error", err,
				)
			}
		}
	}

	return true, nil
}

func (s *Sweeper) publishSweepCompleted(ctx context.Context, report *SweepReport) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.GlobalProjectID, domain.TopicSweepCompleted, payload); err != nil &&
		!errors.Is(err, context.Canceled) {
		slog.Warn("failed to publish sweep event", "error", err)
	}
}
