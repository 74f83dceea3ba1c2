// Package worker provides async ingestion for the Pro tier: it consumes
// transaction and report events from the EventBus and persists them,
// running the ongoing-monitoring check when a report arrives.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
)

// Worker ingests messages asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	resolver *monitoring.Resolver

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// ProjectIDs is the list of projects to process (empty = all via the
	// global subscription).
	ProjectIDs []string
}

// NewWorker creates a new async worker. The resolver is optional; when
// nil, report ingestion skips the monitoring check.
func NewWorker(bus domain.EventBus, repo domain.Repository, resolver *monitoring.Resolver) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		resolver: resolver,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given projects.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.ProjectIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, projectID := range cfg.ProjectIDs {
		if err := w.startProjectWorker(projectID); err != nil {
			slog.Error("failed to start worker for project",
				"project_id", projectID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"project_count", len(cfg.ProjectIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that receives every project's
// events through the cross-project subscription.
func (w *Worker) startGlobalWorker() error {
	txSub, err := w.bus.Subscribe(w.ctx, domain.GlobalProjectID, domain.TopicTransactionIngested, w.handleTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, txSub)

	reportSub, err := w.bus.Subscribe(w.ctx, domain.GlobalProjectID, domain.TopicReportIngested, w.handleReport)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, reportSub)

	slog.Info("global worker started")
	return nil
}

// startProjectWorker starts workers for a specific project.
func (w *Worker) startProjectWorker(projectID string) error {
	txSub, err := w.bus.Subscribe(w.ctx, projectID, domain.TopicTransactionIngested, w.handleTransaction)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, txSub)

	reportSub, err := w.bus.Subscribe(w.ctx, projectID, domain.TopicReportIngested, w.handleReport)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, reportSub)

	slog.Info("project worker started",
		"project_id", projectID,
		"topics", []string{domain.TopicTransactionIngested, domain.TopicReportIngested},
	)

	return nil
}

// handleTransaction persists an ingested transaction record.
func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.TransactionRecord
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	projectID := msg.ProjectID
	if tx.ProjectID != "" {
		projectID = tx.ProjectID
	}
	tx.ProjectID = projectID
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}

	if err := w.repo.SaveTransaction(ctx, projectID, &tx); err != nil {
		slog.Error("failed to save transaction",
			"tx_id", tx.ID,
			"project_id", projectID,
			"error", err,
		)
		return err
	}

	slog.Debug("transaction ingested",
		"tx_id", tx.ID,
		"project_id", projectID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// ReportMessage is the payload for report ingestion. It carries the
// report plus the optional business snapshot that arrived with it.
type ReportMessage struct {
	Report   domain.BusinessReport `json:"report"`
	Business *domain.Business      `json:"business,omitempty"`
}

// handleReport persists an ingested business report and runs the
// ongoing-monitoring check against it.
func (w *Worker) handleReport(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var reportMsg ReportMessage
	if err := json.Unmarshal(msg.Payload, &reportMsg); err != nil {
		slog.Error("failed to parse report message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	report := reportMsg.Report
	projectID := msg.ProjectID
	if report.ProjectID != "" {
		projectID = report.ProjectID
	}
	report.ProjectID = projectID
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	companyName := ""
	if reportMsg.Business != nil {
		business := reportMsg.Business
		business.ProjectID = projectID
		companyName = business.CompanyName
		if err := w.repo.SaveBusiness(ctx, projectID, business); err != nil {
			slog.Error("failed to save business",
				"business_id", business.ID,
				"project_id", projectID,
				"error", err,
			)
		}
	}

	if err := w.repo.SaveBusinessReport(ctx, projectID, &report); err != nil {
		slog.Error("failed to save business report",
			"report_id", report.ReportID,
			"project_id", projectID,
			"error", err,
		)
		return err
	}

	if w.resolver != nil {
		params := domain.MonitoringCheckParams{
			ProjectID:        projectID,
			BusinessID:       report.BusinessID,
			ReportID:         report.ReportID,
			BusinessReportID: report.ID,
		}
		alert, err := w.resolver.CheckOngoingMonitoringAlert(ctx, params, companyName)
		if err != nil {
			slog.Error("monitoring check failed",
				"report_id", report.ReportID,
				"project_id", projectID,
				"error", err,
			)
		} else if alert != nil {
			slog.Info("monitoring alert raised",
				"alert_id", alert.ID,
				"business_id", report.BusinessID,
				"severity", alert.Severity,
			)
		}
	}

	slog.Debug("report ingested",
		"report_id", report.ReportID,
		"project_id", projectID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
