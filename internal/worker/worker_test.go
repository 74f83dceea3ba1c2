package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerIngestsTransactions(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, repo, nil)
	if err := w.Start(Config{ProjectIDs: []string{"project-001"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	tx := domain.TransactionRecord{
		ID:                        "tx-001",
		ProjectID:                 "project-001",
		Date:                      time.Now().UTC(),
		Direction:                 domain.DirectionInbound,
		PaymentMethod:             domain.PaymentMethodCreditCard,
		Type:                      domain.RecordTypePayment,
		BaseAmount:                250,
		BaseCurrency:              "USD",
		CounterpartyBeneficiaryID: "cp-1",
	}
	payload, _ := json.Marshal(tx)
	if err := eventBus.Publish(ctx, "project-001", domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		rows, err := repo.QueryTransactions(ctx, "project-001", domain.TransactionFilter{})
		return err == nil && len(rows) == 1
	})

	rows, err := repo.QueryTransactions(ctx, "project-001", domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if rows[0].ID != "tx-001" || rows[0].BaseAmount != 250 {
		t.Errorf("unexpected stored transaction: %+v", rows[0])
	}
}

func TestWorkerGlobalModeReceivesProjectEvents(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, repo, nil)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()
	tx := domain.TransactionRecord{
		ID:                        "tx-global",
		ProjectID:                 "project-007",
		Date:                      time.Now().UTC(),
		Direction:                 domain.DirectionInbound,
		PaymentMethod:             domain.PaymentMethodCreditCard,
		Type:                      domain.RecordTypePayment,
		BaseAmount:                100,
		BaseCurrency:              "USD",
		CounterpartyBeneficiaryID: "cp-1",
	}
	payload, _ := json.Marshal(tx)
	if err := eventBus.Publish(ctx, "project-007", domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		rows, err := repo.QueryTransactions(ctx, "project-007", domain.TransactionFilter{})
		return err == nil && len(rows) == 1
	})
}

func TestWorkerRedeliveryIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	projectID := "project-001"
	tx := domain.TransactionRecord{
		ID:                        "tx-dup",
		ProjectID:                 projectID,
		Date:                      time.Now().UTC(),
		Direction:                 domain.DirectionInbound,
		PaymentMethod:             domain.PaymentMethodCreditCard,
		Type:                      domain.RecordTypePayment,
		BaseAmount:                100,
		BaseCurrency:              "USD",
		CounterpartyBeneficiaryID: "cp-1",
	}
	// The API handler already persisted this record before publishing.
	if err := repo.SaveTransaction(ctx, projectID, &tx); err != nil {
		t.Fatalf("failed to seed transaction: %v", err)
	}

	w := NewWorker(eventBus, repo, nil)
	payload, _ := json.Marshal(tx)
	if err := w.handleTransaction(ctx, &domain.Message{
		ID:        "msg-1",
		ProjectID: projectID,
		Topic:     domain.TopicTransactionIngested,
		Payload:   payload,
	}); err != nil {
		t.Fatalf("redelivered transaction should be a no-op, got: %v", err)
	}

	rows, err := repo.QueryTransactions(ctx, projectID, domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly 1 stored transaction, got %d", len(rows))
	}
}

func TestWorkerIngestsReportAndRaisesAlert(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	ctx := context.Background()
	projectID := "project-001"
	for _, def := range rules.DefaultMonitoringDefinitions(projectID) {
		if err := repo.SaveAlertDefinition(ctx, projectID, def); err != nil {
			t.Fatalf("failed to seed definition: %v", err)
		}
	}

	resolver := monitoring.NewResolver(repo, nil)
	w := NewWorker(eventBus, repo, resolver)
	if err := w.Start(Config{ProjectIDs: []string{projectID}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	msg := ReportMessage{
		Report: domain.BusinessReport{
			ID:         "br-001",
			ProjectID:  projectID,
			BusinessID: "biz-1",
			ReportID:   "report-001",
			Type:       domain.ReportTypeOngoingMerchant,
			RiskScore:  60,
			Payload: domain.ReportPayload{
				Summary: domain.ReportSummary{RiskScore: 60},
				PreviousReport: &domain.PreviousReportSnapshot{
					Summary:    domain.ReportSummary{RiskScore: 10},
					ReportType: domain.ReportTypeOngoingMerchant,
				},
			},
		},
		Business: &domain.Business{
			ID:          "biz-1",
			CompanyName: "Acme Widgets Ltd",
		},
	}
	payload, _ := json.Marshal(msg)
	if err := eventBus.Publish(ctx, projectID, domain.TopicReportIngested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, func() bool {
		alerts, err := repo.FindAlerts(ctx, projectID, domain.AlertFilter{BusinessID: "biz-1"})
		return err == nil && len(alerts) == 1
	})

	alerts, err := repo.FindAlerts(ctx, projectID, domain.AlertFilter{BusinessID: "biz-1"})
	if err != nil {
		t.Fatalf("FindAlerts failed: %v", err)
	}
	alert := alerts[0]
	if alert.Severity != domain.SeverityMedium {
		t.Errorf("expected severity medium, got %s", alert.Severity)
	}
	if alert.AdditionalInfo["businessCompanyName"] != "Acme Widgets Ltd" {
		t.Errorf("unexpected company name: %v", alert.AdditionalInfo["businessCompanyName"])
	}

	report, err := repo.GetBusinessReport(ctx, projectID, "report-001")
	if err != nil {
		t.Fatalf("GetBusinessReport failed: %v", err)
	}
	if report.RiskScore != 60 {
		t.Errorf("unexpected stored risk score: %v", report.RiskScore)
	}
}

func TestWorkerStats(t *testing.T) {
	repo := newTestRepo(t)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, repo, nil)
	if err := w.Start(Config{ProjectIDs: []string{"project-001", "project-002"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 4 {
		t.Errorf("expected 4 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", w.GetStats().SubscriptionCount)
	}
}
