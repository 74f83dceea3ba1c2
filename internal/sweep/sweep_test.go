package sweep

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-sweep-*.db")
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

func newTestSweeper(t *testing.T, repo domain.Repository) *Sweeper {
	t.Helper()
	return NewSweeper(repo, cache.NewLRUCache(100), bus.NewChannelBus(100), domain.SweepConfig{
		MaxWorkers:          4,
		DefaultLookbackDays: 7,
		DefinitionCacheTTL:  1,
	})
}

func seedDefinition(t *testing.T, repo domain.Repository, projectID string, def *domain.AlertDefinition) {
	t.Helper()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.ProjectID = projectID
	def.Category = domain.CategoryTransactionMonitoring
	def.Enabled = true
	if err := repo.SaveAlertDefinition(context.Background(), projectID, def); err != nil {
		t.Fatalf("failed to seed definition: %v", err)
	}
}

func seedInbound(t *testing.T, repo domain.Repository, projectID, counterpartyID string, n int, amount float64) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		tx := &domain.TransactionRecord{
			ID:                        uuid.New().String(),
			Date:                      now.Add(-time.Duration(i+1) * time.Hour),
			Amount:                    amount,
			Currency:                  "USD",
			BaseAmount:                amount,
			BaseCurrency:              "USD",
			Direction:                 domain.DirectionInbound,
			PaymentMethod:             domain.PaymentMethodCreditCard,
			Type:                      domain.RecordTypePayment,
			CounterpartyBeneficiaryID: counterpartyID,
			CreatedAt:                 now,
		}
		if err := repo.SaveTransaction(context.Background(), projectID, tx); err != nil {
			t.Fatalf("failed to seed transaction: %v", err)
		}
	}
}

func TestSweepStructuring(t *testing.T) {
	repo := newTestRepo(t)
	sweeper := newTestSweeper(t, repo)
	ctx := context.Background()
	projectID := "project-001"

	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "STRUC_CC",
		Rule: domain.InlineRule{
			ID:       "STRUC_CC",
			Strategy: domain.StrategyAmountRangeCount,
			Options: domain.RuleOptions{
				Direction:      domain.DirectionInbound,
				PaymentMethods: []domain.PaymentMethod{domain.PaymentMethodCreditCard},
				AmountBetween:  &domain.AmountRange{Min: 500, Max: 1000},
				CountThreshold: 5,
			},
		},
		DefaultSeverity: domain.SeverityMedium,
	})

	// cp-hot: 4 transactions of 600 plus one at exactly 500; the
	// minimum is inclusive, so all 5 land in [500, 1000) -> fires.
	// cp-ceiling: 4 transactions of 600 plus one at exactly 1000; the
	// maximum is exclusive, so only 4 count -> must not fire.
	// cp-cold: 4 transactions -> below the count threshold.
	// cp-cheap: 6 transactions of 100 -> outside the range.
	seedInbound(t, repo, projectID, "cp-hot", 4, 600)
	seedInbound(t, repo, projectID, "cp-hot", 1, 500)
	seedInbound(t, repo, projectID, "cp-ceiling", 4, 600)
	seedInbound(t, repo, projectID, "cp-ceiling", 1, 1000)
	seedInbound(t, repo, projectID, "cp-cold", 4, 600)
	seedInbound(t, repo, projectID, "cp-cheap", 6, 100)

	report, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts failed: %v", err)
	}
	if report.AlertsCreated != 1 {
		t.Fatalf("expected 1 alert, got %d (report %+v)", report.AlertsCreated, report)
	}

	alerts, err := repo.FindAlerts(ctx, projectID, domain.AlertFilter{OpenOnly: true})
	if err != nil {
		t.Fatalf("FindAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.CounterpartyID != "cp-hot" {
		t.Errorf("expected counterparty cp-hot, got %s", alert.CounterpartyID)
	}
	if alert.Severity != domain.SeverityMedium || alert.Status != domain.AlertStatusNew {
		t.Errorf("unexpected severity/status: %s/%s", alert.Severity, alert.Status)
	}
	if alert.ExecutionDetails == nil {
		t.Fatal("expected execution details")
	}
	if alert.ExecutionDetails.ExecutionRow.TransactionCount != "5" {
		t.Errorf("expected transactionCount \"5\", got %q", alert.ExecutionDetails.ExecutionRow.TransactionCount)
	}
	if alert.ExecutionDetails.ExecutionRow.TotalAmount != 2900 {
		t.Errorf("expected totalAmount 2900, got %v", alert.ExecutionDetails.ExecutionRow.TotalAmount)
	}
}

func TestSweepIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	sweeper := newTestSweeper(t, repo)
	ctx := context.Background()
	projectID := "project-001"

	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "PAY_HCA_CC",
		Rule: domain.InlineRule{
			ID:       "PAY_HCA_CC",
			Strategy: domain.StrategyCountThreshold,
			Options: domain.RuleOptions{
				Direction:      domain.DirectionInbound,
				CountThreshold: 3,
			},
		},
		DefaultSeverity: domain.SeverityMedium,
	})
	seedInbound(t, repo, projectID, "cp-1", 3, 250)

	first, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if first.AlertsCreated != 1 {
		t.Fatalf("expected 1 alert from the first sweep, got %d", first.AlertsCreated)
	}

	// The hit recurs but the open alert suppresses a duplicate.
	second, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second.AlertsCreated != 0 {
		t.Errorf("expected no new alerts, got %d", second.AlertsCreated)
	}
	if second.Deduplicated != 1 {
		t.Errorf("expected 1 deduplicated hit, got %d", second.Deduplicated)
	}

	alerts, err := repo.FindAlerts(ctx, projectID, domain.AlertFilter{})
	if err != nil {
		t.Fatalf("FindAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert after two sweeps, got %d", len(alerts))
	}

	// After a decision the subject can fire again.
	if _, err := repo.UpdateAlertsDecision(ctx, projectID, []string{alerts[0].ID}, domain.DecisionCleared); err != nil {
		t.Fatalf("UpdateAlertsDecision failed: %v", err)
	}

	third, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("third sweep failed: %v", err)
	}
	if third.AlertsCreated != 1 {
		t.Errorf("expected a fresh alert after the decision, got %d", third.AlertsCreated)
	}
}

func TestSweepSkipsInvalidDefinition(t *testing.T) {
	repo := newTestRepo(t)
	sweeper := newTestSweeper(t, repo)
	ctx := context.Background()
	projectID := "project-001"

	// Broken: count threshold missing.
	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "BROKEN",
		Rule: domain.InlineRule{
			ID:       "BROKEN",
			Strategy: domain.StrategyCountThreshold,
		},
		DefaultSeverity: domain.SeverityLow,
	})
	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "VALID",
		Rule: domain.InlineRule{
			ID:       "VALID",
			Strategy: domain.StrategyCountThreshold,
			Options:  domain.RuleOptions{CountThreshold: 2},
		},
		DefaultSeverity: domain.SeverityLow,
	})
	seedInbound(t, repo, projectID, "cp-1", 2, 100)

	report, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts failed: %v", err)
	}

	var skipped, created int
	for _, result := range report.Definitions {
		if result.Skipped {
			skipped++
		}
		created += result.AlertsCreated
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped definition, got %d", skipped)
	}
	if created != 1 {
		t.Errorf("expected the valid definition to still fire, got %d alerts", created)
	}
}

// listFailRepo simulates a store outage on the definition listing while
// project discovery still works.
type listFailRepo struct {
	domain.Repository
}

func (r listFailRepo) ListAlertDefinitions(ctx context.Context, projectID string, category domain.DefinitionCategory) ([]*domain.AlertDefinition, error) {
	return nil, errors.New("connection refused")
}

func TestSweepDefinitionListFailureAborts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	projectID := "project-001"

	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "STRUC",
		Rule: domain.InlineRule{
			ID:       "STRUC",
			Strategy: domain.StrategyCountThreshold,
			Options:  domain.RuleOptions{CountThreshold: 2},
		},
		DefaultSeverity: domain.SeverityLow,
	})

	sweeper := NewSweeper(listFailRepo{repo}, nil, bus.NewChannelBus(100), domain.SweepConfig{
		MaxWorkers:          4,
		DefaultLookbackDays: 7,
	})

	report, err := sweeper.CheckAllAlerts(ctx)
	if err == nil {
		t.Fatal("expected the sweep to fail when listing definitions fails")
	}
	if report != nil {
		t.Errorf("expected no report on store failure, got %+v", report)
	}
}

func TestSweepSumThresholdDetails(t *testing.T) {
	repo := newTestRepo(t)
	sweeper := newTestSweeper(t, repo)
	ctx := context.Background()
	projectID := "project-001"

	seedDefinition(t, repo, projectID, &domain.AlertDefinition{
		Name: "SHCAR_C",
		Rule: domain.InlineRule{
			ID:       "SHCAR_C",
			Strategy: domain.StrategySumThreshold,
			Options: domain.RuleOptions{
				TransactionType: domain.RecordTypeRefund,
				GroupBy:         domain.SubjectOriginator,
				SumThreshold:    5000,
			},
		},
		DefaultSeverity: domain.SeverityMedium,
	})

	now := time.Now().UTC()
	for i := 0; i < 11; i++ {
		tx := &domain.TransactionRecord{
			ID:                       uuid.New().String(),
			Date:                     now.Add(-time.Duration(i+1) * time.Hour),
			Amount:                   1000,
			Currency:                 "USD",
			BaseAmount:               1000,
			BaseCurrency:             "USD",
			Direction:                domain.DirectionOutbound,
			PaymentMethod:            domain.PaymentMethodCreditCard,
			Type:                     domain.RecordTypeRefund,
			CounterpartyOriginatorID: "cp-refunds",
			CreatedAt:                now,
		}
		if err := repo.SaveTransaction(ctx, projectID, tx); err != nil {
			t.Fatalf("failed to seed transaction: %v", err)
		}
	}

	report, err := sweeper.CheckAllAlerts(ctx)
	if err != nil {
		t.Fatalf("CheckAllAlerts failed: %v", err)
	}
	if report.AlertsCreated != 1 {
		t.Fatalf("expected 1 alert, got %d", report.AlertsCreated)
	}

	alerts, err := repo.FindAlerts(ctx, projectID, domain.AlertFilter{})
	if err != nil {
		t.Fatalf("FindAlerts failed: %v", err)
	}
	row := alerts[0].ExecutionDetails.ExecutionRow
	if row.TransactionCount != "11" {
		t.Errorf("expected transactionCount \"11\", got %q", row.TransactionCount)
	}
	if row.TotalAmount != 11000 {
		t.Errorf("expected totalAmount 11000, got %v", row.TotalAmount)
	}
}
