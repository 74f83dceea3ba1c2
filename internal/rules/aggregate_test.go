package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func inboundTx(counterpartyID string, amount float64, method domain.PaymentMethod) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:                        "tx-" + counterpartyID,
		ProjectID:                 "project-1",
		Date:                      time.Now(),
		Amount:                    amount,
		Currency:                  "USD",
		BaseAmount:                amount,
		BaseCurrency:              "USD",
		Direction:                 domain.DirectionInbound,
		PaymentMethod:             method,
		Type:                      domain.RecordTypePayment,
		CounterpartyBeneficiaryID: counterpartyID,
	}
}

func typedTx(counterpartyID string, amount float64, txType domain.TransactionRecordType) *domain.TransactionRecord {
	tx := inboundTx(counterpartyID, amount, domain.PaymentMethodCreditCard)
	tx.Type = txType
	tx.CounterpartyBeneficiaryID = ""
	tx.CounterpartyOriginatorID = counterpartyID
	return tx
}

func TestAggregateGroupsBySubject(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyCountThreshold, domain.RuleOptions{
		Direction:      domain.DirectionInbound,
		CountThreshold: 5,
	})

	txs := []*domain.TransactionRecord{
		inboundTx("cp-a", 100, domain.PaymentMethodCreditCard),
		inboundTx("cp-a", 200, domain.PaymentMethodCreditCard),
		inboundTx("cp-b", 300, domain.PaymentMethodCreditCard),
	}

	rows, err := Aggregate(rule, txs)
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// Rows are sorted by subject key.
	if rows[0].CounterpartyID != "cp-a" || rows[0].TransactionCount != 2 || rows[0].TotalAmount != 300 {
		t.Errorf("unexpected cp-a row: %+v", rows[0])
	}
	if rows[0].AverageAmount != 150 || rows[0].MaxAmount != 200 {
		t.Errorf("unexpected cp-a stats: avg=%v max=%v", rows[0].AverageAmount, rows[0].MaxAmount)
	}
	if rows[1].CounterpartyID != "cp-b" || rows[1].TransactionCount != 1 {
		t.Errorf("unexpected cp-b row: %+v", rows[1])
	}
}

func TestAggregateSkipsAnonymousTransactions(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyCountThreshold, domain.RuleOptions{CountThreshold: 1})

	anonymous := inboundTx("", 100, domain.PaymentMethodCreditCard)
	rows, err := Aggregate(rule, []*domain.TransactionRecord{anonymous})
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for transactions with no subject, got %d", len(rows))
	}
}

func TestAggregateRatioDenominatorSpansAllTypes(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyRatio, domain.RuleOptions{
		TransactionType: domain.RecordTypeChargeback,
		GroupBy:         domain.SubjectOriginator,
		MinimumCount:    3,
		RatioThreshold:  50,
	})

	txs := []*domain.TransactionRecord{
		typedTx("cp-m", 100, domain.RecordTypeChargeback),
		typedTx("cp-m", 100, domain.RecordTypeChargeback),
		typedTx("cp-m", 100, domain.RecordTypeChargeback),
		typedTx("cp-m", 50, domain.RecordTypePayment),
		typedTx("cp-m", 50, domain.RecordTypePayment),
		typedTx("cp-m", 50, domain.RecordTypePayment),
	}

	rows, err := Aggregate(rule, txs)
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.TransactionCount != 6 {
		t.Errorf("expected denominator 6, got %d", row.TransactionCount)
	}
	if row.NumeratorCount != 3 {
		t.Errorf("expected numerator 3, got %d", row.NumeratorCount)
	}
	// Total and average track the numerator type only.
	if row.TotalAmount != 300 || row.AverageAmount != 100 {
		t.Errorf("unexpected numerator totals: total=%v avg=%v", row.TotalAmount, row.AverageAmount)
	}

	hit := Evaluate(rule, row)
	if hit == nil {
		t.Fatal("expected 3/6 to fire at a 50% threshold")
	}
	if hit.Details.ExecutionRow.Ratio != 50 {
		t.Errorf("expected ratio 50, got %v", hit.Details.ExecutionRow.Ratio)
	}
}

func TestAggregateOutlierIgnoresAmountsBelowFloor(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyOutlierAverage, domain.RuleOptions{
		MinimumCount: 2,
		AmountFloor:  100,
	})

	txs := []*domain.TransactionRecord{
		inboundTx("cp-o", 50, domain.PaymentMethodCreditCard),  // below floor
		inboundTx("cp-o", 100, domain.PaymentMethodCreditCard), // at floor: excluded
		inboundTx("cp-o", 200, domain.PaymentMethodCreditCard),
		inboundTx("cp-o", 300, domain.PaymentMethodCreditCard),
		inboundTx("cp-o", 900, domain.PaymentMethodCreditCard),
	}

	rows, err := Aggregate(rule, txs)
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.TransactionCount != 3 {
		t.Errorf("expected 3 transactions above the floor, got %d", row.TransactionCount)
	}
	if row.MaxAmount != 900 {
		t.Errorf("expected max 900, got %v", row.MaxAmount)
	}

	if hit := Evaluate(rule, row); hit == nil {
		t.Error("expected the 900 outlier to fire")
	}
}

func TestAggregateAppliesFilterExpression(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyCountThreshold, domain.RuleOptions{
		CountThreshold:   1,
		FilterExpression: `base_amount >= 500.0 && payment_method == "credit_card"`,
	})

	txs := []*domain.TransactionRecord{
		inboundTx("cp-f", 600, domain.PaymentMethodCreditCard),
		inboundTx("cp-f", 600, domain.PaymentMethodPayPal),
		inboundTx("cp-f", 100, domain.PaymentMethodCreditCard),
	}

	rows, err := Aggregate(rule, txs)
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 1 || rows[0].TransactionCount != 1 {
		t.Fatalf("expected a single matching transaction, got %+v", rows)
	}
}

func TestAggregateTracksEarliestTransaction(t *testing.T) {
	rule := mustPrepare(t, domain.StrategyCountThreshold, domain.RuleOptions{CountThreshold: 1})

	older := inboundTx("cp-t", 100, domain.PaymentMethodCreditCard)
	older.ID = "tx-older"
	older.Date = time.Now().Add(-48 * time.Hour)

	newer := inboundTx("cp-t", 200, domain.PaymentMethodCreditCard)
	newer.ID = "tx-newer"

	rows, err := Aggregate(rule, []*domain.TransactionRecord{newer, older})
	if err != nil {
		t.Fatalf("aggregation failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].First == nil || rows[0].First.ID != "tx-older" {
		t.Errorf("expected the earliest transaction to be tracked, got %+v", rows[0].First)
	}
}
