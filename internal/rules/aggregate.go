package rules

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// AggregationRow is the per-subject statistics a rule evaluates.
// First is the earliest matching transaction and resolves the subject's
// identity for alert attribution.
type AggregationRow struct {
	CounterpartyID string
	BusinessID     string

	TransactionCount int64
	TotalAmount      float64
	AverageAmount    float64
	MaxAmount        float64
	First            *domain.TransactionRecord

	// Ratio rules: NumeratorCount is the count of the configured
	// transaction type; TransactionCount is the denominator over all
	// types for the same key and window.
	NumeratorCount int64
}

// Aggregate groups the filtered transaction set by the rule's subject
// key and computes one row per distinct subject. It is a pure function
// of (rule, transactions); the store query has already applied the
// coarse filters from QueryFilter.
func Aggregate(rule *PreparedRule, txs []*domain.TransactionRecord) ([]AggregationRow, error) {
	side := rule.SubjectSide()
	opts := rule.Definition.Rule.Options
	strategy := rule.Definition.Rule.Strategy

	groups := make(map[string]*AggregationRow)
	var order []string

	for _, tx := range txs {
		ok, err := rule.matches(tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		counterpartyID, businessID := tx.Subject(side)
		if counterpartyID == "" && businessID == "" {
			continue
		}

		key := counterpartyID + "|" + businessID
		row, exists := groups[key]
		if !exists {
			row = &AggregationRow{
				CounterpartyID: counterpartyID,
				BusinessID:     businessID,
			}
			groups[key] = row
			order = append(order, key)
		}

		switch strategy {
		case domain.StrategyRatio:
			row.TransactionCount++
			if tx.Type == opts.TransactionType {
				row.NumeratorCount++
				row.TotalAmount += tx.BaseAmount
			}
			accumulateIdentity(row, tx)

		case domain.StrategyOutlierAverage:
			// Only transactions above the floor contribute.
			if tx.BaseAmount <= opts.AmountFloor {
				continue
			}
			accumulate(row, tx)

		default:
			accumulate(row, tx)
		}
	}

	rows := make([]AggregationRow, 0, len(order))
	for _, key := range order {
		row := groups[key]
		if row.TransactionCount > 0 {
			row.AverageAmount = row.TotalAmount / float64(row.TransactionCount)
		}
		if strategy == domain.StrategyRatio && row.NumeratorCount > 0 {
			row.AverageAmount = row.TotalAmount / float64(row.NumeratorCount)
		}
		rows = append(rows, *row)
	}

	// Deterministic output independent of map iteration.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CounterpartyID+"|"+rows[i].BusinessID < rows[j].CounterpartyID+"|"+rows[j].BusinessID
	})

	return rows, nil
}

func accumulate(row *AggregationRow, tx *domain.TransactionRecord) {
	row.TransactionCount++
	row.TotalAmount += tx.BaseAmount
	if tx.BaseAmount > row.MaxAmount {
		row.MaxAmount = tx.BaseAmount
	}
	accumulateIdentity(row, tx)
}

func accumulateIdentity(row *AggregationRow, tx *domain.TransactionRecord) {
	if row.First == nil || tx.Date.Before(row.First.Date) {
		row.First = tx
	}
}
