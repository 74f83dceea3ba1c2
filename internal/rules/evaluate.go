package rules

import (
	"strconv"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Hit is a rule firing for one subject. It carries everything the
// dispatcher needs to persist an alert; evaluation itself is pure and
// writes nothing.
type Hit struct {
	CounterpartyID string
	BusinessID     string
	Severity       domain.Severity
	Details        domain.ExecutionDetails
}

// Evaluate applies a prepared rule's comparison policy to one
// aggregation row. It returns nil when the rule does not fire.
//
// The comparison policy is asymmetric on purpose and boundary values
// matter: count thresholds are inclusive (>=), sum thresholds strict
// (>), amount ranges half-open [min, max), and the outlier comparison
// against the mean strict (>).
func Evaluate(rule *PreparedRule, row AggregationRow) *Hit {
	opts := rule.Definition.Rule.Options

	switch rule.Definition.Rule.Strategy {
	case domain.StrategyCountThreshold, domain.StrategyAmountRangeCount:
		if row.TransactionCount >= opts.CountThreshold {
			return newHit(rule, row)
		}

	case domain.StrategySumThreshold:
		if row.TotalAmount > opts.SumThreshold {
			return newHit(rule, row)
		}

	case domain.StrategyRatio:
		if row.NumeratorCount < opts.MinimumCount || row.TransactionCount == 0 {
			return nil
		}
		ratio := float64(row.NumeratorCount) / float64(row.TransactionCount) * 100
		if ratio >= opts.RatioThreshold {
			hit := newHit(rule, row)
			hit.Details.ExecutionRow.Ratio = ratio
			hit.Details.ExecutionRow.NumeratorCount = formatCount(row.NumeratorCount)
			hit.Details.ExecutionRow.DenominatorCount = formatCount(row.TransactionCount)
			return hit
		}

	case domain.StrategyOutlierAverage:
		// The row only contains transactions above the floor; the rule
		// needs strictly more than the minimum of them, and at least
		// one strictly above their mean.
		if row.TransactionCount > opts.MinimumCount && row.MaxAmount > row.AverageAmount {
			return newHit(rule, row)
		}
	}

	return nil
}

func newHit(rule *PreparedRule, row AggregationRow) *Hit {
	return &Hit{
		CounterpartyID: row.CounterpartyID,
		BusinessID:     row.BusinessID,
		Severity:       rule.Definition.DefaultSeverity,
		Details: domain.ExecutionDetails{
			ExecutionRow: domain.ExecutionRow{
				TransactionCount: formatCount(row.TransactionCount),
				TotalAmount:      row.TotalAmount,
				AverageAmount:    row.AverageAmount,
				MaxAmount:        row.MaxAmount,
			},
		},
	}
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
