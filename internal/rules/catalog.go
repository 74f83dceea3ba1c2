// Package rules implements the declarative rule catalog: option
// validation, transaction aggregation, and the per-strategy evaluators.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrInvalidRule marks definitions whose rule cannot be prepared.
// These are configuration errors: the sweep logs and skips them.
var ErrInvalidRule = errors.New("invalid rule")

// PreparedRule is a validated definition with its filter expression
// compiled, ready for aggregation and evaluation.
type PreparedRule struct {
	Definition *domain.AlertDefinition

	filter cel.Program // nil when the rule has no filter expression
}

// Prepare validates a definition's rule and compiles its optional
// filter expression. It returns ErrInvalidRule-wrapped errors for
// unknown strategies and malformed options.
func Prepare(def *domain.AlertDefinition) (*PreparedRule, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", ErrInvalidRule)
	}

	opts := def.Rule.Options

	switch def.Rule.Strategy {
	case domain.StrategyCountThreshold:
		if opts.CountThreshold <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive countThreshold", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategyAmountRangeCount:
		if opts.AmountBetween == nil {
			return nil, fmt.Errorf("%w: %s requires amountBetween", ErrInvalidRule, def.Rule.ID)
		}
		if opts.AmountBetween.Max <= opts.AmountBetween.Min {
			return nil, fmt.Errorf("%w: %s amountBetween max must exceed min", ErrInvalidRule, def.Rule.ID)
		}
		if opts.CountThreshold <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive countThreshold", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategySumThreshold:
		if opts.SumThreshold <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive sumThreshold", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategyRatio:
		if opts.TransactionType == "" {
			return nil, fmt.Errorf("%w: %s requires a numerator transactionType", ErrInvalidRule, def.Rule.ID)
		}
		if opts.MinimumCount <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive minimumCount", ErrInvalidRule, def.Rule.ID)
		}
		if opts.RatioThreshold <= 0 || opts.RatioThreshold > 100 {
			return nil, fmt.Errorf("%w: %s ratioThreshold must be in (0, 100]", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategyOutlierAverage:
		if opts.MinimumCount <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive minimumCount", ErrInvalidRule, def.Rule.ID)
		}
		if opts.AmountFloor < 0 {
			return nil, fmt.Errorf("%w: %s amountFloor must not be negative", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategyRiskIncrease:
		if opts.RiskScoreDelta <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive riskScoreDelta", ErrInvalidRule, def.Rule.ID)
		}
	case domain.StrategyRiskThreshold:
		if opts.MaxRiskScoreThreshold <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive maxRiskScoreThreshold", ErrInvalidRule, def.Rule.ID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q for rule %s", ErrInvalidRule, def.Rule.Strategy, def.Rule.ID)
	}

	prepared := &PreparedRule{Definition: def}

	if expr := opts.FilterExpression; expr != "" {
		program, err := compileFilter(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, def.Rule.ID, err)
		}
		prepared.filter = program
	}

	return prepared, nil
}

// SubjectSide resolves which counterparty side the grouping key uses.
// Explicit groupBy wins; otherwise outbound rules attribute to the
// originator and everything else to the beneficiary.
func (r *PreparedRule) SubjectSide() domain.SubjectSide {
	opts := r.Definition.Rule.Options
	if opts.GroupBy != "" {
		return opts.GroupBy
	}
	if opts.Direction == domain.DirectionOutbound {
		return domain.SubjectOriginator
	}
	return domain.SubjectBeneficiary
}

// QueryFilter builds the transaction store filter for this rule.
// Ratio rules deliberately omit the type filter: the denominator spans
// all transaction types over the same key and window.
func (r *PreparedRule) QueryFilter(now time.Time, defaultLookbackDays int) domain.TransactionFilter {
	opts := r.Definition.Rule.Options

	days := opts.TimeWindowDays
	if days <= 0 {
		days = defaultLookbackDays
	}

	filter := domain.TransactionFilter{
		Direction:             opts.Direction,
		PaymentMethods:        opts.PaymentMethods,
		ExcludePaymentMethods: opts.ExcludePaymentMethods,
		Since:                 now.AddDate(0, 0, -days),
	}

	if opts.TransactionType != "" && r.Definition.Rule.Strategy != domain.StrategyRatio {
		filter.Types = []domain.TransactionRecordType{opts.TransactionType}
	}

	if opts.AmountBetween != nil {
		min, max := opts.AmountBetween.Min, opts.AmountBetween.Max
		filter.MinAmount = &min
		filter.MaxAmount = &max
	}

	return filter
}

// matches applies the optional CEL filter to one transaction.
// Transactions failing evaluation are excluded; the error surfaces so
// the sweep can report it without aborting the definition.
func (r *PreparedRule) matches(tx *domain.TransactionRecord) (bool, error) {
	if r.filter == nil {
		return true, nil
	}
	return matchFilter(r.filter, tx)
}
