package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// filterEnv is the shared CEL environment for per-transaction filter
// expressions. Built once; cel.Env is safe for concurrent use.
var filterEnv = mustFilterEnv()

func mustFilterEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("base_amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("base_currency", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: failed to create CEL environment: %v", err))
	}
	return env
}

// compileFilter compiles an optional transaction filter expression.
// The expression must evaluate to bool.
func compileFilter(expr string) (cel.Program, error) {
	ast, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %s", ast.OutputType())
	}

	program, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return program, nil
}

// matchFilter evaluates a compiled filter against one transaction.
func matchFilter(program cel.Program, tx *domain.TransactionRecord) (bool, error) {
	activation := map[string]any{
		"tx": map[string]any{
			"id":                          tx.ID,
			"amount":                      tx.Amount,
			"base_amount":                 tx.BaseAmount,
			"currency":                    tx.Currency,
			"base_currency":               tx.BaseCurrency,
			"direction":                   string(tx.Direction),
			"payment_method":              string(tx.PaymentMethod),
			"type":                        string(tx.Type),
			"counterparty_originator_id":  tx.CounterpartyOriginatorID,
			"counterparty_beneficiary_id": tx.CounterpartyBeneficiaryID,
		},
		"amount":         tx.Amount,
		"base_amount":    tx.BaseAmount,
		"currency":       tx.Currency,
		"base_currency":  tx.BaseCurrency,
		"direction":      string(tx.Direction),
		"payment_method": string(tx.PaymentMethod),
		"tx_type":        string(tx.Type),
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("filter evaluation: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("filter returned non-bool value %v", out)
	}
	return bool(b), nil
}
