package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// ConditionalHandler evaluates a simple comparison of one input_data field
// against a literal and returns {matched: bool}, grounded on
// pkg/nodes/if_node/if.go (narrowed from a full CEL condition string to the
// single {field, operator, value} shape the spec's opaque-config handler
// interface makes practical without a CEL dependency).
//
// config = {field: string, operator: "eq"|"ne"|"gt"|"lt"|"gte"|"lte", value: any}
type ConditionalHandler struct{}

func (ConditionalHandler) TaskType() string { return "conditional" }

func (ConditionalHandler) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	field, _ := config["field"].(string)
	operator, _ := config["operator"].(string)
	if operator == "" {
		operator = "eq"
	}
	expected := config["value"]
	actual := input[field]

	matched, err := compare(actual, expected, operator)
	if err != nil {
		return nil, fmt.Errorf("conditional: %w", err)
	}
	return model.JSONMap{"matched": matched}, nil
}

func compare(actual, expected any, operator string) (bool, error) {
	if operator == "eq" {
		return actual == expected, nil
	}
	if operator == "ne" {
		return actual != expected, nil
	}

	a, aok := toFloat(actual)
	b, bok := toFloat(expected)
	if !aok || !bok {
		return false, fmt.Errorf("operator %q requires numeric operands", operator)
	}

	switch operator {
	case "gt":
		return a > b, nil
	case "lt":
		return a < b, nil
	case "gte":
		return a >= b, nil
	case "lte":
		return a <= b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
