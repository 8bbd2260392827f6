package builtin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/model"
)

func TestConditionalHandler_Equality(t *testing.T) {
	h := builtin.ConditionalHandler{}
	out, err := h.Execute(context.Background(),
		model.JSONMap{"field": "status", "operator": "eq", "value": "paid"},
		model.JSONMap{"status": "paid"},
		0,
	)
	require.NoError(t, err)
	require.Equal(t, true, out["matched"])
}

func TestConditionalHandler_NumericComparisons(t *testing.T) {
	h := builtin.ConditionalHandler{}
	cases := []struct {
		operator string
		value    float64
		actual   float64
		want     bool
	}{
		{"gt", 10, 20, true},
		{"gt", 10, 5, false},
		{"lt", 10, 5, true},
		{"gte", 10, 10, true},
		{"lte", 10, 10, true},
	}
	for _, tc := range cases {
		out, err := h.Execute(context.Background(),
			model.JSONMap{"field": "n", "operator": tc.operator, "value": tc.value},
			model.JSONMap{"n": tc.actual},
			0,
		)
		require.NoError(t, err)
		require.Equal(t, tc.want, out["matched"], "operator=%s", tc.operator)
	}
}

func TestConditionalHandler_NonNumericOperandRejectedForOrderingOperator(t *testing.T) {
	h := builtin.ConditionalHandler{}
	_, err := h.Execute(context.Background(),
		model.JSONMap{"field": "status", "operator": "gt", "value": "paid"},
		model.JSONMap{"status": "paid"},
		0,
	)
	require.Error(t, err)
}

func TestConditionalHandler_DefaultsToEq(t *testing.T) {
	h := builtin.ConditionalHandler{}
	out, err := h.Execute(context.Background(),
		model.JSONMap{"field": "status", "value": "paid"},
		model.JSONMap{"status": "unpaid"},
		0,
	)
	require.NoError(t, err)
	require.Equal(t, false, out["matched"])
}
