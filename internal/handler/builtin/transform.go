package builtin

import (
	"context"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// TransformHandler applies a declarative field mapping over input_data,
// grounded on pkg/nodes/transform/transform.go's template-based reshaping,
// narrowed to a plain source-field -> destination-field mapping since the
// spec's data model is an opaque JSON blob rather than a typed envelope.
//
// config["mapping"] is {dest_field: source_field}; any source_field absent
// from input_data is skipped. config["merge"] (default true) controls
// whether the mapped fields are merged into a copy of input_data or replace
// it entirely.
type TransformHandler struct{}

func (TransformHandler) TaskType() string { return "transform" }

func (TransformHandler) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	mapping, _ := config["mapping"].(map[string]any)

	mapped := model.JSONMap{}
	for dest, srcAny := range mapping {
		src, ok := srcAny.(string)
		if !ok {
			continue
		}
		if v, ok := input[src]; ok {
			mapped[dest] = v
		}
	}

	merge := true
	if m, ok := config["merge"].(bool); ok {
		merge = m
	}
	if merge {
		return input.Merge(mapped), nil
	}
	return mapped, nil
}
