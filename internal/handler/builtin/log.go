// Package builtin supplies the reference task handler catalog: small,
// self-contained TaskHandler implementations operating on plain
// map[string]any input/output.
package builtin

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// LogHandler formats config["message"] as a text/template against input_data
// and returns {logged_message, level}, grounded on pkg/nodes/log/log.go.
type LogHandler struct{}

func (LogHandler) TaskType() string { return "log" }

func (LogHandler) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	rendered := message
	if tmpl, err := template.New("log_message").Parse(message); err == nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, map[string]any{"input": map[string]any(input)}); err == nil {
			rendered = buf.String()
		}
	}

	return model.JSONMap{
		"logged_message": rendered,
		"level":          level,
	}, nil
}
