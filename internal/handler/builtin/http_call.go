package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mel-run/taskflow/internal/model"
)

// HTTPCallHandler issues an HTTP request per config (method, url, headers,
// body). The handler enforces step.timeout_seconds itself via the request
// context deadline, since the orchestrator does not pre-empt handlers.
type HTTPCallHandler struct {
	Client *http.Client
}

func (h HTTPCallHandler) TaskType() string { return "http_call" }

func (h HTTPCallHandler) Execute(ctx context.Context, config model.JSONMap, input model.JSONMap, timeout time.Duration) (model.JSONMap, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_call: config.url is required")
	}
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := config["body"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("http_call: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http_call: build request: %w", err)
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_call: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http_call: read response: %w", err)
	}

	out := model.JSONMap{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("http_call: unexpected status %d", resp.StatusCode)
	}
	return out, nil
}
