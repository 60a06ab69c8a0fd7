// Package builtin provides the tool implementations bundled with the CLI:
// local logging, file writes and HTTP requests. Provider integrations
// (email, calendar, CRM) register through the same interface from their own
// packages.
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/tool"
	"github.com/runweave/runweave/pkg/diff"
	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// RegisterAll registers every builtin tool on the registry.
func RegisterAll(registry *tool.Registry, log *logger.Logger) error {
	for _, t := range []tool.Tool{
		&logTool{log: log},
		&fileWriteTool{},
		&httpRequestTool{client: &http.Client{Timeout: 30 * time.Second}},
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// logTool writes a structured message. Useful as a plan's observable no-op.
type logTool struct {
	log *logger.Logger
}

func (t *logTool) Name() string    { return "core.log" }
func (t *logTool) Risk() plan.Risk { return plan.RiskLow }
func (t *logTool) Apps() []string  { return nil }

func (t *logTool) Call(ctx context.Context, args map[string]any, rc run.Context) (any, error) {
	message, _ := args["message"].(string)
	if message == "" {
		return nil, runweaveerrors.NewToolError(t.Name(), "invalid_args", 0, fmt.Errorf("message is required"))
	}
	if t.log != nil {
		t.log.WithRun(rc.RunID, rc.TraceID).Info(message)
	}
	return map[string]any{"logged": message}, nil
}

// fileWriteTool writes content to a path. High risk: it mutates the
// filesystem, so approval mode gates it by default.
type fileWriteTool struct{}

func (t *fileWriteTool) Name() string    { return "fs.write" }
func (t *fileWriteTool) Risk() plan.Risk { return plan.RiskHigh }
func (t *fileWriteTool) Apps() []string  { return nil }

func (t *fileWriteTool) Call(ctx context.Context, args map[string]any, rc run.Context) (any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return nil, runweaveerrors.NewToolError(t.Name(), "invalid_args", 0, fmt.Errorf("path is required"))
	}

	previous, _ := os.ReadFile(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, runweaveerrors.NewToolError(t.Name(), "write_failed", 0, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, runweaveerrors.NewToolError(t.Name(), "write_failed", 0, err)
	}

	result := map[string]any{"path": path, "bytes": len(content)}
	if changes := diff.Unified(string(previous), content, path+" (before)", path+" (after)"); changes != "" {
		result["diff"] = changes
	}
	return result, nil
}

// Undo implements tool.Undoer: reversing a write means removing the file.
func (t *fileWriteTool) Undo(result any, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("no path recorded for write")
	}
	return map[string]any{"action": "remove", "path": path}, nil
}

// httpRequestTool performs an HTTP request against an external service.
type httpRequestTool struct {
	client *http.Client
}

func (t *httpRequestTool) Name() string    { return "http.request" }
func (t *httpRequestTool) Risk() plan.Risk { return plan.RiskLow }
func (t *httpRequestTool) Apps() []string  { return nil }

func (t *httpRequestTool) Call(ctx context.Context, args map[string]any, rc run.Context) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, runweaveerrors.NewToolError(t.Name(), "invalid_args", 0, fmt.Errorf("url is required"))
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	if payload, ok := args["body"].(string); ok && payload != "" {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, runweaveerrors.NewToolError(t.Name(), "invalid_args", 0, err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, runweaveerrors.NewToolError(t.Name(), "request_failed", 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, runweaveerrors.NewToolError(t.Name(), "read_failed", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		return nil, runweaveerrors.NewToolError(t.Name(), "http_error", resp.StatusCode,
			fmt.Errorf("%s %s returned %d", method, url, resp.StatusCode))
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(data),
	}, nil
}
