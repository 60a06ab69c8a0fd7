package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/runstore/inmem"
	"github.com/runweave/runweave/internal/service"
	"github.com/runweave/runweave/internal/tool"
)

type stubTool struct {
	name string
	risk plan.Risk
}

func (s stubTool) Name() string    { return s.name }
func (s stubTool) Risk() plan.Risk { return s.risk }
func (s stubTool) Apps() []string  { return []string{"test"} }

func (s stubTool) Call(ctx context.Context, args map[string]any, rc run.Context) (any, error) {
	return "ok", nil
}

func newTestRouter(t *testing.T) *echo.Echo {
	t.Helper()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(stubTool{name: "email.send"}))
	require.NoError(t, registry.Register(stubTool{name: "crm.delete", risk: plan.RiskHigh}))
	registry.Freeze()

	svc, err := service.New(service.Config{
		Store:    inmem.New(),
		StepLogs: inmem.NewLogStore(),
		Registry: registry,
	})
	require.NoError(t, err)

	return New(svc, nil).Router()
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && json.Unmarshal(rec.Body.Bytes(), &decoded) != nil {
		decoded = nil
	}
	return rec, decoded
}

const simplePlanBody = `{
	"prompt": "send the update",
	"mode": "AUTO",
	"plan": {"steps": [{"id": "send", "tool": "email.send"}]}
}`

func TestStartRunEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", simplePlanBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "succeeded", body["status"])
	require.NotEmpty(t, body["runId"])
}

func TestStartRunRejectsBadPlan(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, _ := doJSON(t, e, http.MethodPost, "/v1/runs", `{
		"mode": "AUTO",
		"plan": {"steps": [{"id": "send", "tool": "email.send", "dependsOn": ["ghost"]}]}
	}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, _ := doJSON(t, e, http.MethodGet, "/v1/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnswersFlowOverHTTP(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", `{
		"mode": "AUTO",
		"plan": {
			"questions": [{"key": "dueDate", "prompt": "Due when?", "type": "date", "required": true}],
			"steps": [{"id": "send", "tool": "email.send", "args": {"due": "$var.dueDate"}}]
		}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "awaiting_input", body["status"])
	runID := body["runId"].(string)

	// Invalid answers come back as per-field errors, run stays paused.
	rec, errBody := doJSON(t, e, http.MethodPost, "/v1/runs/"+runID+"/answers", `{"answers": {"dueDate": "2025-13-40"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	message := errBody["message"].(map[string]any)
	require.Contains(t, message["fields"], "dueDate")

	rec, body = doJSON(t, e, http.MethodGet, "/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "awaiting_input", body["status"])

	// Valid answers resume the run.
	rec, body = doJSON(t, e, http.MethodPost, "/v1/runs/"+runID+"/answers", `{"answers": {"dueDate": "2026-09-15"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "succeeded", body["status"])
}

func TestQuestionWithoutRequiredFlagStillPausesRun(t *testing.T) {
	t.Parallel()

	// JSON plans omit "required" freely; the default must hold so the run
	// pauses instead of executing with an unresolved argument.
	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", `{
		"mode": "AUTO",
		"plan": {
			"questions": [{"key": "dueDate", "prompt": "Due when?", "type": "date"}],
			"steps": [{"id": "send", "tool": "email.send", "args": {"due": "$var.dueDate"}}]
		}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "awaiting_input", body["status"])
	runID := body["runId"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/events", nil)
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, req)

	var stream []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stream))
	for _, event := range stream {
		require.NotEqual(t, "tool.called", event["type"])
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", `{
		"mode": "APPROVAL",
		"plan": {"steps": [{"id": "purge", "tool": "crm.delete"}]}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "awaiting_approval", body["status"])
	runID := body["runId"].(string)

	rec, body = doJSON(t, e, http.MethodPost, "/v1/runs/"+runID+"/approvals", `{"stepIds": ["purge"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "succeeded", body["status"])

	// Retrying the approval is safe and returns the settled run.
	rec, body = doJSON(t, e, http.MethodPost, "/v1/runs/"+runID+"/approvals", `{"stepIds": ["purge"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "succeeded", body["status"])
}

func TestCancelEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", `{
		"mode": "APPROVAL",
		"plan": {"steps": [{"id": "purge", "tool": "crm.delete"}]}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	runID := body["runId"].(string)

	rec, body = doJSON(t, e, http.MethodPost, "/v1/runs/"+runID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "partial", body["status"])
}

func TestEventsEndpointReturnsOrderedStream(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", simplePlanBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	runID := body["runId"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/events", nil)
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var stream []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stream))
	require.NotEmpty(t, stream)
	for i, event := range stream {
		require.Equal(t, float64(i+1), event["seq"], fmt.Sprintf("event %d out of order", i))
	}
	require.Equal(t, "run_completed", stream[len(stream)-1]["type"])
}

func TestStepLogsEndpoint(t *testing.T) {
	t.Parallel()

	e := newTestRouter(t)
	rec, body := doJSON(t, e, http.MethodPost, "/v1/runs", simplePlanBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	runID := body["runId"].(string)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/logs", nil)
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "started", entries[0]["status"])
	require.Equal(t, "succeeded", entries[1]["status"])
}
