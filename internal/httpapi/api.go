// Package httpapi exposes the run lifecycle over HTTP: starting runs,
// answering questions, approving gated steps, cancelling, and reading run
// state, event history and audit logs.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/plan"
	"github.com/runweave/runweave/internal/run"
	"github.com/runweave/runweave/internal/service"
	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

// API wires the service into an echo router.
type API struct {
	svc *service.Service
	log *logger.Logger
}

// New creates the HTTP surface for a service.
func New(svc *service.Service, log *logger.Logger) *API {
	if log == nil {
		log = logger.Discard()
	}
	return &API{svc: svc, log: log}
}

// Router builds a configured echo instance with all routes registered.
func (a *API) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	a.Register(e)
	return e
}

// Register attaches the run routes to an existing echo instance.
func (a *API) Register(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.POST("/runs", a.startRun)
	v1.GET("/runs", a.listRuns)
	v1.GET("/runs/:id", a.getRun)
	v1.POST("/runs/:id/answers", a.submitAnswers)
	v1.POST("/runs/:id/approvals", a.approve)
	v1.POST("/runs/:id/cancel", a.cancel)
	v1.GET("/runs/:id/events", a.listEvents)
	v1.GET("/runs/:id/logs", a.listStepLogs)
}

type startRunRequest struct {
	Prompt   string     `json:"prompt"`
	Mode     string     `json:"mode"`
	Plan     *plan.Plan `json:"plan"`
	UserID   string     `json:"userId"`
	TeamID   string     `json:"teamId"`
	Timezone string     `json:"timezone"`
	Budget   *float64   `json:"budget,omitempty"`
}

type answersRequest struct {
	Answers map[string]any `json:"answers"`
}

type approvalsRequest struct {
	StepIDs []string `json:"stepIds"`
}

func (a *API) startRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	state, err := a.svc.Start(c.Request().Context(), service.StartRequest{
		Input:    run.Input{Prompt: req.Prompt},
		Mode:     run.Mode(req.Mode),
		Plan:     req.Plan,
		UserID:   req.UserID,
		TeamID:   req.TeamID,
		Timezone: req.Timezone,
		Budget:   req.Budget,
	})
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusCreated, runResponse(state))
}

func (a *API) listRuns(c echo.Context) error {
	states, err := a.svc.List()
	if err != nil {
		return a.mapError(err)
	}
	out := make([]map[string]any, 0, len(states))
	for _, state := range states {
		out = append(out, runResponse(state))
	}
	return c.JSON(http.StatusOK, out)
}

func (a *API) getRun(c echo.Context) error {
	state, err := a.svc.Get(c.Param("id"))
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, runResponse(state))
}

func (a *API) submitAnswers(c echo.Context) error {
	var req answersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	state, err := a.svc.SubmitAnswers(c.Request().Context(), c.Param("id"), req.Answers)
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, runResponse(state))
}

func (a *API) approve(c echo.Context) error {
	var req approvalsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	state, err := a.svc.Approve(c.Request().Context(), c.Param("id"), req.StepIDs)
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, runResponse(state))
}

func (a *API) cancel(c echo.Context) error {
	state, err := a.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, runResponse(state))
}

func (a *API) listEvents(c echo.Context) error {
	stream, err := a.svc.Events(c.Param("id"))
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, stream)
}

func (a *API) listStepLogs(c echo.Context) error {
	if _, err := a.svc.Get(c.Param("id")); err != nil {
		return a.mapError(err)
	}
	entries, err := a.svc.StepLogs(c.Param("id"))
	if err != nil {
		return a.mapError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// runResponse shapes the external view of a run: full output, status and
// pause information, without the engine's scratch internals.
func runResponse(state run.State) map[string]any {
	resp := map[string]any{
		"runId":  state.Ctx.RunID,
		"mode":   state.Mode,
		"status": state.Status,
		"output": state.Output,
	}
	if state.Error != "" {
		resp["error"] = state.Error
	}
	if len(state.Scratch.StepStates) > 0 {
		resp["stepStates"] = state.Scratch.StepStates
	}
	return resp
}

func (a *API) mapError(err error) error {
	if errors.Is(err, run.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}

	var vErr *runweaveerrors.ValidationError
	if errors.As(err, &vErr) {
		body := map[string]any{"message": vErr.Error()}
		if len(vErr.Fields) > 0 {
			body["fields"] = vErr.Fields
		}
		return echo.NewHTTPError(http.StatusBadRequest, body)
	}

	a.log.Error(err, "request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
