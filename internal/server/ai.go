package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/paolomoz/nova/internal/agent/core"
	"github.com/paolomoz/nova/internal/sse"
	"github.com/paolomoz/nova/internal/store"
	"github.com/paolomoz/nova/internal/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxPromptRunes      = 8000
)

var (
	aiTracer    = otel.Tracer("nova/internal/server")
	projectIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// Runner executes prompts.
type Runner interface {
	Run(ctx context.Context, req core.RunRequest, emit sse.Emitter) (core.RunResult, error)
	Execute(ctx context.Context, req core.RunRequest) (core.RunResult, error)
	Catalog() []tools.Definition
}

// HistoryStore lists past actions.
type HistoryStore interface {
	ListActions(ctx context.Context, userID, projectID string, limit int) ([]store.ActionRecord, error)
}

// ContextReader returns a user's accumulated context.
type ContextReader interface {
	Get(ctx context.Context, userID, projectID string) (store.UserContext, error)
}

// AIHandler serves the /ai routes.
type AIHandler struct {
	Runner  Runner
	History HistoryStore
	Context ContextReader
	// DefaultLimit is the history page size when the request names none.
	DefaultLimit int
	Logger       *log.Logger
}

type promptRequest struct {
	Prompt string `json:"prompt"`
	// Mode optionally forces "single" or "multi".
	Mode string `json:"mode,omitempty"`
}

// Register mounts the handler on g. Callers install auth on g.
func (h *AIHandler) Register(g *echo.Group) {
	g.POST("/:project_id/stream", h.stream)
	g.POST("/:project_id/execute", h.execute)
	g.GET("/:project_id/history", h.history)
	g.GET("/:project_id/tools", h.listTools)
	g.GET("/:project_id/context", h.userContext)
}

func (h *AIHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
		return
	}
	log.Printf("[AI] "+format, args...)
}

// identity extracts the authenticated user and validated project id.
func identity(c echo.Context) (userID, projectID string, err error) {
	userID, _ = c.Get("user_id").(string)
	if userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	projectID = c.Param("project_id")
	if !projectIDRe.MatchString(projectID) {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "invalid project_id")
	}
	return userID, projectID, nil
}

func bindRunRequest(c echo.Context) (core.RunRequest, error) {
	userID, projectID, err := identity(c)
	if err != nil {
		return core.RunRequest{}, err
	}
	var body promptRequest
	if err := c.Bind(&body); err != nil {
		return core.RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	prompt := strings.TrimSpace(body.Prompt)
	if prompt == "" {
		return core.RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, core.ErrEmptyPrompt.Error())
	}
	if len([]rune(prompt)) > maxPromptRunes {
		return core.RunRequest{}, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "prompt too long")
	}
	req := core.RunRequest{UserID: userID, ProjectID: projectID, Prompt: prompt}
	switch core.Mode(strings.ToLower(body.Mode)) {
	case core.ModeSingle:
		req.Mode = core.ModeSingle
	case core.ModeMulti:
		req.Mode = core.ModeMulti
	case "":
	default:
		return core.RunRequest{}, echo.NewHTTPError(http.StatusBadRequest, "mode must be single or multi")
	}
	return req, nil
}

// stream runs a prompt and streams progress as Server-Sent Events.
func (h *AIHandler) stream(c echo.Context) error {
	req, err := bindRunRequest(c)
	if err != nil {
		return err
	}
	ctx, span := aiTracer.Start(c.Request().Context(), "AIHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", req.ProjectID))

	w, err := sse.NewWriter(ctx, c.Response())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer w.Close()

	res, err := h.Runner.Run(ctx, req, w)
	if err != nil {
		// the error frame, if any, is already on the wire
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) {
			h.logf("stream run %s for %s/%s failed: %v", res.RunID, req.UserID, req.ProjectID, err)
		}
		return nil
	}
	span.SetAttributes(attribute.Int("tool_calls", len(res.ToolCalls)), attribute.String("mode", string(res.Mode)))
	return nil
}

// execute runs a prompt in single mode and returns the final result.
func (h *AIHandler) execute(c echo.Context) error {
	req, err := bindRunRequest(c)
	if err != nil {
		return err
	}
	res, err := h.Runner.Execute(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyPrompt):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, core.ErrToolAborted):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"response":  res.Response,
		"toolCalls": res.ToolCalls,
	})
}

func (h *AIHandler) history(c echo.Context) error {
	userID, projectID, err := identity(c)
	if err != nil {
		return err
	}
	limit := defaultHistoryLimit
	if h.DefaultLimit > 0 {
		limit = h.DefaultLimit
	}
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	actions, err := h.History.ListActions(c.Request().Context(), userID, projectID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if actions == nil {
		actions = []store.ActionRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"actions": actions})
}

func (h *AIHandler) listTools(c echo.Context) error {
	if _, _, err := identity(c); err != nil {
		return err
	}
	defs := h.Runner.Catalog()
	sum, err := tools.Checksum(defs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": defs, "checksum": sum})
}

func (h *AIHandler) userContext(c echo.Context) error {
	userID, projectID, err := identity(c)
	if err != nil {
		return err
	}
	if h.Context == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "user context unavailable")
	}
	uc, err := h.Context.Get(c.Request().Context(), userID, projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, uc)
}
