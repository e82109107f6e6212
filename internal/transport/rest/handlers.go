package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/feed"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	appCtx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/logger"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/transport/rest/response"
)

type FeedReader interface {
	GetFeed(ctx context.Context, req feed.Request) (feed.Result, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type HandlerOptions struct {
	MaxTake      int
	DebugEnabled bool
	HealthChecks map[string]HealthCheck
}

type Handler struct {
	feed FeedReader
	opts HandlerOptions
}

func NewHandler(f FeedReader, opts HandlerOptions) *Handler {
	if opts.MaxTake < 1 {
		opts.MaxTake = 50
	}
	return &Handler{feed: f, opts: opts}
}

// GetFeed serves GET /api/feed. Malformed query values fall back to defaults.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := feed.Request{
		ViewerID: appCtx.GetViewerID(ctx),
		CursorID: strings.TrimSpace(q.Get("cursorId")),
		Lite:     queryBool(q.Get("lite")),
		Debug:    h.opts.DebugEnabled && queryBool(q.Get("debug")),
		Take:     h.take(q.Get("take")),
	}

	res, err := h.feed.GetFeed(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Lite != nil {
		response.Data(w, http.StatusOK, res.Lite)
		return
	}
	response.Data(w, http.StatusOK, res.Full)
}

func (h *Handler) take(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0
	}
	return min(n, h.opts.MaxTake)
}

func queryBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := healthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for name, check := range h.opts.HealthChecks {
		if err := check(ctx); err != nil {
			out.Checks[name] = "down"
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
			metrics.SetDependencyHealth(name, false)
			logger.WithCtx(ctx).Warn().Err(err).Str("dependency", name).Msg("health check failed")
			continue
		}
		out.Checks[name] = "up"
		metrics.SetDependencyHealth(name, true)
	}
	response.JSON(w, code, out)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := appCtx.GetRequestID(r.Context())

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case domain.CodeValidation:
			status = http.StatusBadRequest
		case domain.CodeNotFound:
			status = http.StatusNotFound
		case domain.CodeRateLimit:
			status = http.StatusTooManyRequests
		}
		response.Fail(w, status, string(appErr.Code), appErr.Message, appErr.Meta, rid)
		return
	}

	logger.WithCtx(r.Context()).Error().Err(err).Msg("unhandled error")
	response.Fail(w, http.StatusInternalServerError, string(domain.CodeInternal), "internal error", nil, rid)
}
