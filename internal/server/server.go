// Package server exposes the conversation engine over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"support-agent/internal/domain"
	"support-agent/internal/metrics"
	"support-agent/internal/usecase"
	logx "support-agent/pkg/logger"
)

type Engine interface {
	Handle(ctx context.Context, in usecase.HandleInput) (domain.Outcome, error)
	Reopen(ctx context.Context, conversationID string) error
	History(ctx context.Context, conversationID string) ([]domain.Turn, error)
	Summary(ctx context.Context, conversationID string) (domain.ConversationSummary, error)
	Clear(ctx context.Context, conversationID string) error
	RecordFeedback(ctx context.Context, in usecase.FeedbackInput) error
}

type KnowledgeBase interface {
	Search(query string) []domain.ScoredEntry
	Entries() []domain.FAQEntry
	Add(entry domain.FAQEntry) error
	Remove(id string) error
}

type Analytics interface {
	Summary() metrics.Summary
}

type Options struct {
	// Analytics backs GET /v1/analytics; the route is not registered when nil.
	Analytics Analytics
	// Gatherer backs GET /metrics; the route is not registered when nil.
	Gatherer prometheus.Gatherer
	// MaxMessageSize caps websocket frames. Defaults to 16 KiB.
	MaxMessageSize int64
}

type Handler struct {
	engine    Engine
	kb        KnowledgeBase
	analytics Analytics
	gatherer  prometheus.Gatherer
	ws        wsConfig
}

func NewHandler(engine Engine, kb KnowledgeBase, opts Options) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("server: engine must not be nil")
	}
	if kb == nil {
		return nil, errors.New("server: knowledge base must not be nil")
	}
	return &Handler{
		engine:    engine,
		kb:        kb,
		analytics: opts.Analytics,
		gatherer:  opts.Gatherer,
		ws:        newWSConfig(opts.MaxMessageSize),
	}, nil
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")

	v1.POST("/chat", h.Chat)
	v1.GET("/ws/:conversation_id", h.ChatWebSocket)

	v1.GET("/conversations/:conversation_id/history", h.History)
	v1.GET("/conversations/:conversation_id/summary", h.Summary)
	v1.POST("/conversations/:conversation_id/reopen", h.Reopen)
	v1.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	v1.POST("/feedback", h.Feedback)

	v1.GET("/knowledge-base", h.ListEntries)
	v1.GET("/knowledge-base/search", h.SearchKnowledgeBase)
	v1.POST("/knowledge-base", h.AddEntry)
	v1.DELETE("/knowledge-base/:entry_id", h.RemoveEntry)

	if h.analytics != nil {
		v1.GET("/analytics", h.Analytics)
	}
	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/healthz", h.Health)
}

// New builds an echo instance with logging and panic recovery around the
// handler's routes.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := logx.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = logx.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("HTTP request")
			return nil
		},
	}))

	h.RegisterRoutes(e)
	return e
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeError(c echo.Context, err error) error {
	code := usecase.CodeOf(err)
	if code == usecase.ErrorInternal {
		logx.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.JSON(code.HTTPStatus(), errorResponse{Error: string(code), Reason: usecase.ReasonOf(err)})
}

func badRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: reason})
}
