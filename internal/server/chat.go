package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalita/healthassist/internal/retrieval"
	"github.com/vitalita/healthassist/internal/vectorstore"
)

// ChatHandler serves the conversational endpoints.
type ChatHandler struct {
	Engine  *retrieval.Engine
	Prompts *retrieval.PromptStore
	Metrics *Metrics
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/query", h.query)
	e.GET("/history/:session_id", h.history)
	e.DELETE("/history/:session_id", h.clearHistory)
}

func (h *ChatHandler) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	res, err := h.Engine.Ask(c.Request().Context(), sessionID, req.Question)
	if errors.Is(err, retrieval.ErrNotReady) {
		h.Metrics.Queries.WithLabelValues("not_ready").Inc()
		return echo.NewHTTPError(http.StatusServiceUnavailable, h.Prompts.Get().FallbackResponse)
	}
	if err != nil {
		if vectorstore.IsQuotaError(err) {
			h.Metrics.Queries.WithLabelValues("quota").Inc()
			return echo.NewHTTPError(http.StatusTooManyRequests,
				"the language model quota is exhausted; check the provider billing and try again later")
		}
		h.Metrics.Queries.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.Metrics.Queries.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, QueryResponse{
		Answer:    res.Answer,
		Sources:   res.Sources,
		SessionID: sessionID,
	})
}

func (h *ChatHandler) history(c echo.Context) error {
	sessionID := c.Param("session_id")
	msgs, err := h.Engine.History(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryMessage{Role: m.Role, Content: m.Content})
	}
	return c.JSON(http.StatusOK, HistoryResponse{SessionID: sessionID, History: out})
}

func (h *ChatHandler) clearHistory(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := h.Engine.ClearSession(c.Request().Context(), sessionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "session cleared"})
}
