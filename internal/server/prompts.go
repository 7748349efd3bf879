package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vitalita/healthassist/internal/retrieval"
)

// PromptsHandler lets operators read and customize the assistant's prompts.
type PromptsHandler struct {
	Store *retrieval.PromptStore
}

func (h *PromptsHandler) Register(g *echo.Group) {
	g.GET("", h.get)
	g.PUT("", h.update)
}

func (h *PromptsHandler) get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Store.Get())
}

func (h *PromptsHandler) update(c echo.Context) error {
	var p retrieval.Prompts
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.Update(p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.Store.Get())
}
