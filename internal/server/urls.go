package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vitalita/healthassist/internal/fetch"
	"github.com/vitalita/healthassist/internal/index"
	"github.com/vitalita/healthassist/internal/registry"
	"github.com/vitalita/healthassist/internal/vectorstore"
)

// Fetcher retrieves one URL. Satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Result, error)
}

// URLsHandler manages tracked URL documents. Fetching and indexing happen in
// the background; clients poll the list endpoint for status changes.
type URLsHandler struct {
	Registry *registry.Store
	Fetcher  Fetcher
	Orch     *index.Orchestrator
	Metrics  *Metrics
	Logger   *log.Logger
}

func (h *URLsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.add)
	g.POST("/bulk", h.addBulk)
	g.DELETE("/:id", h.remove)
	g.POST("/:id/refresh", h.refresh)
}

func (h *URLsHandler) list(c echo.Context) error {
	urls := h.Registry.List()
	// cached chunks are an internal detail, keep list payloads small
	for i := range urls {
		urls[i].FetchedChunks = nil
	}
	return c.JSON(http.StatusOK, URLListResponse{URLs: urls})
}

func (h *URLsHandler) add(c echo.Context) error {
	var req AddURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.track(strings.TrimSpace(req.URL))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, doc)
}

func (h *URLsHandler) addBulk(c echo.Context) error {
	var req BulkURLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.URLs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "urls required")
	}
	results := make([]BulkURLResult, 0, len(req.URLs))
	for _, raw := range req.URLs {
		raw = strings.TrimSpace(raw)
		doc, err := h.track(raw)
		if err != nil {
			msg := err.Error()
			if he, ok := err.(*echo.HTTPError); ok {
				msg = fmt.Sprint(he.Message)
			}
			results = append(results, BulkURLResult{URL: raw, Error: msg})
			continue
		}
		results = append(results, BulkURLResult{URL: raw, ID: doc.ID})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"results": results})
}

// track validates, registers and kicks off background ingestion for one URL.
func (h *URLsHandler) track(rawURL string) (registry.URLDocument, error) {
	if rawURL == "" {
		return registry.URLDocument{}, echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	if _, err := fetch.ValidateURL(rawURL); err != nil {
		return registry.URLDocument{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.Registry.Add(rawURL)
	if errors.Is(err, registry.ErrDuplicateURL) {
		return registry.URLDocument{}, echo.NewHTTPError(http.StatusConflict, "url already tracked")
	}
	if err != nil {
		return registry.URLDocument{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	go h.ingest(doc.ID, rawURL)
	return doc, nil
}

func (h *URLsHandler) remove(c echo.Context) error {
	doc, err := h.Registry.Get(c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "url not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Registry.Remove(doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Orch.RemoveURLDocument(c.Request().Context(), doc); err != nil {
		h.Logger.Printf("[URLS] removing chunks for %s: %v", doc.URL, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": doc.URL + " removed"})
}

func (h *URLsHandler) refresh(c echo.Context) error {
	doc, err := h.Registry.Get(c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "url not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Registry.MarkPending(doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	go h.ingest(doc.ID, doc.URL)
	return c.JSON(http.StatusAccepted, map[string]string{"message": "refresh started for " + doc.URL})
}

// ingest fetches one URL and writes its chunks into the live index. Failures
// land on the document record for the list endpoint to show.
func (h *URLsHandler) ingest(id, rawURL string) {
	ctx := context.Background()
	res, err := h.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		h.Metrics.URLFetches.WithLabelValues("fetch_error").Inc()
		h.Logger.Printf("[URLS] fetching %s: %v", rawURL, err)
		if merr := h.Registry.MarkError(id, err.Error()); merr != nil {
			h.Logger.Printf("[URLS] recording fetch error for %s: %v", rawURL, merr)
		}
		return
	}
	if err := h.Registry.MarkFetched(id, res.Title, string(res.ContentType), res.Chunks); err != nil {
		h.Logger.Printf("[URLS] recording fetch for %s: %v", rawURL, err)
		return
	}

	doc, err := h.Registry.Get(id)
	if err != nil {
		// removed while fetching
		return
	}
	if err := h.Orch.AddURLDocument(ctx, doc); err != nil {
		h.Metrics.URLFetches.WithLabelValues("index_error").Inc()
		h.Logger.Printf("[URLS] indexing %s: %v", rawURL, err)
		msg := err.Error()
		if vectorstore.IsQuotaError(err) {
			msg = "embedding quota exhausted; refresh the url or rebuild the index once quota is restored"
		}
		if merr := h.Registry.MarkError(id, msg); merr != nil {
			h.Logger.Printf("[URLS] recording index error for %s: %v", rawURL, merr)
		}
		return
	}
	h.Metrics.URLFetches.WithLabelValues("ok").Inc()
	h.Logger.Printf("[URLS] indexed %s (%d chunks)", rawURL, len(res.Chunks))
}
