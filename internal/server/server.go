// Package server wires the HTTP API: chat, document and URL management,
// prompt customization and rebuild jobs.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalita/healthassist/config"
	"github.com/vitalita/healthassist/internal/chat"
	"github.com/vitalita/healthassist/internal/chunk"
	"github.com/vitalita/healthassist/internal/docs"
	"github.com/vitalita/healthassist/internal/fetch"
	"github.com/vitalita/healthassist/internal/index"
	"github.com/vitalita/healthassist/internal/jobs"
	"github.com/vitalita/healthassist/internal/registry"
	"github.com/vitalita/healthassist/internal/retrieval"
	"github.com/vitalita/healthassist/internal/vectorstore"
	"github.com/vitalita/healthassist/provider"
)

// Server is the assembled HTTP service.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	tracker *jobs.Tracker
	logger  *log.Logger
	stop    chan struct{}
}

// New builds every component from configuration and registers the routes.
func New(cfg *config.Config) (*Server, error) {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	library, err := docs.NewLibrary(cfg.Docs.Folder)
	if err != nil {
		return nil, fmt.Errorf("opening document library: %w", err)
	}
	urlReg, err := registry.Open(cfg.Docs.URLRegistry)
	if err != nil {
		return nil, fmt.Errorf("opening url registry: %w", err)
	}
	promptStore, err := retrieval.OpenPromptStore(cfg.Server.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("opening prompts: %w", err)
	}

	llm, err := provider.NewProvider(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("building provider: %w", err)
	}
	splitter, err := chunk.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	vclient := vectorstore.NewClient(vectorstore.Config{
		Host:     cfg.VectorStore.Host,
		Port:     cfg.VectorStore.Port,
		Tenant:   cfg.VectorStore.Tenant,
		Database: cfg.VectorStore.Database,
	})
	writer := vectorstore.NewWriter(llm, vectorstore.WriterConfig{
		BatchSize:     cfg.Ingest.BatchSize,
		Retries:       cfg.Ingest.BatchRetries,
		BatchInterval: cfg.Ingest.BatchDelay,
		Backoff:       cfg.Ingest.BatchBackoff,
	}, log.New(log.Writer(), "[INDEX] ", log.LstdFlags))

	tracker := jobs.NewTracker(cfg.Jobs.Retention)
	orch := index.NewOrchestrator(vclient, writer, tracker, library, urlReg, splitter,
		cfg.VectorStore.Collection, log.New(log.Writer(), "[REBUILD] ", log.LstdFlags))

	sessions, err := chat.NewStore(cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("building session store: %w", err)
	}
	engine := retrieval.NewEngine(orch.Handles(), llm, sessions, promptStore,
		cfg.Chat.TopK, cfg.Chat.MaxContextLen, log.New(log.Writer(), "[CHAT] ", log.LstdFlags))

	fetcher := fetch.New(fetch.Config{
		Timeout:       cfg.Ingest.FetchTimeout,
		Retries:       cfg.Ingest.FetchRetries,
		Backoff:       cfg.Ingest.FetchBackoff,
		MinContentLen: cfg.Ingest.MinContentLen,
	}, splitter, log.New(log.Writer(), "[FETCH] ", log.LstdFlags))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(reg)
	orch.OnRebuildDone(func(outcome string) {
		metrics.Rebuilds.WithLabelValues(outcome).Inc()
	})

	e := newEcho()
	registerRoutes(e, reg, promptStore, &ChatHandler{
		Engine:  engine,
		Prompts: promptStore,
		Metrics: metrics,
	}, &DocumentsHandler{
		Library: library,
		Orch:    orch,
		Tracker: tracker,
		Metrics: metrics,
		Logger:  logger,
	}, &URLsHandler{
		Registry: urlReg,
		Fetcher:  fetcher,
		Orch:     orch,
		Metrics:  metrics,
		Logger:   logger,
	}, &PromptsHandler{Store: promptStore})

	return &Server{echo: e, cfg: cfg, tracker: tracker, logger: logger, stop: make(chan struct{})}, nil
}

// newEcho builds the echo instance with recovery, CORS and a unified JSON
// error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	return e
}

func registerRoutes(e *echo.Echo, reg *prometheus.Registry, prompts *retrieval.PromptStore,
	ch *ChatHandler, dh *DocumentsHandler, uh *URLsHandler, ph *PromptsHandler) {
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": prompts.Get().UserGreeting})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	ch.Register(e)
	api := e.Group("/api")
	dh.Register(api.Group("/documents"))
	uh.Register(api.Group("/urls"))
	ph.Register(api.Group("/prompts"))
}

// Start serves HTTP until Shutdown. It also runs the periodic job cleanup.
func (s *Server) Start() error {
	go s.cleanupLoop()
	s.logger.Printf("listening on %s", s.cfg.Server.Address)
	err := s.echo.Start(s.cfg.Server.Address)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	return s.echo.Shutdown(ctx)
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.tracker.Cleanup(); n > 0 {
				s.logger.Printf("cleaned up %d finished jobs", n)
			}
		case <-s.stop:
			return
		}
	}
}
