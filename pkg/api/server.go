package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cortexlab/fedhub/pkg/blob"
	"github.com/cortexlab/fedhub/pkg/events"
	"github.com/cortexlab/fedhub/pkg/log"
	"github.com/cortexlab/fedhub/pkg/metrics"
	"github.com/cortexlab/fedhub/pkg/registry"
	"github.com/cortexlab/fedhub/pkg/storage"
	"github.com/cortexlab/fedhub/pkg/types"
)

// Pipeline is the orchestrator surface the API drives: trigger evaluation
// after ingests and uploads, and the cycle state for /health.
type Pipeline interface {
	EvaluateTriggers() bool
	State() types.CycleState
}

// Config is the API server's slice of the server configuration.
type Config struct {
	Listen         string
	ModelExt       string
	MaxUploadBytes int64
	StorageMode    string
	Version        string
	CORSOrigins    []string
}

// Server is the HTTP API: ingest, model upload, model download, stats,
// health and metrics.
type Server struct {
	store    storage.Store
	blobs    blob.Storage
	reg      *registry.Registry
	pipeline Pipeline
	broker   *events.Broker
	cfg      Config

	http *http.Server
}

// NewServer creates the API server and its router.
func NewServer(store storage.Store, blobs blob.Storage, reg *registry.Registry, pipeline Pipeline, broker *events.Broker, cfg Config) *Server {
	s := &Server{
		store:    store,
		blobs:    blobs,
		reg:      reg,
		pipeline: pipeline,
		broker:   broker,
		cfg:      cfg,
	}
	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // streamed model downloads
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router builds the chi router. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Route("/api/ai", func(r chi.Router) {
		r.Post("/learn", s.handleLearn)
		r.Post("/upload-model", s.handleUploadModel)
		r.Get("/models/{version}", s.handleDownloadModel)
		r.Get("/latest-model", s.handleLatestModel)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", metrics.ReadyHandler())
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("listen", s.cfg.Listen).Msg("http api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
