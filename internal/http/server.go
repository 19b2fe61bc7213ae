package httpserver

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cms_migrator/internal/db"
)

// Server is the read-only status server. It never applies migrations.
type Server struct {
	addr      string
	logger    *slog.Logger
	db        *sql.DB
	dialect   db.Dialect
	inspector Inspector
	metrics   *Metrics
}

func New(addr string, logger *slog.Logger, database *sql.DB, dialect db.Dialect, inspector Inspector) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		logger:    logger,
		db:        database,
		dialect:   dialect,
		inspector: inspector,
		metrics:   NewMetrics(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", HealthHandler{DB: s.db})
		api.Method(http.MethodGet, "/status", StatusHandler{
			DB:               s.db,
			Inspector:        s.inspector,
			Metrics:          s.metrics,
			Logger:           s.logger,
			Engine:           s.dialect.Name(),
			TransactionalDDL: s.dialect.TransactionalDDL(),
		})
	})

	return r
}
