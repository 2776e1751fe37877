package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Route("/api/database", func(r chi.Router) {
		r.Post("/query", h.HandleRawQuery)
		r.Post("/browse", h.HandleBrowse)
		r.Post("/detect", h.HandleDetect)
		r.Get("/tables/{connectionId}", h.HandleListTables)
		r.Get("/tables/{connectionId}/{table}", h.HandleDescribeTable)
		r.Get("/connections", h.HandleListConnections)
		r.Post("/connections", h.HandleAddConnection)
		r.Get("/connections/{id}", h.HandleGetConnection)
		r.Delete("/connections/{id}", h.HandleRemoveConnection)
	})
	r.Route("/api/postgresjson", func(r chi.Router) {
		r.Post("/query", h.HandleJSONQuery)
		r.Post("/array", h.HandleJSONArray)
		r.Post("/complex", h.HandleJSONComplex)
		r.Post("/insert", h.HandleJSONInsert)
		r.Post("/update", h.HandleJSONUpdate)
		r.Post("/append", h.HandleJSONAppend)
	})
}

func newRouter(h *Handler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	h.RegisterRoutes(r)
	return r
}

// runServer serves handler until ctx is cancelled, then drains in-flight
// requests.
func runServer(ctx context.Context, logger *slog.Logger, port int, handler http.Handler, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info("project-echo listening", slog.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-shutdownErr
}
