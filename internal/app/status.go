package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/vk/hopgrid/internal/engine"
)

type statusResponse struct {
	Active   []engine.RunStatus `json:"active"`
	Finished []engine.RunStatus `json:"finished"`
}

// statusRouter serves /health and the run board under /status.
func (a *App) statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", a.healthHandler)
	r.Get("/status", a.statusHandler)
	r.Get("/status/{id}", a.runStatusHandler)
	return r
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	active, finished := a.engine.Board.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{Active: active, Finished: finished})
}

func (a *App) runStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, finished := a.engine.Board.Snapshot()
	for _, list := range [][]engine.RunStatus{active, finished} {
		for _, st := range list {
			if st.ID == id {
				writeJSON(w, http.StatusOK, st)
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// startStatusServer runs the status server in the background.
func (a *App) startStatusServer(ctx context.Context, port int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring status server.")

	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           a.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeStatusServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if a.httpServer == nil {
		logger.Debug("Status server was not running.")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down status server...")
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server shutdown failed", "error", err)
		return
	}
	logger.Debug("Status server shut down gracefully.")
}
