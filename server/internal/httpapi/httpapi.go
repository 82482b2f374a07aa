// Package httpapi exposes a minimal HTTP surface for background/daemon
// mode: /health for liveness probes and /status for a JSON rendering
// of the lifecycle manager's current SchedulerState. There is no other
// web surface — no GraphQL, no auth — the CLI's `start` mode has no
// HTTP surface at all.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

// StateProvider is satisfied by *lifecycle.Manager; kept as an
// interface here so this package doesn't import lifecycle.
type StateProvider interface {
	State() models.SchedulerState
}

// NewRouter builds the chi router serving /health and /status.
func NewRouter(provider StateProvider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		state := provider.State()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})

	return r
}

// NewServer wraps the router in an *http.Server with the same timeout
// profile the source web app used, extended write timeout included
// since /status can be called while an analysis cycle is writing state.
func NewServer(addr string, provider StateProvider) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(provider),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
