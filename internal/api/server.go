package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// FrameChannel is the WebSocket entry point the router mounts.
type FrameChannel interface {
	HandleFrameConnection(w http.ResponseWriter, r *http.Request)
}

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(frames FrameChannel, limiter *Limiter) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Frame channel (not rate limited: bounded by aggregator caps)
	api.HandleFunc("/frames/ws", frames.HandleFrameConnection).Methods("GET")

	api.HandleFunc("/status", h.GetStatus).Methods("GET")

	// Tab endpoints (rate limited per tab)
	tabs := api.PathPrefix("/tabs").Subrouter()
	tabs.Use(RateLimitMiddleware(limiter))
	tabs.HandleFunc("/{id}/aggregate", h.GetAggregate).Methods("GET")
	tabs.HandleFunc("/{id}/images", h.GetImages).Methods("GET")
	tabs.HandleFunc("/{id}/export", h.ExportTab).Methods("POST")
	tabs.HandleFunc("/{id}", h.DeleteTab).Methods("DELETE")

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware lets extension pages hit the REST surface directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
