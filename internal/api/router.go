// Package api exposes the subscription funnel over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"
)

// NewRouter wires the funnel routes.
func NewRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("POST /v1/funnel", handler.Start)
	mux.HandleFunc("GET /v1/funnel/{suid}", handler.State)
	mux.HandleFunc("POST /v1/funnel/{suid}/msisdn", handler.SubmitNumber)
	mux.HandleFunc("POST /v1/funnel/{suid}/pin", handler.SubmitPIN)
	mux.HandleFunc("POST /v1/funnel/{suid}/resend", handler.ResendPIN)

	return logRequests(handler.logger(), mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
