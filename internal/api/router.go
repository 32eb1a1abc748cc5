package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("GET /v1/queue", h.ListQueue)
	mux.HandleFunc("GET /v1/queue/{id}/events", h.ListEntryEvents)
	mux.HandleFunc("POST /v1/queue/retry-failed", h.RetryFailed)
	mux.HandleFunc("POST /v1/queue/{id}/force", h.ForceSend)
	mux.HandleFunc("POST /v1/queue/test", h.TestSend)

	mux.HandleFunc("POST /v1/trigger/status-changed", h.TriggerStatusChanged)

	mux.HandleFunc("GET /v1/sessions/{identity}", h.SessionStatus)
	mux.HandleFunc("POST /v1/sessions/{identity}/refresh", h.SessionRefresh)
	mux.HandleFunc("POST /v1/sessions/{identity}/logout", h.SessionLogout)
	mux.HandleFunc("GET /v1/sessions/{identity}/qr", h.SessionQR)
	mux.HandleFunc("GET /v1/sessions/{identity}/check/{phone}", h.CheckContact)

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("guest-notify"))
	})

	return mux
}
