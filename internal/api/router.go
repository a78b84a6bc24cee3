package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"engagement-sdk/internal/observability"
)

// RequestTimeout covers the longest bridge call, a screen track waiting for
// its realtime push.
const RequestTimeout = 30 * time.Second

func Router(h *BridgeHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/campaigns", h.Campaigns)
		r.Post("/campaigns/{id}/disable", h.DisableCampaign)
		r.Post("/screens/{screen}/track", h.TrackScreen)
		r.Post("/events", h.TrackEvent)
		r.Post("/attributes", h.UpdateAttributes)
		r.Post("/clicks", h.Click)
		r.Get("/queue", h.Queue)
		r.Post("/queue/flush", h.Flush)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
