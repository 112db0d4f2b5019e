// ABOUTME: HTTP routing for the gateway: webhooks, dashboard API, health, metrics
// ABOUTME: Dashboard routes sit behind JWT auth; webhooks authenticate per-request

package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyon-health/relay/internal/auth"
	"github.com/halcyon-health/relay/internal/ingest"
)

func (g *Gateway) router(service *ingest.Service, verifier auth.TokenVerifier) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(g.requestLogger)
	r.Use(chimw.Recoverer)

	ingest.NewHandler(service, g.logger).Mount(r)

	r.Get("/healthz", g.handleHealth)

	if g.cfg.Metrics.Enabled {
		r.Handle(g.cfg.Metrics.Path, promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Get("/api/clinics/{clinic_id}/conversations", g.handleListConversations)
		r.Get("/api/clinics/{clinic_id}/events", g.handleEvents)
		r.Get("/api/conversations/{conversation_id}/messages", g.handleListMessages)
	})

	return r
}

// requestLogger logs one line per request. Webhook bodies are never logged.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if g.redis != nil {
		if err := g.redis.Ping(r.Context()).Err(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
