package httpserver

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
)

// corsMiddleware answers preflights and sets CORS response headers for
// origins accepted by the origin policy. It never rejects a request itself;
// routes that must refuse foreign origins use withOriginPolicy.
func corsMiddleware(allowedOrigins []string) Middleware {
	c := cors.New(cors.Options{
		AllowOriginRequestFunc: func(r *http.Request, _ string) bool {
			_, ok := origin.CheckRequest(r, allowedOrigins)
			return ok
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler
}

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := origin.CheckRequest(r, s.cfg.AllowedOrigins); !ok {
			s.hub.Metrics().Inc(metrics.OriginRejected)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
