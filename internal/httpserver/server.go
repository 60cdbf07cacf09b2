package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo
	hub   *relay.Hub
	turn  *turnrest.Minter

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

// New builds the HTTP surface around hub. The signaling endpoints are
// registered separately on Mux.
func New(cfg config.Config, logger *slog.Logger, build BuildInfo, hub *relay.Hub) *Server {
	s := &Server{
		log:   logger,
		cfg:   cfg,
		build: build,
		hub:   hub,
		mux:   http.NewServeMux(),
	}

	if cfg.TURNREST.Enabled() {
		m, err := turnrest.New(turnrest.Options{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            cfg.TURNREST.TTL,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			// config.Load validates the same constraints.
			s.log.Error("ephemeral TURN credentials disabled", "err", err)
		} else {
			s.turn = m
		}
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		corsMiddleware(cfg.AllowedOrigins),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling connections are long-lived upgrades; no read/write timeouts.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handler returns the fully wrapped handler, for tests that use httptest.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /webrtc/ice", s.withOriginPolicy(s.handleICE))

	s.mux.HandleFunc("GET /stats", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.hub.Stats())
	}))

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.hub.Metrics(), s.gauges))
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if s.turn == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"iceServers": config.ClientICEServers(s.cfg.ICEServers)})
		return
	}

	creds, err := s.turn.Mint("")
	if err != nil {
		s.log.Error("failed to mint TURN credentials", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"iceServers": config.ClientICEServers(turnrest.Apply(s.cfg.ICEServers, creds)),
		"expiresAt":  creds.Expires.Format(time.RFC3339),
	})
}

func (s *Server) gauges() map[string]int {
	st := s.hub.Stats()
	return map[string]int{
		"clients":         st.Clients,
		"rooms":           st.Rooms,
		"rooms_half_full": st.HalfFullRooms,
		"rooms_full":      st.FullRooms,
	}
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "path", r.URL.Path, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the response status. It passes Hijack through so
// WebSocket upgrades work behind the request logger.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: response writer does not support hijacking")
	}
	// An upgraded connection reports 101 regardless of what was written.
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
