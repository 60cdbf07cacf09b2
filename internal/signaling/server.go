package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
)

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultPingInterval    = 20 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultSendQueueSize   = 256
)

// Config wires the signaling endpoint to its hub and transport limits.
type Config struct {
	Hub    *relay.Hub
	Logger *slog.Logger

	// AllowedOrigins is the browser origin allow list; empty means same host.
	AllowedOrigins []string

	// WebSocket hardening.
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	MaxBytesPerSecond    int
	SendQueueSize        int

	// MaxClients rejects upgrades with 503 once this many clients are
	// connected. 0 = unlimited.
	MaxClients int

	// Clock drives the per-connection rate limiter. Defaults to wall time.
	Clock ratelimit.Clock
}

// Server accepts signaling WebSocket connections.
//
// Endpoints:
//   - GET /signal : WebSocket signaling
//   - GET /ws     : alias of /signal
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *relay.Hub
	upgrader websocket.Upgrader

	closing atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
		if cfg.PingInterval > defaultPingInterval {
			cfg.PingInterval = defaultPingInterval
		}
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.Hub == nil {
		cfg.Hub = relay.NewHub(relay.Options{MaxClients: cfg.MaxClients}, cfg.Logger)
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger,
		hub: cfg.Hub,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleWebSocket)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Hub returns the hub connections are registered with.
func (s *Server) Hub() *relay.Hub { return s.hub }

// Close closes every live connection with 1001 and waits for their handlers
// to return. New upgrades are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.closing.Store(true)
	s.hub.CloseAll()
	s.wg.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	normalized, ok := origin.CheckRequest(r, s.cfg.AllowedOrigins)
	if !ok {
		s.hub.Metrics().Inc(metrics.OriginRejected)
		s.log.Warn("rejected websocket origin", "origin", normalized, "raw_origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
	}
	return ok
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.cfg.MaxClients > 0 && s.hub.Stats().Clients >= s.cfg.MaxClients {
		s.hub.Metrics().Inc(metrics.ClientRejected)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := newWSConn(ws, s.log, s.cfg.SendQueueSize, s.cfg.PingInterval, &s.closing)
	go conn.writePump()

	id, err := s.hub.Register(conn)
	if err != nil {
		if errors.Is(err, relay.ErrTooManyClients) {
			conn.closeWith(websocket.CloseTryAgainLater, "too many clients")
		} else {
			conn.closeWith(websocket.CloseInternalServerErr, "registration failed")
		}
		close(conn.readerDone)
		<-conn.writerDone
		return
	}
	if s.closing.Load() {
		_ = conn.Close()
	}

	log := s.log.With("client_id", id)
	log.Info("client connected", "remote_addr", r.RemoteAddr)

	defer func() {
		close(conn.readerDone)
		s.hub.Unregister(id)
		_ = conn.Close()
		<-conn.writerDone
		log.Info("client disconnected")
	}()

	s.readPump(id, conn, log)
}

func (s *Server) readPump(id string, conn *wsConn, log *slog.Logger) {
	ws := conn.ws
	idle := s.cfg.IdleTimeout

	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(idle))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	limiter := ratelimit.NewConnLimiter(s.cfg.Clock, ratelimit.ConnLimits{
		MessagesPerSecond: s.cfg.MaxMessagesPerSecond,
		BytesPerSecond:    s.cfg.MaxBytesPerSecond,
	})
	m := s.hub.Metrics()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				log.Debug("websocket idle timeout")
				conn.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				log.Warn("websocket message too large", "limit", s.cfg.MaxMessageBytes)
				conn.closeWith(websocket.CloseMessageTooBig, "message too large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("websocket closed unexpectedly", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(idle))

		// Rate limit after the read so any bytes already buffered are consumed
		// and the client reliably observes the close frame.
		if !limiter.AllowMessage(len(data)) {
			m.Inc(metrics.RateLimited)
			log.Warn("signaling rate limit exceeded")
			_ = conn.Send(protocol.Error(protocol.CodeRateLimited, "rate limit exceeded"))
			conn.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.TextMessage {
			m.Inc(metrics.MalformedMessage)
			s.hub.Reject(id, protocol.CodeBadMessage, "expected text message")
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			m.Inc(metrics.MalformedMessage)
			log.Debug("malformed signaling message", "err", err)
			s.hub.Reject(id, protocol.CodeBadMessage, err.Error())
			continue
		}

		s.hub.Handle(id, msg)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
