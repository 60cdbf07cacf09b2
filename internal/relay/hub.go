package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

// Hub serializes every State operation behind one mutex.
//
// Deliveries are handed to Conn.Send while the mutex is held. Send only
// enqueues, so this keeps per-recipient ordering identical to the order in
// which State produced the frames; socket writes happen in each connection's
// own writer. A Send failure marks the recipient dead: it is closed and
// unregistered after the mutex is released.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state *State
}

func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Hub{
		logger:  logger,
		metrics: opts.Metrics,
		state:   NewState(opts),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Register adds conn and queues its welcome frame before returning.
func (h *Hub) Register(conn Conn) (string, error) {
	h.mu.Lock()
	id, welcome, err := h.state.Register(conn)
	if err != nil {
		h.mu.Unlock()
		return "", err
	}
	dead := h.deliverLocked([]Delivery{welcome})
	h.mu.Unlock()

	h.logger.Debug("client registered", "client_id", id)
	if len(dead) > 0 {
		h.reap(dead)
		return "", ErrConnFailed
	}
	return id, nil
}

// Unregister removes id and notifies its peer, if any. Safe to call for ids
// that are already gone.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	info, known := h.state.Lookup(id)
	out := h.state.Unregister(id)
	dead := h.deliverLocked(out)
	h.mu.Unlock()

	if known {
		h.logger.Debug("client unregistered", "client_id", id, "room_id", info.RoomID)
	}
	h.reap(dead)
}

// Handle applies one inbound frame from id.
func (h *Hub) Handle(id string, msg protocol.Message) {
	h.mu.Lock()
	out, err := h.state.Apply(id, msg)
	dead := h.deliverLocked(out)
	h.mu.Unlock()

	h.logApplyError(id, msg.Type, err)
	if err == nil && msg.Type == protocol.TypeJoin && len(out) > 0 {
		h.logger.Debug("client joined", "client_id", id, "room_id", out[0].Msg.RoomID, "role", out[0].Msg.Role.String())
	}
	h.reap(dead)
}

// Reject sends an error frame to id without touching State. The transport
// uses it for frames it could not parse.
func (h *Hub) Reject(id, code, message string) {
	h.mu.Lock()
	dead := h.deliverLocked([]Delivery{{To: id, Msg: protocol.Error(code, message)}})
	h.mu.Unlock()
	h.reap(dead)
}

func (h *Hub) logApplyError(id string, t protocol.Type, err error) {
	if err == nil {
		return
	}
	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		h.logger.Debug("protocol error", "client_id", id, "type", string(t), "code", perr.Code, "err", err)
	case errors.Is(err, ErrInvariant):
		h.logger.Error("relay invariant violated", "client_id", id, "type", string(t), "err", err)
	case errors.Is(err, ErrUnknownClient):
		h.logger.Debug("frame from unregistered client", "client_id", id, "type", string(t))
	default:
		h.logger.Warn("relay error", "client_id", id, "type", string(t), "err", err)
	}
}

func (h *Hub) Lookup(id string) (ClientInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Lookup(id)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Stats()
}

// Validate runs the registry invariant check under the hub lock.
func (h *Hub) Validate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Validate()
}

// ExpireIdleRooms evicts rooms that have been half full for at least ttl and
// returns how many occupants were notified.
func (h *Hub) ExpireIdleRooms(ttl time.Duration) int {
	h.mu.Lock()
	out := h.state.Expire(ttl)
	dead := h.deliverLocked(out)
	h.mu.Unlock()

	for _, d := range out {
		h.logger.Info("room expired", "room_id", d.Msg.RoomID, "client_id", d.To)
	}
	h.reap(dead)
	return len(out)
}

// RunJanitor calls ExpireIdleRooms every interval until ctx is done. It
// returns immediately when ttl <= 0.
func (h *Hub) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
		if interval <= 0 {
			interval = ttl
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ExpireIdleRooms(ttl)
		}
	}
}

// CloseAll closes every registered transport. The transports unregister
// themselves as their readers exit.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.state.clients))
	for _, c := range h.state.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

type deadConn struct {
	id   string
	conn Conn
}

// deliverLocked must be called with h.mu held.
func (h *Hub) deliverLocked(out []Delivery) []deadConn {
	var dead []deadConn
	var failed map[string]struct{}
	for _, d := range out {
		if _, skip := failed[d.To]; skip {
			continue
		}
		conn, ok := h.state.conn(d.To)
		if !ok {
			continue
		}
		if err := conn.Send(d.Msg); err != nil {
			h.metrics.Inc(metrics.SendFailed)
			h.logger.Debug("send failed", "client_id", d.To, "type", string(d.Msg.Type), "err", err)
			if failed == nil {
				failed = make(map[string]struct{})
			}
			failed[d.To] = struct{}{}
			dead = append(dead, deadConn{id: d.To, conn: conn})
		}
	}
	return dead
}

// reap treats failed recipients as disconnected.
func (h *Hub) reap(dead []deadConn) {
	for _, d := range dead {
		_ = d.conn.Close()
		h.Unregister(d.id)
	}
}
