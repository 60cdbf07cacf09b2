package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

const wsWriteWait = 5 * time.Second

var (
	ErrSendQueueFull = errors.New("signaling: send queue full")
	ErrConnClosed    = errors.New("signaling: connection closed")
)

// wsConn is the relay.Conn for one WebSocket client.
type wsConn struct {
	ws  *websocket.Conn
	log *slog.Logger

	send         chan []byte
	done         chan struct{}
	readerDone   chan struct{}
	writerDone   chan struct{}
	pingInterval time.Duration
	shuttingDown *atomic.Bool

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newWSConn(ws *websocket.Conn, log *slog.Logger, queueSize int, pingInterval time.Duration, shuttingDown *atomic.Bool) *wsConn {
	return &wsConn{
		ws:           ws,
		log:          log,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
		readerDone:   make(chan struct{}),
		writerDone:   make(chan struct{}),
		pingInterval: pingInterval,
		shuttingDown: shuttingDown,
	}
}

// Send enqueues msg for the write pump. It never blocks: a full queue means
// the client is not keeping up, and the connection is closed.
func (c *wsConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeWith(websocket.ClosePolicyViolation, "send queue full")
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush and send a close frame.
func (c *wsConn) Close() error {
	if c.shuttingDown != nil && c.shuttingDown.Load() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return nil
	}
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// closeWith records the first close code and wakes the write pump. Later
// calls are no-ops.
func (c *wsConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.closeWith(websocket.CloseAbnormalClosure, "")
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.log.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.log.Debug("websocket ping failed", "err", err)
				return
			}
		case <-c.done:
			c.flush()
			if err := c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			// Give the peer a chance to answer the close frame before the
			// socket goes away.
			timer := time.NewTimer(wsWriteWait)
			defer timer.Stop()
			select {
			case <-c.readerDone:
			case <-timer.C:
			}
			return
		}
	}
}

// flush writes whatever is still queued so an error frame sent just before
// closing reaches the client ahead of the close frame.
func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
