package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
)

var errFakeQueueFull = errors.New("fake: queue full")

type fakeConn struct {
	mu       sync.Mutex
	msgs     []protocol.Message
	failSend bool
	closed   int
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errFakeQueueFull
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) setFailSend(v bool) {
	c.mu.Lock()
	c.failSend = v
	c.mu.Unlock()
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

func (c *fakeConn) types() []protocol.Type {
	var out []protocol.Type
	for _, m := range c.messages() {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) count(t protocol.Type) int {
	n := 0
	for _, m := range c.messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// stateHarness drives a State and fans its deliveries out to fake conns so
// assertions read like what each client observed on the wire.
type stateHarness struct {
	t       *testing.T
	state   *State
	clock   *testClock
	metrics *metrics.Metrics
	conns   map[string]*fakeConn
}

func newStateHarness(t *testing.T, opts Options) *stateHarness {
	t.Helper()
	h := &stateHarness{
		t:       t,
		clock:   newTestClock(),
		metrics: metrics.New(),
		conns:   make(map[string]*fakeConn),
	}
	opts.Clock = h.clock
	opts.Metrics = h.metrics
	if opts.NewID == nil {
		opts.NewID = sequentialIDs()
	}
	h.state = NewState(opts)
	return h
}

func (h *stateHarness) deliver(out []Delivery) {
	for _, d := range out {
		if c, ok := h.conns[d.To]; ok {
			_ = c.Send(d.Msg)
		}
	}
}

func (h *stateHarness) connect() (string, *fakeConn) {
	h.t.Helper()
	conn := &fakeConn{}
	id, welcome, err := h.state.Register(conn)
	require.NoError(h.t, err)
	h.conns[id] = conn
	h.deliver([]Delivery{welcome})
	return id, conn
}

func (h *stateHarness) apply(id string, msg protocol.Message) error {
	h.t.Helper()
	out, err := h.state.Apply(id, msg)
	h.deliver(out)
	require.NoError(h.t, h.state.Validate())
	return err
}

func (h *stateHarness) join(id string, role protocol.Role) error {
	h.t.Helper()
	return h.apply(id, joinMsg(role))
}

func (h *stateHarness) disconnect(id string) {
	h.t.Helper()
	h.deliver(h.state.Unregister(id))
	require.NoError(h.t, h.state.Validate())
}

func joinMsg(role protocol.Role) protocol.Message {
	return protocol.Message{Type: protocol.TypeJoin, Payload: []byte(fmt.Sprintf(`{"role":%q}`, string(role)))}
}

func lastOf(c *fakeConn, t protocol.Type) (protocol.Message, bool) {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == t {
			return msgs[i], true
		}
	}
	return protocol.Message{}, false
}
