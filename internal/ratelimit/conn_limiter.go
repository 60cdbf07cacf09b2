package ratelimit

import "golang.org/x/time/rate"

// ConnLimiter enforces the inbound budget of a single signaling connection:
// a frames/sec cap and an optional bytes/sec cap. A zero limit disables that
// dimension. Both buckets start full, so a connection may burst one second's
// worth of traffic.
//
// The limiters are always consulted with the time from Clock, never the wall
// clock, so tests can freeze or step time.
type ConnLimiter struct {
	clock    Clock
	messages *rate.Limiter
	bytes    *rate.Limiter
}

type ConnLimits struct {
	MessagesPerSecond int
	BytesPerSecond    int
}

func NewConnLimiter(clock Clock, limits ConnLimits) *ConnLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	l := &ConnLimiter{clock: clock}
	if limits.MessagesPerSecond > 0 {
		l.messages = rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), limits.MessagesPerSecond)
	}
	if limits.BytesPerSecond > 0 {
		l.bytes = rate.NewLimiter(rate.Limit(limits.BytesPerSecond), limits.BytesPerSecond)
	}
	return l
}

// AllowMessage reports whether one inbound frame of size bytes fits the
// budget. A nil limiter allows everything.
//
// The frame token is spent before the byte check, so a frame rejected on the
// byte cap still counts toward the frame cap. Frames larger than one second
// of byte budget are always rejected.
func (l *ConnLimiter) AllowMessage(size int) bool {
	if l == nil {
		return true
	}
	now := l.clock.Now()
	if l.messages != nil && !l.messages.AllowN(now, 1) {
		return false
	}
	if l.bytes != nil && size > 0 && !l.bytes.AllowN(now, size) {
		return false
	}
	return true
}
