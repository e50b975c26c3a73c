// Package ratelimit protects the WebSocket transport from abusive
// clients: per-IP connection caps and per-connection message windows.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTooManyConnections means the per-IP concurrent cap is reached.
	ErrTooManyConnections = errors.New("too many concurrent connections from this address")

	// ErrConnectionRateExceeded means too many connection attempts in
	// the rolling window.
	ErrConnectionRateExceeded = errors.New("connection rate exceeded for this address")
)

// Config contains the transport protection thresholds.
type Config struct {
	MaxConnectionsPerIP int
	ConnectionLimit     int
	ConnectionWindow    time.Duration
	MessageLimit        int
	MessageWindow       time.Duration
	ViolationCooldown   time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerIP: 3,
		ConnectionLimit:     5,
		ConnectionWindow:    time.Minute,
		MessageLimit:        60,
		MessageWindow:       time.Minute,
		ViolationCooldown:   10 * time.Second,
	}
}

// ipState tracks one source address.
type ipState struct {
	active   int
	attempts []time.Time
	lastSeen time.Time
}

// ConnectionGate enforces per-IP limits at connect time.
type ConnectionGate struct {
	mu  sync.Mutex
	cfg Config
	ips map[string]*ipState

	// now is swappable for tests
	now func() time.Time
}

// NewConnectionGate creates a gate with the given thresholds.
func NewConnectionGate(cfg Config) *ConnectionGate {
	return &ConnectionGate{
		cfg: cfg,
		ips: make(map[string]*ipState),
		now: time.Now,
	}
}

// Allow admits or rejects a new connection from ip. On success the
// caller must pair it with Release when the connection closes.
func (g *ConnectionGate) Allow(ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.ips[ip]
	if st == nil {
		st = &ipState{}
		g.ips[ip] = st
	}
	st.lastSeen = now

	// Every attempt counts toward the window, including rejected ones,
	// so a reconnect storm cannot probe its way past the limit.
	cutoff := now.Add(-g.cfg.ConnectionWindow)
	kept := st.attempts[:0]
	for _, t := range st.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.attempts = append(kept, now)

	if st.active >= g.cfg.MaxConnectionsPerIP {
		return ErrTooManyConnections
	}
	if len(st.attempts) > g.cfg.ConnectionLimit {
		return ErrConnectionRateExceeded
	}

	st.active++
	return nil
}

// Release records a connection close for ip.
func (g *ConnectionGate) Release(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.ips[ip]
	if st == nil {
		return
	}
	if st.active > 0 {
		st.active--
	}
	st.lastSeen = g.now()
}

// ActiveConnections returns the live connection count for ip.
func (g *ConnectionGate) ActiveConnections(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st := g.ips[ip]; st != nil {
		return st.active
	}
	return 0
}

// Prune drops tracking state for addresses idle longer than maxIdle
// with no live connections. Called periodically from the server.
func (g *ConnectionGate) Prune(maxIdle time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-maxIdle)
	removed := 0
	for ip, st := range g.ips {
		if st.active == 0 && st.lastSeen.Before(cutoff) {
			delete(g.ips, ip)
			removed++
		}
	}
	return removed
}

// Verdict is the outcome of recording one inbound message.
type Verdict int

const (
	// VerdictOK admits the message.
	VerdictOK Verdict = iota

	// VerdictWarn means the rate was exceeded for the first time; the
	// caller sends a warning and keeps the connection.
	VerdictWarn

	// VerdictDisconnect means the rate was exceeded again within the
	// cooldown; the caller closes the connection.
	VerdictDisconnect
)

// MessageLimiter is the per-connection rolling message window. Not
// safe for concurrent use; each connection's read loop owns its own.
type MessageLimiter struct {
	limit    int
	window   time.Duration
	cooldown time.Duration

	times         []time.Time
	lastViolation time.Time

	now func() time.Time
}

// NewMessageLimiter creates a limiter from the shared thresholds.
func NewMessageLimiter(cfg Config) *MessageLimiter {
	return &MessageLimiter{
		limit:    cfg.MessageLimit,
		window:   cfg.MessageWindow,
		cooldown: cfg.ViolationCooldown,
		now:      time.Now,
	}
}

// Record counts one inbound message and returns the verdict. Messages
// arriving during a violation are not admitted, but only a repeat
// violation inside the cooldown escalates to disconnect.
func (l *MessageLimiter) Record() Verdict {
	now := l.now()

	cutoff := now.Add(-l.window)
	kept := l.times[:0]
	for _, t := range l.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.times = append(kept, now)

	if len(l.times) <= l.limit {
		return VerdictOK
	}

	if !l.lastViolation.IsZero() && now.Sub(l.lastViolation) < l.cooldown {
		return VerdictDisconnect
	}
	l.lastViolation = now
	return VerdictWarn
}
