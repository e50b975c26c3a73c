// Package client implements a resilient WebSocket subscriber: it keeps
// a connection to an overhead server alive across network failures with
// exponential backoff, detects dead links with heartbeats, and exposes
// everything that happens as typed events on a channel.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventType identifies what happened.
type EventType int

const (
	// EventConnected fires after a successful dial and hello.
	EventConnected EventType = iota

	// EventDisconnected fires when a live connection drops.
	EventDisconnected

	// EventReconnecting fires before each retry wait, carrying the
	// attempt number and the delay about to be taken.
	EventReconnecting

	// EventMessage carries one raw server message.
	EventMessage

	// EventSuspended and EventResumed bracket host-app pauses.
	EventSuspended
	EventResumed

	// EventClosed is the final event: the manager has stopped and
	// will not reconnect.
	EventClosed
)

// Event is one item on the manager's event channel.
type Event struct {
	Type    EventType
	Attempt int
	Wait    time.Duration
	Err     error
	Data    []byte
}

// Config controls the manager.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Token, when set, is sent in the hello message after connect.
	Token string

	// InitialDelay is the first retry delay (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth (default: 30s).
	MaxDelay time.Duration

	// Factor is the exponential growth factor (default: 1.5).
	Factor float64

	// JitterFraction spreads retries by ±fraction (default: 0.3).
	JitterFraction float64

	// HeartbeatInterval is the ping cadence (default: 30s).
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long to wait for a pong before the link
	// is declared dead (default: 10s).
	HeartbeatTimeout time.Duration

	// SendDebounce batches outbound requests (default: 250ms).
	SendDebounce time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Factor == 0 {
		cfg.Factor = 1.5
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = 0.3
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if cfg.SendDebounce == 0 {
		cfg.SendDebounce = 250 * time.Millisecond
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return cfg
}

// writeQueue is the outbound frame queue depth per connection.
const writeQueue = 16

// Manager owns the connection lifecycle. Create with New, start with
// Start, consume Events, stop with Close.
type Manager struct {
	cfg    Config
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	writes    chan []byte
	suspended bool
	resume    chan struct{}
	pending   [][]byte
	flush     *time.Timer

	rng *rand.Rand
	wg  sync.WaitGroup
}

// New creates a manager. It does nothing until Start.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg.withDefaults(),
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
		resume: make(chan struct{}, 1),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Events returns the event channel. The channel is never closed;
// EventClosed marks the end of the stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connection loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Close stops the manager permanently.
func (m *Manager) Close() {
	m.cancel()
	m.closeConn()
	m.wg.Wait()
}

// Suspend drops the connection and pauses reconnection until Resume.
// For host apps that go to the background.
func (m *Manager) Suspend() {
	m.mu.Lock()
	if m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = true
	m.mu.Unlock()

	m.closeConn()
	m.emit(Event{Type: EventSuspended})
}

// Resume re-enables reconnection after a Suspend.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false
	m.mu.Unlock()

	select {
	case m.resume <- struct{}{}:
	default:
	}
	m.emit(Event{Type: EventResumed})
}

// Send queues one request for the server. Requests are batched inside
// the debounce window so bursts of UI activity become one write burst.
// Queued requests are dropped if the connection falls over before the
// window closes; callers re-request after EventConnected.
func (m *Manager) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, data)
	if m.flush == nil {
		m.flush = time.AfterFunc(m.cfg.SendDebounce, m.flushPending)
	}
}

// SendRequest marshals and queues a typed request object.
func (m *Manager) SendRequest(req any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	m.Send(data)
	return nil
}

func (m *Manager) flushPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.flush = nil
	writes := m.writes
	m.mu.Unlock()

	if writes == nil {
		return
	}
	for _, data := range pending {
		select {
		case writes <- data:
		default:
			// Writer queue is full; the connection is wedged and about
			// to die, so dropping is the same as losing the link.
			return
		}
	}
}

// backoffDelay computes the wait before retry number attempt (0-based):
// initial*factor^attempt spread by ±jitterFraction, never above MaxDelay.
func backoffDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.Factor, float64(attempt))
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	jitter := 1 + cfg.JitterFraction*(2*rng.Float64()-1)
	d := time.Duration(base * jitter)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// A consumer that stopped reading loses events rather than
		// wedging the connection loop.
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setConn(conn *websocket.Conn, writes chan []byte) {
	m.mu.Lock()
	m.conn = conn
	m.writes = writes
	m.mu.Unlock()
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// run is the reconnection loop.
func (m *Manager) run() {
	defer m.wg.Done()
	defer m.emit(Event{Type: EventClosed})

	attempt := 0
	for {
		if m.ctx.Err() != nil {
			return
		}

		if m.waitWhileSuspended() {
			return
		}

		if attempt > 0 {
			wait := backoffDelay(m.cfg, attempt-1, m.rng)
			m.emit(Event{Type: EventReconnecting, Attempt: attempt, Wait: wait})
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		m.setState(StateConnecting)
		conn, _, err := m.cfg.Dialer.DialContext(m.ctx, m.cfg.URL, nil)
		if err != nil {
			m.setState(StateDisconnected)
			m.emit(Event{Type: EventDisconnected, Err: err})
			attempt++
			continue
		}

		writes := make(chan []byte, writeQueue)
		m.setConn(conn, writes)
		m.setState(StateConnected)
		attempt = 0
		m.emit(Event{Type: EventConnected})

		m.queueHello(writes)
		clean := m.session(conn, writes)

		m.setConn(nil, nil)
		m.setState(StateDisconnected)

		if clean || m.ctx.Err() != nil {
			// Server said goodbye on purpose; do not fight it.
			return
		}
		attempt++
	}
}

// waitWhileSuspended parks until Resume or shutdown. Returns true when
// the manager is closing.
func (m *Manager) waitWhileSuspended() bool {
	for {
		m.mu.Lock()
		suspended := m.suspended
		m.mu.Unlock()
		if !suspended {
			return false
		}
		select {
		case <-m.ctx.Done():
			return true
		case <-m.resume:
		}
	}
}

// queueHello introduces the subscriber, carrying the auth token if any.
// Queued first on a fresh writer channel, so it is always the first
// frame on the wire.
func (m *Manager) queueHello(writes chan []byte) {
	msg := map[string]string{"type": "hello"}
	if m.cfg.Token != "" {
		msg["token"] = m.cfg.Token
	}
	data, _ := json.Marshal(msg)
	writes <- data
}

// session reads messages until the connection dies. All writes (hello,
// queued requests, heartbeat pings) go through one writer goroutine;
// the connection forbids concurrent writers. Returns true for a clean
// server-initiated close.
func (m *Manager) session(conn *websocket.Conn, writes chan []byte) bool {
	pongWait := m.cfg.HeartbeatInterval + m.cfg.HeartbeatTimeout
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Writer: drains the queue and pings on the heartbeat interval. A
	// missing pong trips the read deadline above and kills the session.
	stop := make(chan struct{})
	var wWg sync.WaitGroup
	wWg.Add(1)
	go func() {
		defer wWg.Done()
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case data := <-writes:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		wWg.Wait()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			clean := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			if !clean {
				m.emit(Event{Type: EventDisconnected, Err: err})
			} else {
				m.emit(Event{Type: EventDisconnected})
			}
			return clean
		}
		// The server also pongs our protocol-level pings with JSON
		// messages; both kinds of traffic prove liveness.
		conn.SetReadDeadline(time.Now().Add(pongWait))
		m.emit(Event{Type: EventMessage, Data: data})
	}
}
