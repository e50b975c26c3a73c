package hub

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyspotter/overhead/internal/auth"
	"github.com/skyspotter/overhead/internal/protocol"
	"github.com/skyspotter/overhead/internal/ratelimit"
	"github.com/skyspotter/overhead/internal/sightings"
)

const (
	// writeWait bounds one write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before assuming the
	// peer is gone.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-subscriber queue depth. When it fills,
	// the oldest queued frame is dropped for that subscriber only.
	sendBuffer = 16
)

// Logbook answers get_logbook requests.
type Logbook interface {
	Query(ctx context.Context, since time.Time) ([]sightings.Sighting, error)
}

// Deps carries everything a connection handler needs.
type Deps struct {
	Gate        *ratelimit.ConnectionGate
	Limits      ratelimit.Config
	Auth        *auth.Service
	RequireAuth bool
	Logbook     Logbook

	// ConfigPayload is the static answer to get_config.
	ConfigPayload map[string]any
}

// Client is one WebSocket subscriber: a readPump that handles requests
// and a writePump that drains the send queue.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	deps Deps
	ip   string

	send chan []byte
	done chan struct{}
	once sync.Once

	limiter       *ratelimit.MessageLimiter
	authenticated bool

	// lastSeq is owned by the hub's Run goroutine.
	lastSeq uint64
}

// trySend queues a frame, dropping the oldest queued frame when the
// subscriber cannot keep up.
func (c *Client) trySend(frame []byte) {
	select {
	case c.send <- frame:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}

// sendMessage encodes and queues one server message.
func (c *Client) sendMessage(msg *protocol.ServerMessage) {
	frame, err := msg.Encode()
	if err != nil {
		log.Printf("Failed to encode %s for %s: %v", msg.Type, c.ip, err)
		return
	}
	c.trySend(frame)
}

// closeOnce signals the writePump to shut the connection down.
func (c *Client) closeOnce() {
	c.once.Do(func() { close(c.done) })
}

// ServeWS upgrades an HTTP request to a subscriber connection.
func ServeWS(h *Hub, deps Deps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if deps.Gate != nil {
			if err := deps.Gate.Allow(ip); err != nil {
				log.Printf("Rejected connection from %s: %v", ip, err)
				http.Error(w, "too many connections", http.StatusTooManyRequests)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			if deps.Gate != nil {
				deps.Gate.Release(ip)
			}
			log.Printf("Upgrade failed for %s: %v", ip, err)
			return
		}

		client := &Client{
			hub:     h,
			conn:    conn,
			deps:    deps,
			ip:      ip,
			send:    make(chan []byte, sendBuffer),
			done:    make(chan struct{}),
			limiter: ratelimit.NewMessageLimiter(deps.Limits),
		}

		// Welcome is queued before registration so it always precedes
		// any replayed snapshot.
		client.sendMessage(protocol.NewWelcome(time.Now().UTC()))
		h.Register(client)

		go client.writePump()
		go client.readPump()
	}
}

// clientIP prefers the RealIP middleware result and falls back to the
// socket address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// readPump reads requests from the peer until the connection dies or a
// limit is breached. It owns all reads on the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if c.deps.Gate != nil {
			c.deps.Gate.Release(c.ip)
		}
		c.conn.Close()
	}()

	// Slack above the protocol cap so the cap itself is enforced with
	// a proper error message instead of an abrupt close.
	c.conn.SetReadLimit(protocol.MaxMessageBytes + 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error from %s: %v", c.ip, err)
			}
			return
		}

		switch c.limiter.Record() {
		case ratelimit.VerdictWarn:
			c.sendMessage(protocol.NewError(protocol.CodeRateLimited,
				"message rate exceeded, slow down"))
			continue
		case ratelimit.VerdictDisconnect:
			c.sendMessage(protocol.NewError(protocol.CodeRateLimited,
				"message rate exceeded repeatedly, disconnecting"))
			return
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			c.sendMessage(protocol.NewError(protocol.CodeProtocolError, err.Error()))
			continue
		}

		if !c.handle(msg) {
			return
		}
	}
}

// handle dispatches one validated request. Returns false when the
// connection should close.
func (c *Client) handle(msg *protocol.ClientMessage) bool {
	if c.deps.RequireAuth && !c.authenticated && msg.Type != protocol.TypeHello {
		c.sendMessage(protocol.NewError(protocol.CodeUnauthorized, "authenticate first"))
		return false
	}

	switch msg.Type {
	case protocol.TypeHello:
		return c.handleHello(msg)

	case protocol.TypePing:
		c.sendMessage(protocol.NewPong())

	case protocol.TypeGetConfig:
		c.sendMessage(protocol.NewConfig(c.deps.ConfigPayload))

	case protocol.TypeGetLogbook:
		c.handleLogbook(msg)
	}
	return true
}

func (c *Client) handleHello(msg *protocol.ClientMessage) bool {
	if msg.Token != "" && c.deps.Auth != nil {
		if _, err := c.deps.Auth.ValidateToken(msg.Token); err != nil {
			c.sendMessage(protocol.NewError(protocol.CodeUnauthorized, "invalid token"))
			return !c.deps.RequireAuth
		}
		c.authenticated = true
		return true
	}

	if c.deps.RequireAuth {
		c.sendMessage(protocol.NewError(protocol.CodeUnauthorized, "token required"))
		return false
	}
	return true
}

func (c *Client) handleLogbook(msg *protocol.ClientMessage) {
	if c.deps.Logbook == nil {
		c.sendMessage(protocol.NewLogbookData(nil))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := c.deps.Logbook.Query(ctx, msg.SinceTime())
	if err != nil {
		log.Printf("Logbook query for %s failed: %v", c.ip, err)
		c.sendMessage(protocol.NewError(protocol.CodeInternalError, "logbook unavailable"))
		return
	}
	c.sendMessage(protocol.NewLogbookData(sightings.WireEntries(rows)))
}

// writePump drains the send queue and keeps the connection alive with
// pings. It owns all writes on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Frames queued before teardown still go out, so a final
			// error message precedes the close frame.
			c.drainSend()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drainSend flushes already-queued frames, bounded by the queue depth.
func (c *Client) drainSend() {
	for i := 0; i < sendBuffer; i++ {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if c.conn.WriteMessage(websocket.TextMessage, frame) != nil {
				return
			}
		default:
			return
		}
	}
}
