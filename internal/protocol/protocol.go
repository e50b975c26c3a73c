// Package protocol defines the WebSocket message contract between the
// server and its subscribers. The message-type set is closed: anything
// outside it is a protocol violation, not an extension point.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxMessageBytes caps inbound message size. Anything larger is
// rejected before JSON decoding to bound parser work per message.
const MaxMessageBytes = 10 * 1024

// Client-to-server message types.
const (
	TypeHello      = "hello"
	TypePing       = "ping"
	TypeGetLogbook = "get_logbook"
	TypeGetConfig  = "get_config"
)

// Server-to-client message types.
const (
	TypeWelcome        = "welcome"
	TypePong           = "pong"
	TypeConfig         = "config"
	TypeAircraftUpdate = "aircraft_update"
	TypeAircraftList   = "aircraft_list"
	TypeNoTraffic      = "no_traffic"
	TypeLogbookData    = "logbook_data"
	TypeError          = "error"
)

// Error codes carried by error messages.
const (
	CodeProtocolError      = "protocol_error"
	CodeRateLimited        = "rate_limited"
	CodeTooManyConnections = "too_many_connections"
	CodeUnauthorized       = "unauthorized"
	CodeInternalError      = "internal_error"
)

// clientTypes is the allow-list for inbound messages.
var clientTypes = map[string]bool{
	TypeHello:      true,
	TypePing:       true,
	TypeGetLogbook: true,
	TypeGetConfig:  true,
}

// ViolationError describes why an inbound message was rejected. The
// connection handler converts it to an error message with
// CodeProtocolError.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// ClientMessage is an inbound message after envelope validation.
// Fields beyond Type are populated depending on the type.
type ClientMessage struct {
	Type string `json:"type"`

	// Token optionally authenticates a hello message
	Token string `json:"token,omitempty"`

	// Since is the inclusive Unix-seconds cursor for get_logbook
	Since *int64 `json:"since,omitempty"`
}

// DecodeClientMessage validates and decodes an inbound frame.
// Rejects oversized frames, non-object JSON, and unknown types.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	if len(data) > MaxMessageBytes {
		return nil, &ViolationError{Reason: fmt.Sprintf("message exceeds %d bytes", MaxMessageBytes)}
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ViolationError{Reason: "message is not a JSON object"}
	}
	if msg.Type == "" {
		return nil, &ViolationError{Reason: "message has no type"}
	}
	if !clientTypes[msg.Type] {
		return nil, &ViolationError{Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}

	return &msg, nil
}

// SinceTime returns the logbook cursor as a time, or the zero time when
// no cursor was supplied (meaning: everything).
func (m *ClientMessage) SinceTime() time.Time {
	if m.Since == nil {
		return time.Time{}
	}
	return time.Unix(*m.Since, 0).UTC()
}

// Aircraft is the wire representation of one tracked aircraft,
// observer-relative fields included.
type Aircraft struct {
	ID            string  `json:"id"`
	Callsign      string  `json:"callsign,omitempty"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	AltitudeM     float64 `json:"altitude_m"`
	GroundSpeedMS float64 `json:"ground_speed_ms"`
	TrackDeg      float64 `json:"track_deg"`

	DistanceKm   float64 `json:"distance_km"`
	BearingDeg   float64 `json:"bearing_deg"`
	ElevationDeg float64 `json:"elevation_deg"`
	Approaching  bool    `json:"approaching"`

	// IsVisible is true for every broadcast aircraft: snapshots carry
	// only the visible set, so the field restates the admission rule
	// for clients that check it.
	IsVisible bool `json:"is_visible"`

	// ETASeconds is set only in aircraft_list messages; omitted when
	// the aircraft has no usable ground speed.
	ETASeconds *float64 `json:"eta_seconds,omitempty"`

	// Enrichment fields, present when the info cache had an answer.
	TypeName string `json:"type_name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// LogbookEntry is the wire representation of one logbook row.
type LogbookEntry struct {
	TypeKey        string `json:"type_key"`
	TypeName       string `json:"type_name"`
	ImageURL       string `json:"image_url,omitempty"`
	Count          int    `json:"count"`
	FirstSpottedAt int64  `json:"first_spotted_at"`
	LastSpottedAt  int64  `json:"last_spotted_at"`
}

// ServerMessage is the envelope for all outbound messages.
type ServerMessage struct {
	Type string `json:"type"`

	// Timestamp is Unix seconds, set on welcome, no_traffic, and
	// aircraft_update messages
	Timestamp int64 `json:"timestamp,omitempty"`

	// Primary is the closest visible aircraft in an aircraft_update
	Primary *Aircraft `json:"primary,omitempty"`

	// Aircraft carries the full visible set (aircraft_update) or the
	// ETA-ranked dashboard list (aircraft_list)
	Aircraft []Aircraft `json:"aircraft,omitempty"`

	// Entries carries logbook_data rows
	Entries []LogbookEntry `json:"entries,omitempty"`

	// Config carries the config message payload
	Config map[string]any `json:"config,omitempty"`

	// Code and Message carry error messages
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewWelcome builds the first message sent on every connection.
func NewWelcome(at time.Time) *ServerMessage {
	return &ServerMessage{Type: TypeWelcome, Timestamp: at.Unix()}
}

// NewPong answers a ping.
func NewPong() *ServerMessage {
	return &ServerMessage{Type: TypePong}
}

// NewError builds an error message with one of the Code* constants.
func NewError(code, message string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Code: code, Message: message}
}

// NewNoTraffic tells subscribers the sky is empty. Distinct from a
// dropped connection: the link is healthy, there is just nothing to
// report.
func NewNoTraffic(at time.Time) *ServerMessage {
	return &ServerMessage{Type: TypeNoTraffic, Timestamp: at.Unix()}
}

// NewAircraftUpdate builds the main broadcast message. Primary may be
// nil when no aircraft is visible.
func NewAircraftUpdate(at time.Time, primary *Aircraft, aircraft []Aircraft) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAircraftUpdate,
		Timestamp: at.Unix(),
		Primary:   primary,
		Aircraft:  aircraft,
	}
}

// NewAircraftList builds the ETA-ranked dashboard list.
func NewAircraftList(aircraft []Aircraft) *ServerMessage {
	return &ServerMessage{Type: TypeAircraftList, Aircraft: aircraft}
}

// NewLogbookData builds a logbook query response. An empty result
// omits the entries field entirely; clients treat absent as empty.
func NewLogbookData(entries []LogbookEntry) *ServerMessage {
	return &ServerMessage{Type: TypeLogbookData, Entries: entries}
}

// NewConfig builds the config message sent in reply to get_config.
func NewConfig(fields map[string]any) *ServerMessage {
	return &ServerMessage{Type: TypeConfig, Config: fields}
}

// Encode marshals a server message for the wire.
func (m *ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}
