package stream

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// DataMessage is the envelope of a DEFAULT-format stream payload.
type DataMessage struct {
	Type       string          `json:"type"` // "ticker", "trade", "orderbook", "candle.<unit>"
	Code       string          `json:"code"` // Market code (e.g., "KRW-BTC")
	StreamType string          `json:"stream_type,omitempty"`
	Status     string          `json:"status,omitempty"` // "UP" on keepalive responses
	Raw        json.RawMessage `json:"-"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://api.upbit.com/websocket/v1)
	AuthToken    string        // Bearer token for the private endpoint (empty = public)
	PingInterval time.Duration // How often to send keepalive pings
	PingTimeout  time.Duration // Max time without pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  120 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures a connection manager.
type ManagerConfig struct {
	Name              string        // Connection name ("public", "private")
	WSURL             string        // WebSocket URL
	AuthToken         string        // Bearer token (private connection only)
	RateGroup         string        // Rate group charged for subscribe frames
	DebounceDelay     time.Duration // Batching window before a frame is sent
	MaxTypesPerTicket int           // Exchange-imposed ceiling per ticket
	ReconnectBaseWait time.Duration // Base wait for reconnection backoff
	ReconnectMaxWait  time.Duration // Max wait for reconnection backoff
	PingInterval      time.Duration // Keepalive ping cadence for the transport
	WriteTimeout      time.Duration // Write deadline for the transport
	PayloadBufferSize int           // Buffer size for the decoded payload channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RateGroup:         "websocket-connect",
		DebounceDelay:     100 * time.Millisecond,
		MaxTypesPerTicket: 5,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      5 * time.Second,
		PayloadBufferSize: 10000,
	}
}
