package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamType labels the typed event streams delivered to clients.
type StreamType string

const (
	StreamTool      StreamType = "tool"
	StreamAssistant StreamType = "assistant"
	StreamLifecycle StreamType = "lifecycle"
)

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	ID             string                 `json:"id"`
	Method         string                 `json:"method"`
	Params         map[string]interface{} `json:"params,omitempty"`
	JSONRPC        string                 `json:"jsonrpc"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC error codes. The -32600 block follows the JSON-RPC 2.0 spec;
// the -32000 block is reserved for server-defined conditions.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeAuthRequired   = -32001
	CodeRateLimited    = -32005
	CodeTooConcurrent  = -32006
	CodeShuttingDown   = -32007
)

// Event is a server-initiated message pushed to every authenticated
// client. Seq is a server-wide monotonic counter so clients can detect
// dropped frames.
type Event struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Stream    StreamType  `json:"stream,omitempty"`
	Phase     string      `json:"phase,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	Session   string      `json:"session,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// authChallenge is the first frame sent to a new connection.
type authChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// authFrame is the client's reply to a challenge.
type authFrame struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// authVerdict reports the outcome of an authentication attempt.
type authVerdict struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Handler serves one RPC method. The context is cancelled when the
// server shuts down.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ClientInfo is a point-in-time view of a connection, exposed for
// status reporting.
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	RemoteAddr    string    `json:"remote_addr"`
}

// client is one websocket connection. The write mutex serializes frame
// writes: gorilla/websocket allows at most one concurrent writer, and
// both the broadcaster and the RPC responder write to the same conn.
type client struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time
	limiter     *limiter

	writeMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	challenge     string
	authAttempts  int
	lastActivity  time.Time
}

func (c *client) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *client) sendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:            c.id,
		Authenticated: c.authenticated,
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.lastActivity,
		RemoteAddr:    c.remoteAddr,
	}
}
