// Package gateway exposes a running agent over a websocket control
// plane. Clients authenticate with a shared-secret challenge, then
// issue JSON-RPC requests and receive sequence-numbered events. The
// same HTTP listener serves single-shot RPC, Prometheus metrics and a
// health probe.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/observability"
	"github.com/mika/saker/pkg/session"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultPerMinute    = 60
	defaultMaxActive    = 10
	drainTimeout        = 30 * time.Second
	writeTimeout        = 10 * time.Second
	maxFrameBytes       = 1 << 20

	// SecretHeader authenticates single-shot HTTP RPC calls.
	SecretHeader = "X-Saker-Secret"
)

// Config configures a Server.
type Config struct {
	// Addr is the TCP listen address, for example "127.0.0.1:8765".
	Addr string
	// Secret is the shared secret clients must prove possession of.
	Secret string
	// Runner serves the `run` RPC. Optional; without it the method is
	// not registered.
	Runner Runner
	// Sessions backs the sessions.* RPC methods. Optional.
	Sessions *session.Store
	// TickInterval spaces the liveness events broadcast to clients.
	TickInterval time.Duration
	// RequestsPerMinute and MaxConcurrent bound each client.
	RequestsPerMinute int
	MaxConcurrent     int
	Logger            zerolog.Logger
}

// Server is the websocket gateway.
type Server struct {
	addr     string
	auth     *authenticator
	clients  *registry
	router   *router
	events   *Broadcaster
	runner   Runner
	sessions *session.Store
	log      zerolog.Logger

	tickInterval time.Duration
	perMinute    int
	maxActive    int
	upgrader     websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	shutdownMu sync.RWMutex
	stopping   bool
	inFlight   sync.WaitGroup
	tickStop   chan struct{}
	tickDone   sync.WaitGroup
}

// NewServer builds a Server. The secret is mandatory: an open gateway
// would hand shell-adjacent tool access to anyone who can reach the
// port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultPerMinute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxActive
	}

	observability.EnsureRegistered()

	clients := newRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:         cfg.Addr,
		auth:         &authenticator{secret: cfg.Secret},
		clients:      clients,
		router:       newRouter(),
		events:       newBroadcaster(clients, cfg.Logger),
		runner:       cfg.Runner,
		sessions:     cfg.Sessions,
		log:          cfg.Logger,
		tickInterval: cfg.TickInterval,
		perMinute:    cfg.RequestsPerMinute,
		maxActive:    cfg.MaxConcurrent,
		baseCtx:      ctx,
		baseCancel:   cancel,
		tickStop:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.registerBuiltins()
	return s, nil
}

// Start binds the listener and begins serving. It returns once the
// port is bound; Addr reports the bound address, which matters when
// the configured port is 0.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleHTTPRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpServer = &http.Server{Handler: mux}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("gateway serve error")
		}
	}()

	s.tickDone.Add(1)
	go s.tickLoop()
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down. The base
// context handed to RPC handlers is cancelled first, so a stuck run
// ends instead of pinning the drain for its full timeout.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.stopping {
		s.shutdownMu.Unlock()
		return nil
	}
	s.stopping = true
	s.shutdownMu.Unlock()

	s.log.Info().Msg("gateway shutting down")

	close(s.tickStop)
	s.tickDone.Wait()

	s.events.Broadcast("server.shutdown", map[string]interface{}{"reason": "shutdown"})
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.log.Warn().Msg("drain timeout reached, closing anyway")
	}

	for _, c := range s.clients.all() {
		c.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	s.log.Info().Msg("gateway stopped")
	return nil
}

// RegisterMethod adds an RPC method. Names registered by the server
// itself (run, status, sessions.*) can be overridden.
func (s *Server) RegisterMethod(name string, h Handler) error {
	return s.router.register(name, h)
}

// Events returns the broadcaster, letting other components (scheduler,
// callbacks) push events through the gateway.
func (s *Server) Events() *Broadcaster {
	return s.events
}

// Clients lists current connections.
func (s *Server) Clients() []ClientInfo {
	return s.clients.infos()
}

func (s *Server) isStopping() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.stopping
}

func (s *Server) tickLoop() {
	defer s.tickDone.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickStop:
			return
		case <-ticker.C:
			s.events.Send(Event{
				Event:  "tick",
				Stream: StreamLifecycle,
				Phase:  "tick",
				Data: map[string]interface{}{
					"clients":  s.clients.count(),
					"uptime_s": int64(time.Since(s.startedAt).Seconds()),
				},
			})
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isStopping() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}
	challenge, err := s.auth.newChallenge()
	if err != nil {
		s.log.Error().Err(err).Msg("challenge generation failed")
		conn.Close()
		return
	}

	c := &client{
		id:           id,
		conn:         conn,
		remoteAddr:   r.RemoteAddr,
		connectedAt:  time.Now(),
		lastActivity: time.Now(),
		challenge:    challenge,
		limiter:      newLimiter(s.perMinute, s.maxActive),
	}
	s.clients.add(c)
	s.log.Info().Str("client_id", id).Str("remote", r.RemoteAddr).Msg("client connected")

	if err := c.send(authChallenge{Event: "auth.challenge", Challenge: challenge}); err != nil {
		s.log.Error().Err(err).Str("client_id", id).Msg("send challenge failed")
		conn.Close()
		s.clients.remove(id)
		return
	}

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer func() {
		c.conn.Close()
		s.clients.remove(c.id)
		s.log.Info().Str("client_id", c.id).Msg("client disconnected")
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
		c.touch()
		s.handleFrame(c, frame)
	}
}

func (s *Server) handleFrame(c *client, frame []byte) {
	var af authFrame
	if err := json.Unmarshal(frame, &af); err == nil && af.Method == "auth.response" {
		s.handleAuth(c, af.Signature)
		return
	}

	if !c.isAuthenticated() {
		s.sendError(c, "", CodeAuthRequired, "authentication required")
		return
	}

	req, rpcErr := parse(frame)
	if rpcErr != nil {
		s.sendError(c, "", rpcErr.Code, rpcErr.Message)
		return
	}

	if s.isStopping() {
		s.sendError(c, req.ID, CodeShuttingDown, "server is shutting down")
		return
	}

	if ok, code := c.limiter.admit(); !ok {
		msg := "rate limit exceeded"
		if code == CodeTooConcurrent {
			msg = "too many concurrent requests"
		}
		s.sendError(c, req.ID, code, msg)
		return
	}

	c.limiter.begin()
	s.inFlight.Add(1)

	// Responses are written from this goroutine while the read loop
	// keeps consuming frames, so slow handlers do not block the
	// connection.
	go func() {
		defer c.limiter.end()
		defer s.inFlight.Done()

		resp := s.router.dispatch(s.baseCtx, req)
		if err := c.send(resp); err != nil {
			s.log.Error().Err(err).Str("client_id", c.id).Str("request_id", req.ID).Msg("send response failed")
		}
	}()
}

func (s *Server) handleAuth(c *client, signature string) {
	c.mu.Lock()
	challenge := c.challenge
	if challenge == "" {
		c.mu.Unlock()
		c.send(authVerdict{Event: "auth.failure", Message: "no challenge outstanding"})
		return
	}

	if !s.auth.verify(challenge, signature) {
		c.authAttempts++
		attempts := c.authAttempts
		c.mu.Unlock()

		s.log.Warn().Str("client_id", c.id).Int("attempts", attempts).Msg("authentication failed")
		c.send(authVerdict{Event: "auth.failure", Message: "invalid signature"})
		if attempts >= maxAuthAttempts {
			c.conn.Close()
		}
		return
	}

	c.authenticated = true
	c.challenge = ""
	c.authAttempts = 0
	c.mu.Unlock()

	s.log.Info().Str("client_id", c.id).Msg("client authenticated")
	c.send(authVerdict{Event: "auth.success", Success: true})
}

func (s *Server) sendError(c *client, requestID string, code int, message string) {
	if err := c.send(errorResponse(requestID, &Error{Code: code, Message: message})); err != nil {
		s.log.Error().Err(err).Str("client_id", c.id).Msg("send error response failed")
	}
}

// handleHTTPRPC serves one-shot RPC over plain HTTP. The shared secret
// travels in a header instead of the challenge flow, which suits curl
// and cron-style callers that hold the secret anyway.
func (s *Server) handleHTTPRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get(SecretHeader) != s.auth.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, rpcErr := parse(body)
	if rpcErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse("", rpcErr))
		return
	}

	resp := s.router.dispatch(r.Context(), req)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("encode rpc response failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"clients":  s.clients.count(),
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
	})
}
