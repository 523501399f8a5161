package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/philsphicas/simrelay/internal/metrics"
	"github.com/philsphicas/simrelay/internal/protocol"
	"github.com/philsphicas/simrelay/internal/registry"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	pingTimeout           = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// Link is the simulation side as seen by the relay server.
type Link interface {
	// Connected reports whether the simulation socket is open.
	Connected() bool
	// Send writes one JSON command to the simulation.
	Send(cmd []byte) error
}

// ServerConfig holds parameters for the client-facing WebSocket server.
type ServerConfig struct {
	Link     Link
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics // optional; nil disables metrics

	WriteTimeout   time.Duration // per message sent to a client
	PingInterval   time.Duration // negative disables pings
	MaxClients     int           // 0 = unlimited
	MaxMessageSize int64         // largest inbound client message

	// CommandRate limits game commands per client per second; 0 means
	// unlimited. CommandBurst is the bucket size.
	CommandRate  float64
	CommandBurst int

	// OriginPatterns restricts browser origins. Empty accepts any origin.
	OriginPatterns []string
}

// Server accepts downstream WebSocket clients, greets them with the link
// status, forwards their game commands to the Link and fans telemetry out
// to them through the Registry.
type Server struct {
	cfg ServerConfig
	sem *clientSemaphore

	// handlers tracks live connection goroutines for shutdown.
	handlers sync.WaitGroup
}

// NewServer returns a Server. cfg.Link must be set; a Registry is created
// if none is given.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(cfg.Logger)
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 1
	}
	return &Server{
		cfg: cfg,
		sem: newClientSemaphore(cfg.MaxClients),
	}
}

// Registry returns the server's client registry.
func (s *Server) Registry() *registry.Registry {
	return s.cfg.Registry
}

// ServeHTTP upgrades the request to a WebSocket and runs the client until
// it disconnects or the request context ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.cfg.Logger

	if !s.sem.tryAcquire(r.Context()) {
		logger.Warn("max clients reached, rejecting connection", "remote", r.RemoteAddr)
		s.cfg.Metrics.ClientRejected(metrics.RejectMaxClients)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.release()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.cfg.OriginPatterns,
		InsecureSkipVerify: len(s.cfg.OriginPatterns) == 0,
	})
	if err != nil {
		logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		s.cfg.Metrics.ClientRejected(metrics.RejectHandshake)
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	s.handlers.Add(1)
	defer s.handlers.Done()

	c := newWSClient(ws, r.RemoteAddr, s.cfg.WriteTimeout)
	defer func() { _ = c.Close() }()
	s.handleClient(r.Context(), c)
}

func (s *Server) handleClient(ctx context.Context, c *wsClient) {
	logger := s.cfg.Logger.With("clientId", c.ID(), "remote", c.remote)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.attach(ctx, c); err != nil {
		logger.Debug("failed to send status", "error", err)
		return
	}
	defer s.cfg.Registry.Remove(c)

	go c.pingLoop(ctx, s.cfg.PingInterval, pingTimeout)

	var limiter *rate.Limiter
	if s.cfg.CommandRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst)
	}

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if isNormalClose(err) {
				logger.Debug("client closed connection")
			} else {
				logger.Debug("client read ended", "error", err)
			}
			return
		}
		s.handleMessage(logger, limiter, data)
	}
}

// attach registers c and sends it the current link status. The client's
// write lock is held throughout so a concurrent broadcast queues behind
// the status envelope.
func (s *Server) attach(ctx context.Context, c *wsClient) error {
	status, _ := json.Marshal(protocol.NewStatus(s.cfg.Link.Connected())) // simple struct, cannot fail

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	s.cfg.Registry.Add(c)
	if err := c.writeLocked(ctx, status); err != nil {
		s.cfg.Registry.Remove(c)
		return err
	}
	return nil
}

func (s *Server) handleMessage(logger *slog.Logger, limiter *rate.Limiter, data []byte) {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("invalid JSON from client", "error", err)
		s.cfg.Metrics.ClientMessage("invalid")
		return
	}
	s.cfg.Metrics.ClientMessage(msg.Type)

	if msg.Type != protocol.TypeGameCommand {
		logger.Debug("ignoring client message", "type", msg.Type)
		return
	}
	if len(msg.Command) == 0 || string(msg.Command) == "null" {
		logger.Warn("game_command without command payload")
		s.cfg.Metrics.Command(metrics.CommandInvalid)
		return
	}
	if limiter != nil && !limiter.Allow() {
		logger.Warn("command rate limit exceeded, dropping command")
		s.cfg.Metrics.Command(metrics.CommandRateLimited)
		return
	}

	cmd := []byte(msg.Command)
	// The simulation reads one JSON document per line.
	if bytes.ContainsAny(cmd, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, cmd); err != nil {
			logger.Warn("invalid command payload", "error", err)
			s.cfg.Metrics.Command(metrics.CommandInvalid)
			return
		}
		cmd = buf.Bytes()
	}

	if err := s.cfg.Link.Send(cmd); err != nil {
		logger.Warn("command dropped", "error", err)
		s.cfg.Metrics.Command(metrics.CommandDropped)
		return
	}
	s.cfg.Metrics.Command(metrics.CommandForwarded)
}

// Telemetry wraps frame in a telemetry envelope and broadcasts it to all
// clients. It returns once every client has been attempted.
func (s *Server) Telemetry(ctx context.Context, frame json.RawMessage) {
	start := time.Now()
	delivered, err := s.cfg.Registry.Broadcast(ctx, protocol.NewTelemetry(frame))
	if err != nil {
		s.cfg.Logger.Warn("telemetry broadcast failed", "error", err)
		return
	}
	s.cfg.Metrics.FrameBroadcast(delivered, time.Since(start).Seconds())
}

// Shutdown closes every client with StatusGoingAway and waits for their
// handlers to return, or for ctx to end. Clients still registered after
// that are dropped.
func (s *Server) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.cfg.Registry.Clients() {
		wc, ok := c.(*wsClient)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			wc.shutdown(websocket.StatusGoingAway, "relay shutting down")
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.cfg.Registry.CloseAll()
}
