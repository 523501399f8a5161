// Package client is a Go client for the relay's downstream WebSocket
// protocol. It keeps the latest telemetry per vehicle and offers command
// builders for flight software and operator tooling.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/simrelay/internal/protocol"
)

const (
	DefaultURL           = "ws://localhost:8765"
	DefaultEngineSpacing = 50 * time.Millisecond
	DefaultWriteTimeout  = 5 * time.Second
	DefaultWaitInterval  = 100 * time.Millisecond

	dialAttemptTimeout = 10 * time.Second
	dialRetryBase      = 1 * time.Second
	dialRetryMax       = 30 * time.Second

	maxMessageSize = 4 << 20
)

// ErrClosed is returned by Run when the relay closed the connection.
var ErrClosed = errors.New("relay closed the connection")

// Config holds client parameters.
type Config struct {
	URL string

	// DialTimeout bounds the total time spent dialling, retries included.
	// Zero means a single attempt.
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// EngineSpacing is the pause between per-engine commands.
	EngineSpacing time.Duration

	Logger *slog.Logger

	// OnRetry is called before each dial retry. Optional.
	OnRetry func()
	// OnMessage is called for every envelope received, after the client
	// state was updated. It runs on the Run goroutine. Optional.
	OnMessage func(env protocol.Inbound)
}

// Client is a connection to the relay.
type Client struct {
	cfg Config
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu           sync.RWMutex
	simConnected bool
	telemetry    map[Vehicle]Telemetry
}

// Dial connects to the relay, retrying with exponential backoff (1s, 2s,
// 4s, capped at 30s) until cfg.DialTimeout is exhausted or ctx is
// cancelled.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.EngineSpacing == 0 {
		cfg.EngineSpacing = DefaultEngineSpacing
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ws, err := dialWithTimeout(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)
	return &Client{
		cfg:       cfg,
		ws:        ws,
		telemetry: make(map[Vehicle]Telemetry),
	}, nil
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return ws, nil
}

func dialWithTimeout(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	if cfg.DialTimeout == 0 {
		return dial(ctx, cfg.URL)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	delay := dialRetryBase
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			cfg.Logger.Debug("retrying relay dial", "attempt", attempt, "delay", delay)
			if cfg.OnRetry != nil {
				cfg.OnRetry()
			}
			select {
			case <-timeoutCtx.Done():
				return nil, lastErr
			case <-time.After(delay):
			}
			delay = min(delay*2, dialRetryMax)
		}
		ws, err := dial(timeoutCtx, cfg.URL)
		if err == nil {
			return ws, nil
		}
		lastErr = err
		cfg.Logger.Debug("relay dial attempt failed", "attempt", attempt+1, "error", err)
		if timeoutCtx.Err() != nil {
			return nil, lastErr
		}
	}
}

// Run reads envelopes until ctx is cancelled or the connection ends. It
// returns ErrClosed when the relay closed the connection normally.
func (c *Client) Run(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return ErrClosed
			}
			return fmt.Errorf("read from relay: %w", err)
		}

		var env protocol.Inbound
		if err := json.Unmarshal(data, &env); err != nil {
			c.cfg.Logger.Warn("invalid message from relay", "error", err)
			continue
		}
		c.handle(env)
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(env)
		}
	}
}

func (c *Client) handle(env protocol.Inbound) {
	switch env.Type {
	case protocol.TypeStatus:
		if env.Connected == nil {
			return
		}
		c.mu.Lock()
		c.simConnected = *env.Connected
		c.mu.Unlock()
	case protocol.TypeTelemetry:
		t, err := ParseTelemetry(env.Data)
		if err != nil {
			c.cfg.Logger.Debug("unreadable telemetry frame", "error", err)
			return
		}
		v, ok := VehicleOf(t.ObjectName)
		if !ok {
			return
		}
		c.mu.Lock()
		c.telemetry[v] = t
		c.mu.Unlock()
	}
}

// SimConnected reports the simulation state from the last status
// envelope.
func (c *Client) SimConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simConnected
}

// Telemetry returns the latest frame for v.
func (c *Client) Telemetry(v Vehicle) (Telemetry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.telemetry[v]
	return t, ok
}

// Close closes the connection with a normal closure.
func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// WaitFor polls cond every interval until it returns true or ctx is done.
// A non-positive interval means DefaultWaitInterval.
func WaitFor(ctx context.Context, cond func() bool, interval time.Duration) error {
	if cond() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
