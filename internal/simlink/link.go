// Package simlink owns the TCP connection to the simulation process.
//
// A Link dials the simulation, requests periodic telemetry ticks, reads
// newline-delimited JSON frames, and reconnects with a fixed delay
// whenever the socket goes away. The simulation is supervised
// independently and may restart at any time; the link never gives up.
package simlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philsphicas/simrelay/internal/frame"
	"github.com/philsphicas/simrelay/internal/protocol"
)

const (
	DefaultAddr           = "localhost:12345"
	DefaultTickInterval   = 0.1
	DefaultDialTimeout    = 5 * time.Second
	DefaultReadTimeout    = 100 * time.Millisecond
	DefaultIdleSleep      = 10 * time.Millisecond
	DefaultReconnectDelay = 1 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultTCPKeepAlive   = 30 * time.Second

	readBufferSize = 4096
)

// ErrNotConnected is returned by Send while no simulation socket is open.
var ErrNotConnected = errors.New("simulation not connected")

// State is the connectivity state of a Link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DialFunc opens a connection to the simulation. It matches
// (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds simulation link parameters. Zero durations select the
// package defaults.
type Config struct {
	Addr string

	// TickInterval is the telemetry period, in simulated seconds, requested
	// from the simulation right after each connect.
	TickInterval float64

	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	IdleSleep      time.Duration
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	TCPKeepAlive   time.Duration

	// Dial overrides the dialer. Optional.
	Dial DialFunc

	Logger *slog.Logger

	// OnConnect is called after a connection is established and the
	// handshake was written. Optional.
	OnConnect func()
	// OnDisconnect is called when an established connection is lost.
	// Optional.
	OnDisconnect func()
	// OnFrameDropped is called for every simulation line that was not
	// delivered as a frame. Optional.
	OnFrameDropped func(reason frame.Reason)
}

// Link is a self-healing connection to the simulation process.
type Link struct {
	cfg   Config
	state atomic.Int32

	mu   sync.Mutex // guards conn and serialises writes
	conn net.Conn
}

// New returns a Link. Nothing is dialled until Run is called.
func New(cfg Config) *Link {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.TCPKeepAlive == 0 {
		cfg.TCPKeepAlive = DefaultTCPKeepAlive
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{cfg: cfg}
}

// State returns the current link state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// Connected reports whether a simulation socket is currently open.
func (l *Link) Connected() bool {
	return l.State() == Connected
}

// Addr returns the simulation address the link dials.
func (l *Link) Addr() string {
	return l.cfg.Addr
}

// Send writes cmd followed by a newline to the simulation. cmd must be a
// single JSON document; it is written verbatim. A failed write drops the
// connection so the read loop reconnects. Commands are never queued.
func (l *Link) Send(cmd []byte) error {
	msg := make([]byte, 0, len(cmd)+1)
	msg = append(msg, cmd...)
	msg = append(msg, '\n')

	l.mu.Lock()
	if l.conn == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	err := l.writeLocked(msg)
	if err == nil {
		l.mu.Unlock()
		return nil
	}
	dropped := l.dropLocked(l.conn)
	l.mu.Unlock()

	l.cfg.Logger.Warn("send to simulation failed", "error", err)
	if dropped {
		l.disconnected()
	}
	return fmt.Errorf("send to simulation: %w", err)
}

// Run drives the connect/read/reconnect state machine until ctx is
// cancelled, calling handle for every decoded frame in stream order.
// handle runs on the read loop; it should not block for long. Run closes
// the socket and returns ctx.Err() on cancellation.
func (l *Link) Run(ctx context.Context, handle func(json.RawMessage)) error {
	dec := &frame.Decoder{
		OnDrop: func(reason frame.Reason, line []byte) {
			l.cfg.Logger.Debug("dropped simulation line", "reason", reason, "line", truncate(line, 80))
			if l.cfg.OnFrameDropped != nil {
				l.cfg.OnFrameDropped(reason)
			}
		},
	}
	defer l.close()

	buf := make([]byte, readBufferSize)
	var conn net.Conn
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if conn == nil {
			c, err := l.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.cfg.Logger.Warn("simulation connect failed, retrying", "addr", l.cfg.Addr, "error", err, "delay", l.cfg.ReconnectDelay)
				if !sleep(ctx, l.cfg.ReconnectDelay) {
					return ctx.Err()
				}
				continue
			}
			conn = c
			dec.Reset()
		}

		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				handle(f)
			}
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if !sleep(ctx, l.cfg.IdleSleep) {
				return ctx.Err()
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, io.EOF) {
			l.cfg.Logger.Warn("simulation closed the connection", "addr", l.cfg.Addr)
		} else {
			l.cfg.Logger.Warn("simulation read failed", "addr", l.cfg.Addr, "error", err)
		}
		l.drop(conn)
		conn = nil
		if !sleep(ctx, l.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// connect dials the simulation and writes the telemetry-tick handshake.
func (l *Link) connect(ctx context.Context) (net.Conn, error) {
	l.state.Store(int32(Connecting))

	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()
	conn, err := l.cfg.Dial(dialCtx, "tcp", l.cfg.Addr)
	if err != nil {
		l.state.Store(int32(Disconnected))
		return nil, fmt.Errorf("dial simulation: %w", err)
	}
	SetTCPKeepAlive(conn, l.cfg.TCPKeepAlive)

	hello, _ := json.Marshal(protocol.Command{ // simple struct, cannot fail
		Command: protocol.SendDataTick,
		Value:   protocol.Float(l.cfg.TickInterval),
	})
	hello = append(hello, '\n')

	l.mu.Lock()
	l.conn = conn
	if err := l.writeLocked(hello); err != nil {
		l.conn = nil
		l.mu.Unlock()
		_ = conn.Close()
		l.state.Store(int32(Disconnected))
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	l.state.Store(int32(Connected))
	l.mu.Unlock()

	l.cfg.Logger.Info("connected to simulation", "addr", l.cfg.Addr, "tickInterval", l.cfg.TickInterval)
	if l.cfg.OnConnect != nil {
		l.cfg.OnConnect()
	}
	return conn, nil
}

func (l *Link) writeLocked(msg []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	_, err := l.conn.Write(msg)
	return err
}

// drop closes conn if it is still the active connection.
func (l *Link) drop(conn net.Conn) {
	l.mu.Lock()
	dropped := l.dropLocked(conn)
	l.mu.Unlock()
	if dropped {
		l.disconnected()
	}
}

// dropLocked closes conn and reports whether it was the active
// connection. A conn that was already replaced, e.g. by a failed Send,
// is just closed.
func (l *Link) dropLocked(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	_ = conn.Close()
	if l.conn != conn {
		return false
	}
	l.conn = nil
	l.state.Store(int32(Disconnected))
	return true
}

func (l *Link) disconnected() {
	if l.cfg.OnDisconnect != nil {
		l.cfg.OnDisconnect()
	}
}

func (l *Link) close() {
	l.mu.Lock()
	dropped := l.dropLocked(l.conn)
	l.state.Store(int32(Disconnected))
	l.mu.Unlock()
	if dropped {
		l.disconnected()
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
