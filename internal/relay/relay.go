// Package relay bridges the simulation link to downstream WebSocket
// clients: telemetry frames from the simulation are broadcast to every
// client, and game commands from any client are forwarded to the
// simulation.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/philsphicas/simrelay/internal/frame"
	"github.com/philsphicas/simrelay/internal/metrics"
	"github.com/philsphicas/simrelay/internal/registry"
	"github.com/philsphicas/simrelay/internal/simlink"
)

const (
	DefaultListenAddr = "localhost:8765"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config holds relay configuration.
type Config struct {
	// ListenAddr is the host:port clients connect to.
	ListenAddr string
	// Listener, if set, is used instead of binding ListenAddr.
	Listener net.Listener

	Sim simlink.Config

	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxClients     int
	MaxMessageSize int64
	CommandRate    float64
	CommandBurst   int
	OriginPatterns []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics and /metrics

	// OnReady, if set, is called with the bound client address once the
	// relay accepts connections.
	OnReady func(addr net.Addr)
}

// ListenAndServe runs the relay until ctx is cancelled. It returns an error
// only if the client listener cannot be bound or the HTTP server fails;
// a missing simulation is never fatal.
func ListenAndServe(ctx context.Context, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	logger := cfg.Logger
	m := cfg.Metrics

	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
		}
	}

	reg := registry.New(logger)
	reg.OnAdd = func(registry.Client) { m.ClientConnected() }
	reg.OnRemove = func(_ registry.Client, failed bool) { m.ClientDisconnected(failed) }

	simCfg := cfg.Sim
	if simCfg.Logger == nil {
		simCfg.Logger = logger
	}
	simCfg.OnConnect = chain(simCfg.OnConnect, m.LinkConnected)
	simCfg.OnDisconnect = chain(simCfg.OnDisconnect, m.LinkDisconnected)
	onDrop := simCfg.OnFrameDropped
	simCfg.OnFrameDropped = func(reason frame.Reason) {
		m.FrameDropped(string(reason))
		if onDrop != nil {
			onDrop(reason)
		}
	}
	link := simlink.New(simCfg)

	if len(cfg.OriginPatterns) == 0 {
		logger.Warn("no origin patterns configured, accepting clients from any origin")
	}

	srv := NewServer(ServerConfig{
		Link:           link,
		Registry:       reg,
		Logger:         logger,
		Metrics:        m,
		WriteTimeout:   cfg.WriteTimeout,
		PingInterval:   cfg.PingInterval,
		MaxClients:     cfg.MaxClients,
		MaxMessageSize: cfg.MaxMessageSize,
		CommandRate:    cfg.CommandRate,
		CommandBurst:   cfg.CommandBurst,
		OriginPatterns: cfg.OriginPatterns,
	})

	// Client connections outlive ctx so they can be closed with a proper
	// close frame during shutdown.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	httpSrv := &http.Server{
		Handler:           newMux(srv, link, m),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	linkCtx, cancelLink := context.WithCancel(ctx)
	defer cancelLink()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = link.Run(linkCtx, func(f json.RawMessage) {
			srv.Telemetry(connCtx, f)
		})
	}()

	logger.Info("relay listening", "addr", ln.Addr().String(), "sim", link.Addr())
	if cfg.OnReady != nil {
		cfg.OnReady(ln.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		runErr = fmt.Errorf("serve clients: %w", runErr)
	}

	logger.Info("relay shutting down")
	cancelLink()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)
	cancelConns()
	wg.Wait()

	return runErr
}

// newMux routes the WebSocket endpoint and the operational endpoints.
func newMux(srv *Server, link *simlink.Link, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, stats{
			Clients:      srv.Registry().Len(),
			Link:         link.State().String(),
			SimConnected: link.Connected(),
			SimAddr:      link.Addr(),
		})
	})
	if m != nil {
		mux.Handle("GET "+metrics.Path, m.Handler())
	}
	mux.Handle("/", srv)
	return mux
}

type stats struct {
	Clients      int    `json:"clients"`
	Link         string `json:"link"`
	SimConnected bool   `json:"simConnected"`
	SimAddr      string `json:"simAddr"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func chain(first, second func()) func() {
	if first == nil {
		return second
	}
	return func() {
		first()
		second()
	}
}
