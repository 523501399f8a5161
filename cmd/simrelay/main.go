package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). If no cgroup limit is detected, GOMEMLIMIT is
	// left at the Go default.
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/willabides/kongplete"

	"github.com/philsphicas/simrelay/internal/config"
	"github.com/philsphicas/simrelay/internal/metrics"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

// Globals are flags shared by every command.
type Globals struct {
	LogLevel    string          `default:"info" enum:"debug,info,warn,error" env:"SIMRELAY_LOG_LEVEL" help:"Log level (${enum})."`
	LogFormat   string          `default:"text" enum:"text,json" env:"SIMRELAY_LOG_FORMAT" help:"Log format (${enum})."`
	MetricsAddr string          `env:"SIMRELAY_METRICS_ADDR" help:"Address for the Prometheus metrics server (e.g. :9090); disabled if empty."`
	Config      kong.ConfigFlag `help:"Configuration file (JSON with comments, or YAML)."`

	stderr io.Writer `kong:"-"`
}

// CLI is the simrelay command line.
type CLI struct {
	Globals

	Serve              ServeCmd                      `cmd:"" default:"withargs" help:"Run the relay between the simulation and WebSocket clients."`
	Send               SendCmd                       `cmd:"" help:"Send one game command through a running relay."`
	Watch              WatchCmd                      `cmd:"" help:"Print envelopes received from a running relay."`
	Commands           CommandsCmd                   `cmd:"" help:"List the game command vocabulary."`
	Version            VersionCmd                    `cmd:"" help:"Print the version."`
	InstallCompletions kongplete.InstallCompletions `cmd:"" help:"Install shell completions."`
}

func main() {
	// A missing .env is normal; anything else is worth reporting.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{Globals: Globals{stderr: os.Stderr}}
	parser := newParser(ctx, &cli)
	kongplete.Complete(parser)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newParser(ctx context.Context, cli *CLI, opts ...kong.Option) *kong.Kong {
	opts = append([]kong.Option{
		kong.Name("simrelay"),
		kong.Description("Bridge a rocket simulation's TCP telemetry stream to WebSocket clients."),
		kong.UsageOnError(),
		kong.Configuration(config.Loader, "/etc/simrelay/config.yaml", "~/.config/simrelay/config.yaml"),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Vars{"version": version},
	}, opts...)
	return kong.Must(cli, opts...)
}

// logger builds the process logger from the global flags.
func (g *Globals) logger() *slog.Logger {
	w := g.stderr
	if w == nil {
		w = os.Stderr
	}
	return newLogger(g.LogLevel, g.LogFormat, w)
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveMetrics creates a Metrics instance and starts its HTTP server if
// an address is configured. Returns nil if metrics are disabled. The
// server shuts down when ctx is cancelled.
func resolveMetrics(ctx context.Context, addr string, logger *slog.Logger) (*metrics.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, ln, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m, nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Println(version)
	return nil
}
