package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/philsphicas/simrelay/internal/client"
	"github.com/philsphicas/simrelay/internal/protocol"
)

// WatchCmd prints what a relay broadcasts.
type WatchCmd struct {
	URL         string        `default:"ws://localhost:8765" env:"SIMRELAY_URL" help:"Relay WebSocket URL."`
	DialTimeout time.Duration `default:"30s" help:"Keep retrying the relay for this long (0 = single attempt)."`
	Format      string        `default:"json" enum:"json,summary" help:"Output format (${enum})."`
	Count       int           `short:"n" default:"0" help:"Exit after this many telemetry frames (0 = run until interrupted)."`

	Out io.Writer `kong:"-"`
}

func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	logger := g.logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var frames int
	enc := json.NewEncoder(out)
	cl, err := client.Dial(ctx, client.Config{
		URL:         c.URL,
		DialTimeout: c.DialTimeout,
		Logger:      logger,
		OnMessage: func(env protocol.Inbound) {
			if c.Format == "summary" {
				if line := summarize(env); line != "" {
					fmt.Fprintln(out, line)
				}
			} else {
				_ = enc.Encode(env)
			}
			if env.Type == protocol.TypeTelemetry {
				frames++
				if c.Count > 0 && frames >= c.Count {
					cancel()
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck // best-effort close

	err = cl.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, client.ErrClosed):
		logger.Info("relay closed the connection")
		return nil
	}
	return err
}

// summarize renders one envelope as a single human-readable line.
func summarize(env protocol.Inbound) string {
	switch env.Type {
	case protocol.TypeStatus:
		if env.Connected != nil && *env.Connected {
			return "status: simulation connected"
		}
		return "status: simulation disconnected"
	case protocol.TypeTelemetry:
		t, err := client.ParseTelemetry(env.Data)
		if err != nil {
			return fmt.Sprintf("telemetry: %s", env.Data)
		}
		v, ok := client.VehicleOf(t.ObjectName)
		if !ok {
			return fmt.Sprintf("%s: %s", t.ObjectName, env.Data)
		}
		return fmt.Sprintf("%s alt=%.1fm speed=%.1fm/s fuel=%.1f%% lox=%.1f%% prop=%.1ft",
			t.ObjectName, t.Altitude(), t.Speed(), t.FuelPercent(v), t.LOXPercent(v), t.TotalPropellant())
	}
	return ""
}
