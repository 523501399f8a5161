package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/philsphicas/simrelay/internal/client"
	"github.com/philsphicas/simrelay/internal/protocol"
)

const statusWait = 2 * time.Second

// SendCmd sends one command through a running relay.
type SendCmd struct {
	URL         string        `default:"ws://localhost:8765" env:"SIMRELAY_URL" help:"Relay WebSocket URL."`
	DialTimeout time.Duration `default:"0s" help:"Keep retrying the relay for this long (0 = single attempt)."`

	Command string `arg:"" optional:"" help:"Command name or numeric code (see 'simrelay commands')."`
	Target  string `short:"t" help:"Target vehicle: booster, ship, or an object name such as B13."`
	Value   string `short:"v" help:"Numeric value."`
	Pitch   string `help:"Attitude pitch."`
	Yaw     string `help:"Attitude yaw."`
	Roll    string `help:"Attitude roll."`
	State   string `help:"Switch state (on or off)."`
	Raw     string `help:"Raw JSON command object, forwarded as-is. Replaces the other command flags."`
}

// build returns the command object to forward.
func (c *SendCmd) build() (json.RawMessage, error) {
	if c.Raw != "" {
		if c.Command != "" {
			return nil, fmt.Errorf("--raw cannot be combined with a command argument")
		}
		if !json.Valid([]byte(c.Raw)) {
			return nil, fmt.Errorf("--raw is not valid JSON")
		}
		return json.RawMessage(c.Raw), nil
	}
	if c.Command == "" {
		return nil, fmt.Errorf("a command or --raw is required")
	}

	code, err := protocol.ParseGameCommand(c.Command)
	if err != nil {
		return nil, err
	}
	cmd := protocol.Command{Command: code, Target: c.Target}
	for _, f := range []struct {
		name string
		in   string
		out  **float64
	}{
		{"value", c.Value, &cmd.Value},
		{"pitch", c.Pitch, &cmd.Pitch},
		{"yaw", c.Yaw, &cmd.Yaw},
		{"roll", c.Roll, &cmd.Roll},
	} {
		if f.in == "" {
			continue
		}
		v, err := strconv.ParseFloat(f.in, 64)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.out = protocol.Float(v)
	}
	switch c.State {
	case "":
	case "on":
		cmd.State = protocol.Bool(true)
	case "off":
		cmd.State = protocol.Bool(false)
	default:
		return nil, fmt.Errorf("--state must be on or off, got %q", c.State)
	}

	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return raw, nil
}

func (c *SendCmd) Run(ctx context.Context, g *Globals) error {
	raw, err := c.build()
	if err != nil {
		return err
	}
	logger := g.logger()

	status := make(chan bool, 1)
	cl, err := client.Dial(ctx, client.Config{
		URL:         c.URL,
		DialTimeout: c.DialTimeout,
		Logger:      logger,
		OnMessage: func(env protocol.Inbound) {
			if env.Type == protocol.TypeStatus && env.Connected != nil {
				select {
				case status <- *env.Connected:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck // best-effort close

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = cl.Run(runCtx) }()

	select {
	case up := <-status:
		if !up {
			logger.Warn("simulation is not connected to the relay, command will be dropped")
		}
	case <-time.After(statusWait):
		logger.Warn("no status from relay")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := cl.SendRaw(ctx, raw); err != nil {
		return err
	}
	logger.Info("command sent", "command", string(raw))
	return nil
}
