package main

import (
	"context"
	"time"

	"github.com/philsphicas/simrelay/internal/relay"
	"github.com/philsphicas/simrelay/internal/simlink"
)

// ServeCmd runs the relay.
type ServeCmd struct {
	Listen string `default:"localhost:8765" env:"SIMRELAY_LISTEN" help:"Address WebSocket clients connect to."`

	Sim            string        `default:"localhost:12345" env:"SIMRELAY_SIM_ADDR" help:"Simulation TCP address."`
	TickInterval   float64       `default:"0.1" env:"SIMRELAY_TICK_INTERVAL" help:"Telemetry period requested from the simulation, in simulated seconds."`
	DialTimeout    time.Duration `default:"5s" help:"Timeout for each simulation connect attempt."`
	ReadTimeout    time.Duration `default:"100ms" help:"Per-read deadline on the simulation socket."`
	ReconnectDelay time.Duration `default:"1s" env:"SIMRELAY_RECONNECT_DELAY" help:"Pause between simulation reconnect attempts."`
	TCPKeepAlive   time.Duration `name:"tcp-keepalive" default:"30s" help:"TCP keepalive interval on the simulation socket."`

	WriteTimeout   time.Duration `default:"5s" help:"Timeout for each message sent to a client."`
	PingInterval   time.Duration `default:"30s" help:"WebSocket ping interval; negative disables pings."`
	MaxClients     int           `default:"0" env:"SIMRELAY_MAX_CLIENTS" help:"Max attached clients (0 = unlimited)."`
	MaxMessageSize int64         `default:"65536" help:"Largest message accepted from a client, in bytes."`
	CommandRate    float64       `default:"0" env:"SIMRELAY_COMMAND_RATE" help:"Game commands per second allowed per client (0 = unlimited)."`
	CommandBurst   int           `default:"10" help:"Burst size for the per-client command limit."`
	Origin         []string      `env:"SIMRELAY_ORIGINS" help:"Allowed browser origin patterns; any origin if empty."`
}

func (c *ServeCmd) config() relay.Config {
	return relay.Config{
		ListenAddr: c.Listen,
		Sim: simlink.Config{
			Addr:           c.Sim,
			TickInterval:   c.TickInterval,
			DialTimeout:    c.DialTimeout,
			ReadTimeout:    c.ReadTimeout,
			ReconnectDelay: c.ReconnectDelay,
			TCPKeepAlive:   c.TCPKeepAlive,
		},
		WriteTimeout:   c.WriteTimeout,
		PingInterval:   c.PingInterval,
		MaxClients:     c.MaxClients,
		MaxMessageSize: c.MaxMessageSize,
		CommandRate:    c.CommandRate,
		CommandBurst:   c.CommandBurst,
		OriginPatterns: c.Origin,
	}
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	logger := g.logger()

	m, err := resolveMetrics(ctx, g.MetricsAddr, logger)
	if err != nil {
		return err
	}

	cfg := c.config()
	cfg.Logger = logger
	cfg.Metrics = m
	return relay.ListenAndServe(ctx, cfg)
}
