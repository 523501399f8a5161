package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/simrelay/internal/protocol"
)

// Send wraps cmd in a game_command envelope and writes it to the relay.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return c.SendRaw(ctx, raw)
}

// SendRaw sends an already encoded command object. The relay forwards it
// to the simulation unchanged.
func (c *Client) SendRaw(ctx context.Context, cmd json.RawMessage) error {
	data, err := json.Marshal(protocol.GameCommandEnvelope{
		Type:    protocol.TypeGameCommand,
		Command: cmd,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// StartEngines ignites the listed engines one at a time, or all engines
// with a single command when none are listed.
func (c *Client) StartEngines(ctx context.Context, v Vehicle, engines ...int) error {
	return c.setEngines(ctx, v, true, engines)
}

// StopEngines shuts down the listed engines, or all of them.
func (c *Client) StopEngines(ctx context.Context, v Vehicle, engines ...int) error {
	return c.setEngines(ctx, v, false, engines)
}

func (c *Client) setEngines(ctx context.Context, v Vehicle, on bool, engines []int) error {
	if len(engines) == 0 {
		return c.Send(ctx, protocol.Command{
			Command: protocol.Engines,
			Target:  string(v),
			State:   protocol.Bool(on),
		})
	}
	for i, n := range engines {
		if i > 0 {
			t := time.NewTimer(c.cfg.EngineSpacing)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		err := c.Send(ctx, protocol.Command{
			Command: protocol.Raptor,
			Target:  string(v),
			Value:   protocol.Float(float64(n)),
			State:   protocol.Bool(on),
		})
		if err != nil {
			return fmt.Errorf("engine %d: %w", n, err)
		}
	}
	return nil
}

// SetThrottle sets throttle in percent (0-100).
func (c *Client) SetThrottle(ctx context.Context, v Vehicle, percent float64) error {
	return c.Send(ctx, protocol.Command{
		Command: protocol.Throttle,
		Target:  string(v),
		Value:   protocol.Float(percent),
	})
}

// SetAttitude sets the attitude target in degrees.
func (c *Client) SetAttitude(ctx context.Context, v Vehicle, pitch, yaw, roll float64) error {
	return c.Send(ctx, protocol.Command{
		Command: protocol.AttitudeTarget,
		Target:  string(v),
		Pitch:   protocol.Float(pitch),
		Yaw:     protocol.Float(yaw),
		Roll:    protocol.Float(roll),
	})
}

func (c *Client) SetFlaps(ctx context.Context, v Vehicle, angle float64) error {
	return c.Send(ctx, protocol.Command{
		Command: protocol.Flaps,
		Target:  string(v),
		Value:   protocol.Float(angle),
	})
}

func (c *Client) SetGridFins(ctx context.Context, v Vehicle, angle float64) error {
	return c.Send(ctx, protocol.Command{
		Command: protocol.GridFins,
		Target:  string(v),
		Value:   protocol.Float(angle),
	})
}

// SetPropellant sets the propellant load. The simulation expects kg.
func (c *Client) SetPropellant(ctx context.Context, v Vehicle, tons float64) error {
	return c.Send(ctx, protocol.Command{
		Command: protocol.Propellant,
		Target:  string(v),
		Value:   protocol.Float(tons * kgPerTon),
	})
}

func (c *Client) HotStage(ctx context.Context) error {
	return c.Send(ctx, protocol.Command{Command: protocol.HotStage, Target: string(Ship)})
}

// DetachHSR jettisons the hot-staging ring.
func (c *Client) DetachHSR(ctx context.Context) error {
	return c.Send(ctx, protocol.Command{Command: protocol.DetachHSR, Target: string(Ship)})
}
