package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philsphicas/simrelay/internal/protocol"
)

// fakeRelay accepts one client at a time, records what it sends and lets
// the test push envelopes to it.
type fakeRelay struct {
	srv      *httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{
		received: make(chan string, 64),
		conns:    make(chan *websocket.Conn, 4),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		r.conns <- ws
		for {
			_, data, err := ws.Read(req.Context())
			if err != nil {
				return
			}
			r.received <- string(data)
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *fakeRelay) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-r.conns:
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func (r *fakeRelay) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-r.received:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message from client")
		return ""
	}
}

func push(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, ws.Write(context.Background(), websocket.MessageText, []byte(msg)))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialFake(t *testing.T, r *fakeRelay, cfg Config) *Client {
	t.Helper()
	cfg.URL = r.url()
	cfg.Logger = discardLogger()
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1", Logger: discardLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial relay")
}

func TestDial_RetriesUntilBudget(t *testing.T) {
	var retries atomic.Int32
	start := time.Now()
	_, err := Dial(context.Background(), Config{
		URL:         "ws://127.0.0.1:1",
		DialTimeout: 1500 * time.Millisecond,
		Logger:      discardLogger(),
		OnRetry:     func() { retries.Add(1) },
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, retries.Load(), int32(1))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_TracksStatusAndTelemetry(t *testing.T) {
	r := startFakeRelay(t)
	var seen atomic.Int32
	c := dialFake(t, r, Config{OnMessage: func(protocol.Inbound) { seen.Add(1) }})
	ws := r.conn(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	push(t, ws, `{"type":"status","connected":true}`)
	push(t, ws, `not json`)
	push(t, ws, `{"type":"telemetry","data":{"objectname":"B13","location":[1,2,3000],"velocity":[3,4,0],"fuelMass":739160,"oxidizerMass":1330420}}`)
	push(t, ws, `{"type":"telemetry","data":{"objectname":"S30","fuelMass":500000,"oxidizerMass":1500000}}`)
	push(t, ws, `{"type":"telemetry","data":{"objectname":"Tower"}}`)

	require.NoError(t, WaitFor(ctx, func() bool { return seen.Load() == 4 }, 5*time.Millisecond))

	assert.True(t, c.SimConnected())
	assert.InDelta(t, 3000, c.Altitude(Booster), 1e-9)
	assert.Equal(t, [3]float64{3, 4, 0}, c.Velocity(Booster))
	assert.InDelta(t, 5, c.Speed(Booster), 1e-9)
	assert.InDelta(t, 100, c.FuelPercent(Booster), 1e-9)
	assert.InDelta(t, 50, c.LOXPercent(Booster), 1e-9)
	assert.InDelta(t, 2000, c.TotalPropellant(Ship), 1e-9)

	b, ok := c.Telemetry(Booster)
	require.True(t, ok)
	assert.Contains(t, string(b.Raw), `"objectname":"B13"`)

	push(t, ws, `{"type":"status","connected":false}`)
	require.NoError(t, WaitFor(ctx, func() bool { return !c.SimConnected() }, 5*time.Millisecond))

	_ = ws.Close(websocket.StatusGoingAway, "bye")
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after close")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	r := startFakeRelay(t)
	c := dialFake(t, r, Config{})
	r.conn(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		send func(c *Client) error
		want string
	}{
		{"throttle", func(c *Client) error { return c.SetThrottle(ctx, Booster, 80) },
			`{"command":7,"target":"booster","value":80}`},
		{"attitude", func(c *Client) error { return c.SetAttitude(ctx, Ship, 10, -5, 0) },
			`{"command":26,"target":"ship","pitch":10,"yaw":-5,"roll":0}`},
		{"flaps", func(c *Client) error { return c.SetFlaps(ctx, Ship, 45) },
			`{"command":9,"target":"ship","value":45}`},
		{"grid fins", func(c *Client) error { return c.SetGridFins(ctx, Booster, 12.5) },
			`{"command":11,"target":"booster","value":12.5}`},
		{"propellant converts tons to kg", func(c *Client) error { return c.SetPropellant(ctx, "S0", 1.5) },
			`{"command":16,"target":"S0","value":1500}`},
		{"hot stage", func(c *Client) error { return c.HotStage(ctx) },
			`{"command":18,"target":"ship"}`},
		{"detach hsr", func(c *Client) error { return c.DetachHSR(ctx) },
			`{"command":19,"target":"ship"}`},
		{"all engines on", func(c *Client) error { return c.StartEngines(ctx, Booster) },
			`{"command":5,"target":"booster","state":true}`},
		{"all engines off", func(c *Client) error { return c.StopEngines(ctx, Ship) },
			`{"command":5,"target":"ship","state":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := startFakeRelay(t)
			c := dialFake(t, r, Config{})
			require.NoError(t, tt.send(c))

			var env protocol.Inbound
			require.NoError(t, json.Unmarshal([]byte(r.next(t)), &env))
			assert.Equal(t, protocol.TypeGameCommand, env.Type)
			assert.Equal(t, tt.want, string(env.Command))
		})
	}
}

func TestStartEngines_SpacedPerEngine(t *testing.T) {
	r := startFakeRelay(t)
	c := dialFake(t, r, Config{EngineSpacing: 30 * time.Millisecond})

	start := time.Now()
	require.NoError(t, c.StartEngines(context.Background(), Booster, 1, 2, 3))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	for _, n := range []string{"1", "2", "3"} {
		var env protocol.Inbound
		require.NoError(t, json.Unmarshal([]byte(r.next(t)), &env))
		assert.JSONEq(t, `{"command":6,"target":"booster","value":`+n+`,"state":true}`, string(env.Command))
	}
}

func TestStopEngines_ContextCancel(t *testing.T) {
	r := startFakeRelay(t)
	c := dialFake(t, r, Config{EngineSpacing: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.StopEngines(ctx, Ship, 1, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.JSONEq(t, `{"type":"game_command","command":{"command":6,"target":"ship","value":1,"state":false}}`, r.next(t))
}

func TestSendRaw_Verbatim(t *testing.T) {
	r := startFakeRelay(t)
	c := dialFake(t, r, Config{})
	require.NoError(t, c.SendRaw(context.Background(), json.RawMessage(`{"command":33,"custom":[1,2]}`)))
	assert.Equal(t, `{"type":"game_command","command":{"command":33,"custom":[1,2]}}`, r.next(t))
}

func TestWaitFor(t *testing.T) {
	var n atomic.Int32
	err := WaitFor(context.Background(), func() bool { return n.Add(1) >= 3 }, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = WaitFor(ctx, func() bool { return false }, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitFor_NonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		var n atomic.Int32
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := WaitFor(ctx, func() bool { return n.Add(1) >= 2 }, interval)
		cancel()
		require.NoError(t, err, "interval %v", interval)
		assert.Equal(t, int32(2), n.Load())
	}
}
