package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsClient adapts a WebSocket connection to registry.Client.
type wsClient struct {
	id           string
	ws           *websocket.Conn
	remote       string
	writeTimeout time.Duration

	// writeMu orders whole messages on the connection. It is also held
	// across registration and the status write so no broadcast can reach
	// the client before its status envelope.
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newWSClient(ws *websocket.Conn, remote string, writeTimeout time.Duration) *wsClient {
	return &wsClient{
		id:           uuid.NewString(),
		ws:           ws,
		remote:       remote,
		writeTimeout: writeTimeout,
	}
}

func (c *wsClient) ID() string { return c.id }

// Send writes data as a single text message.
func (c *wsClient) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(ctx, data)
}

func (c *wsClient) writeLocked(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close drops the transport immediately. Used when a send failed and the
// peer can no longer be trusted to complete a close handshake.
func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.ws.CloseNow() })
	return err
}

// shutdown performs a graceful close with the given status.
func (c *wsClient) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() { _ = c.ws.Close(code, reason) })
}

// pingLoop sends periodic WebSocket pings so idle clients behind proxies
// stay attached. A failed ping closes the client, which ends its receive
// loop.
func (c *wsClient) pingLoop(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				_ = c.Close()
				return
			}
		}
	}
}

// isNormalClose reports whether err is the peer closing the WebSocket
// cleanly.
func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
