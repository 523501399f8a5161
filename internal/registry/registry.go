// Package registry tracks the downstream clients attached to the relay
// and fans messages out to them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client is one downstream connection.
type Client interface {
	// ID uniquely identifies the client for the lifetime of the process.
	ID() string
	// Send delivers one complete message. Implementations must be safe
	// for concurrent use and must never deliver a partial message.
	Send(ctx context.Context, data []byte) error
	// Close tears down the transport. It must be safe to call more than
	// once.
	Close() error
}

// Registry is a concurrency-safe set of clients.
type Registry struct {
	logger *slog.Logger

	// OnAdd, if set, is called after a client joins the set.
	OnAdd func(c Client)
	// OnRemove, if set, is called after a client leaves the set, with
	// failed reporting whether the removal was caused by a send error.
	OnRemove func(c Client, failed bool)

	mu      sync.RWMutex
	clients map[string]Client
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		clients: make(map[string]Client),
	}
}

// Add registers c and returns the number of registered clients.
func (r *Registry) Add(c Client) int {
	r.mu.Lock()
	r.clients[c.ID()] = c
	count := len(r.clients)
	r.mu.Unlock()

	r.logger.Info("client connected", "clientId", c.ID(), "clients", count)
	if r.OnAdd != nil {
		r.OnAdd(c)
	}
	return count
}

// Remove unregisters c. It reports whether c was registered.
func (r *Registry) Remove(c Client) bool {
	return r.remove(c, false)
}

func (r *Registry) remove(c Client, failed bool) bool {
	r.mu.Lock()
	cur, ok := r.clients[c.ID()]
	if ok && cur == c {
		delete(r.clients, c.ID())
	} else {
		ok = false
	}
	count := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Info("client disconnected", "clientId", c.ID(), "clients", count)
	if r.OnRemove != nil {
		r.OnRemove(c, failed)
	}
	return true
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Clients returns a snapshot of the registered clients.
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast encodes msg once and sends it to every registered client in
// parallel. It waits for all sends to finish and returns how many
// succeeded. A client whose send fails is removed and closed; the failure
// does not affect delivery to anyone else. msg may be a []byte or
// json.RawMessage, which is sent as-is.
func (r *Registry) Broadcast(ctx context.Context, msg any) (int, error) {
	data, err := encode(msg)
	if err != nil {
		return 0, err
	}

	targets := r.Clients()
	if len(targets) == 0 {
		return 0, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			if err := c.Send(ctx, data); err != nil {
				r.logger.Debug("send to client failed, dropping client", "clientId", c.ID(), "error", err)
				if r.remove(c, true) {
					_ = c.Close()
				}
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return delivered, nil
}

// CloseAll removes and closes every registered client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]Client)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			_ = c.Close()
			if r.OnRemove != nil {
				r.OnRemove(c, false)
			}
		}(c)
	}
	wg.Wait()
}

func encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast: %w", err)
	}
	return data, nil
}
