package transport

import (
	"context"
	"fmt"
	"sync"
)

// LoopbackHub routes envelopes between in-process endpoints. It exists for
// tests and single-host setups; delivery is synchronous on the sender's
// goroutine.
type LoopbackHub struct {
	mu        sync.RWMutex
	endpoints map[string]*Loopback
}

// NewLoopbackHub creates an empty hub.
func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{endpoints: make(map[string]*Loopback)}
}

// Endpoint registers (or returns) the endpoint for partyID.
func (h *LoopbackHub) Endpoint(partyID string) *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[partyID]; ok {
		return ep
	}
	ep := &Loopback{hub: h, partyID: partyID, online: true}
	h.endpoints[partyID] = ep
	return ep
}

func (h *LoopbackHub) deliver(msg Message) error {
	h.mu.RLock()
	target, ok := h.endpoints[msg.TargetID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no endpoint for %s", msg.TargetID)
	}
	target.mu.RLock()
	handler := target.handler
	online := target.online
	target.mu.RUnlock()
	if !online {
		return ErrOffline
	}
	if handler != nil {
		handler(msg)
	}
	return nil
}

// Loopback is one party's endpoint on a LoopbackHub.
type Loopback struct {
	hub     *LoopbackHub
	partyID string

	mu      sync.RWMutex
	handler Handler
	online  bool
	// failNext makes the next n sends fail, for retry tests.
	failNext int
}

func (l *Loopback) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.failNext > 0 {
		l.failNext--
		l.mu.Unlock()
		return fmt.Errorf("injected send failure")
	}
	online := l.online
	l.mu.Unlock()
	if !online {
		return ErrOffline
	}
	return l.hub.deliver(msg)
}

func (l *Loopback) OnMessage(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) Online() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.online
}

// SetOnline flips the simulated link state.
func (l *Loopback) SetOnline(on bool) {
	l.mu.Lock()
	l.online = on
	l.mu.Unlock()
}

// FailNext makes the next n sends fail.
func (l *Loopback) FailNext(n int) {
	l.mu.Lock()
	l.failNext = n
	l.mu.Unlock()
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.online = false
	l.mu.Unlock()
	return nil
}
