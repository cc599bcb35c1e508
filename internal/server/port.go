// Package server binds the loopback listener and publishes the port it got.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPortAlreadySet is returned when the gate is settled a second time.
var ErrPortAlreadySet = errors.New("proxy port already published")

// PortGate holds the proxy port. It is written exactly once at bootstrap,
// either with the bound port or with the bind error, and read many times.
// Readers that arrive before bootstrap finishes block in Wait.
type PortGate struct {
	once  sync.Once
	ready chan struct{}
	port  int
	err   error
}

// NewPortGate creates an unsettled gate.
func NewPortGate() *PortGate {
	return &PortGate{ready: make(chan struct{})}
}

// Publish records the bound port and releases all waiters.
func (g *PortGate) Publish(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("publish port %d: out of range", port)
	}
	return g.settle(port, nil)
}

// Fail records a bootstrap failure; every Wait returns err from now on.
func (g *PortGate) Fail(err error) error {
	if err == nil {
		return errors.New("fail port gate: nil error")
	}
	return g.settle(0, err)
}

func (g *PortGate) settle(port int, err error) error {
	settled := false
	g.once.Do(func() {
		g.port, g.err = port, err
		settled = true
		close(g.ready)
	})
	if !settled {
		return ErrPortAlreadySet
	}
	return nil
}

// Wait blocks until the port is published, bootstrap failed, or ctx is done.
func (g *PortGate) Wait(ctx context.Context) (int, error) {
	select {
	case <-g.ready:
		if g.err != nil {
			return 0, fmt.Errorf("proxy bootstrap failed: %w", g.err)
		}
		return g.port, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for proxy port: %w", ctx.Err())
	}
}

// Port returns the published port without blocking. ok is false until
// bootstrap has succeeded.
func (g *PortGate) Port() (port int, ok bool) {
	select {
	case <-g.ready:
		return g.port, g.err == nil
	default:
		return 0, false
	}
}
