// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle implements the engine's lifecycle manager (C14):
// ordered component startup, reverse-order shutdown that continues
// through failures, and a deadline-raced graceful shutdown triggered
// once per process signal. Grounded on the teacher's Daemon.Start/
// Shutdown (internal/daemon/daemon.go) — the same "stop each
// registered piece, log but never abort" shape (every component's Stop
// receives the caller's ctx; there is no per-component timeout),
// generalized from a fixed list of daemon subsystems to an
// ordered slice of registered components.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// State is one of the manager's lifecycle states.
type State string

const (
	Stopped  State = "Stopped"
	Starting State = "Starting"
	Running  State = "Running"
	Stopping State = "Stopping"
	Errored  State = "Error"
)

// Component is one unit the manager starts and stops, in registration
// order on the way up, reverse order on the way down.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager drives a registered component list through the engine's
// process lifecycle.
type Manager struct {
	mu         sync.Mutex
	components []Component
	state      State
	logger     *slog.Logger
	shutdownOnce sync.Once
}

// NewManager constructs an empty Manager in state Stopped.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{state: Stopped, logger: logger}
}

// Register appends c to the startup order.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start initializes every registered component in registration order,
// aborting on the first failure and transitioning to Errored. Already-
// started components are not rolled back — the caller is expected to
// call Stop (which tolerates a partially-started manager) on error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.state = Starting
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	for _, c := range components {
		m.logger.Info("starting component", "component", c.Name())
		if err := c.Start(ctx); err != nil {
			m.mu.Lock()
			m.state = Errored
			m.mu.Unlock()
			return fmt.Errorf("starting component %q: %w", c.Name(), err)
		}
	}

	m.mu.Lock()
	m.state = Running
	m.mu.Unlock()
	return nil
}

// Stop tears down every registered component in reverse registration
// order. Unlike Start, a failing component does not abort the
// sequence — every component gets a chance to clean up, so one broken
// subsystem never prevents the rest from releasing their resources.
// Each failure is logged, and the first one is returned once every
// component has been stopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.state = Stopping
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	var firstErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		m.logger.Info("stopping component", "component", c.Name())
		if err := c.Stop(ctx); err != nil {
			m.logger.Error("component stop failed", "component", c.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stopping component %q: %w", c.Name(), err)
			}
		}
	}

	m.mu.Lock()
	m.state = Stopped
	m.mu.Unlock()
	return firstErr
}

// GracefulShutdown races Stop against deadline. If the deadline wins,
// the manager's state is forced to Stopped and an error is returned —
// Stop itself keeps running in the background (its components may
// still be mid-cleanup), but the caller is freed to exit.
func (m *Manager) GracefulShutdown(deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Stop(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		m.state = Stopped
		m.mu.Unlock()
		return fmt.Errorf("graceful shutdown exceeded %s deadline", deadline)
	}
}

// NotifyOnSignal installs a handler for interrupt, terminate, and
// hangup that triggers exactly one GracefulShutdown(deadline) call,
// logging the outcome. It returns a function to stop watching signals.
func (m *Manager) NotifyOnSignal(deadline time.Duration) (stopWatching func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		m.logger.Info("received signal, shutting down", "signal", sig.String())
		m.shutdownOnce.Do(func() {
			if err := m.GracefulShutdown(deadline); err != nil {
				m.logger.Error("graceful shutdown failed", "error", err)
			}
		})
	}()

	return func() { signal.Stop(sigCh); close(sigCh) }
}
