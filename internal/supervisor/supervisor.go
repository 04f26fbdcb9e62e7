// Package supervisor provides the daemon's top-level lifecycle: spawning
// long-running tasks (listeners, per-destination workers), trapping panics
// in critical ones, running bounded-concurrency startup work, and waiting
// for a shutdown signal or a critical-task failure.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tamwuff/scan2blob/internal/debug"
)

// Supervisor owns the daemon's shutdown signal: a write-once cell that a
// critical task's panic or unexpected return fills with a diagnostic error.
// A delivered SIGINT/SIGTERM does not fill the cell; Wait observes it
// directly.
type Supervisor struct {
	shutdownOnce sync.Once
	shutdown     chan struct{}
	shutdownErr  error
	wg           sync.WaitGroup
}

// New creates a Supervisor ready to accept Spawn/SpawnCritical calls.
func New() *Supervisor {
	return &Supervisor{shutdown: make(chan struct{})}
}

func (s *Supervisor) fillShutdown(err error) {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = err
		close(s.shutdown)
	})
}

// Spawn runs fn in a new goroutine. Its return value is ignored: Spawn is
// for tasks whose failure is expected to be self-contained (e.g. one
// connection handler).
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(context.Background()); err != nil {
			debug.Log("supervisor: task %q exited: %v", name, err)
		}
	}()
}

// SpawnCritical runs fn in a new goroutine wrapped in a panic trap. A panic,
// or any return from fn (with or without an error), fills the shutdown cell
// and causes Wait to return a non-zero exit code.
func (s *Supervisor) SpawnCritical(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.fillShutdown(fmt.Errorf("task %q panicked: %v", name, r))
			}
		}()
		if err := fn(context.Background()); err != nil {
			s.fillShutdown(fmt.Errorf("task %q exited: %w", name, err))
		} else {
			s.fillShutdown(fmt.Errorf("task %q exited unexpectedly", name))
		}
	}()
}

// StartupGroup runs concurrent startup tasks (client/listener construction)
// bounded to limit concurrently in-flight work, returning the first error
// encountered (if any), after all tasks have finished.
func StartupGroup(ctx context.Context, limit int, tasks []func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

// Wait blocks until a shutdown-triggering signal (SIGINT/SIGTERM) is
// delivered, or a critical task fills the shutdown cell, whichever comes
// first, or until ctx is done. It returns 0 for a signal-initiated shutdown
// or a done ctx, and 1 when the shutdown cell was filled.
func (s *Supervisor) Wait(ctx context.Context) int {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case sig := <-sigc:
		debug.Log("supervisor: received signal %v, shutting down", sig)
		return 0
	case <-s.shutdown:
		debug.Log("supervisor: shutting down: %v", s.shutdownErr)
		return 1
	case <-ctx.Done():
		return 0
	}
}
