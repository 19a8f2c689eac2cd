// Package connect brings up backing services in the background so the HTTP
// server can answer probes while dependencies are still coming up.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed gives up on a target; zero keeps trying until ctx ends.
	MaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 250 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}

// ConnectFunc dials a dependency. Returning backoff.Permanent stops retries.
type ConnectFunc func(ctx context.Context) error

type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]bool
	failed  error

	wg   sync.WaitGroup
	errc chan error
}

func New(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		pending: map[string]bool{},
		errc:    make(chan error, 1),
	}
}

// Go registers name as pending and connects it in the background.
func (s *Supervisor) Go(ctx context.Context, name string, fn ConnectFunc) {
	s.mu.Lock()
	s.pending[name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.connect(ctx, name, fn); err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		delete(s.pending, name)
		s.mu.Unlock()
	}()
}

func (s *Supervisor) connect(ctx context.Context, name string, fn ConnectFunc) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.WarnContext(ctx, "connect failed, retrying", "target", name, "next", next.String(), "err", err)
		}),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsed),
	}

	start := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect %s: %w", name, err)
	}
	s.logger.InfoContext(ctx, "connected", "target", name, "took", time.Since(start).String())
	return nil
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	first := s.failed == nil
	if first {
		s.failed = err
	}
	s.mu.Unlock()
	if first {
		s.errc <- err
	}
}

// Failed delivers the first target that gave up.
func (s *Supervisor) Failed() <-chan error { return s.errc }

// Readiness reports whether every target connected, and which are still pending.
func (s *Supervisor) Readiness() (bool, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil || len(s.pending) > 0 {
		out := make([]string, 0, len(s.pending))
		for n := range s.pending {
			out = append(out, n)
		}
		sort.Strings(out)
		return false, out
	}
	return true, nil
}

func (s *Supervisor) Ready() bool {
	ok, _ := s.Readiness()
	return ok
}

// Wait blocks until every target connected or gave up.
func (s *Supervisor) Wait() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
