package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/observability"
)

type RetryConfig struct {
	// Timeout bounds a single attempt.
	Timeout         time.Duration
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	return c
}

// Retrying wraps a Source with a per-attempt timeout and bounded exponential
// backoff. Failures that survive all attempts surface as ErrUpstreamUnavailable.
type Retrying struct {
	src    Source
	cfg    RetryConfig
	logger *slog.Logger
}

func NewRetrying(src Source, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{src: src, cfg: cfg.withDefaults(), logger: logger}
}

func (r *Retrying) Name() string { return r.src.Name() }

func (r *Retrying) Query(ctx context.Context, q Query) ([]Row, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	op := func() ([]Row, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		start := time.Now()
		rows, err := r.src.Query(actx, q)
		observability.ObserveUpstreamLatency(r.src.Name(), q.Name, time.Since(start).Seconds())
		switch {
		case err == nil:
			observability.IncUpstreamAttempt(r.src.Name(), q.Name, "ok")
			return rows, nil
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case IsPermanent(err):
			observability.IncUpstreamAttempt(r.src.Name(), q.Name, "permanent")
			return nil, backoff.Permanent(err)
		default:
			observability.IncUpstreamAttempt(r.src.Name(), q.Name, "retry")
			return nil, err
		}
	}

	rows, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.WarnContext(ctx, "upstream query failed, retrying",
				"source", r.src.Name(), "query", q.Name, "attempt", attempt, "next", next.String(), "err", err)
		}),
	)
	if err == nil {
		return rows, nil
	}
	if !IsPermanent(err) && ctx.Err() == nil {
		observability.IncUpstreamAttempt(r.src.Name(), q.Name, "exhausted")
	}
	return nil, classify(q, attempt, err)
}

// classify keeps taxonomy errors raised by the source and maps everything
// else to ErrUpstreamUnavailable.
func classify(q Query, attempts int, err error) error {
	for _, k := range []error{errs.ErrNotFound, errs.ErrInvalidInput, errs.ErrUnsupportedGeometry} {
		if errors.Is(err, k) {
			return err
		}
	}
	return errs.Upstream(fmt.Errorf("%s after %d attempt(s): %w", q.Name, attempts, err))
}
