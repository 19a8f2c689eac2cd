package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{Timeout: 50 * time.Millisecond, MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	src := &scriptedSource{replies: []reply{
		{err: errors.New("connection reset")},
		{rows: []Row{{"geojson": "x"}}},
	}}
	r := NewRetrying(src, fastRetry(3), nil)
	rows, err := r.Query(context.Background(), Query{Name: "country"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || len(src.calls()) != 2 {
		t.Fatalf("rows=%d calls=%d", len(rows), len(src.calls()))
	}
}

func TestRetrying_ExhaustionIsUpstreamUnavailable(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: errors.New("boom")}}}
	r := NewRetrying(src, fastRetry(3), nil)
	_, err := r.Query(context.Background(), Query{Name: "country"})
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if n := len(src.calls()); n != 3 {
		t.Fatalf("calls=%d want 3", n)
	}
}

func TestRetrying_AttemptTimeoutIsRetriedThenFails(t *testing.T) {
	src := &scriptedSource{delay: time.Second}
	r := NewRetrying(src, fastRetry(2), nil)
	start := time.Now()
	_, err := r.Query(context.Background(), Query{Name: "slow"})
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("attempt timeout not applied")
	}
	if n := len(src.calls()); n != 2 {
		t.Fatalf("calls=%d want 2", n)
	}
}

func TestRetrying_PermanentErrorsAreNotRetried(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: permanent(errors.New("syntax error"))}}}
	r := NewRetrying(src, fastRetry(5), nil)
	_, err := r.Query(context.Background(), Query{Name: "country"})
	if !errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if n := len(src.calls()); n != 1 {
		t.Fatalf("calls=%d want 1", n)
	}
}

func TestRetrying_TaxonomyErrorsPassThrough(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: permanent(errs.NotFound("use: relation does not exist"))}}}
	r := NewRetrying(src, fastRetry(5), nil)
	_, err := r.Query(context.Background(), Query{Name: "use"})
	if !errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestRetrying_CallerCancelStopsRetries(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: errors.New("boom")}}}
	r := NewRetrying(src, RetryConfig{Timeout: time.Second, MaxTries: 100, InitialInterval: 20 * time.Millisecond, MaxInterval: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Query(ctx, Query{Name: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if n := len(src.calls()); n >= 100 {
		t.Fatalf("retries did not stop on cancel: %d", n)
	}
}
