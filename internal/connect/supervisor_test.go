package connect

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func fast(maxElapsed time.Duration) Config {
	return Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsed: maxElapsed}
}

func TestSupervisor_ReadyAfterRetries(t *testing.T) {
	s := New(fast(0), nil)
	var calls atomic.Int32
	release := make(chan struct{})

	s.Go(context.Background(), "store", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		<-release
		return nil
	})

	if ok, pending := s.Readiness(); ok || !slices.Equal(pending, []string{"store"}) {
		t.Fatalf("ready=%v pending=%v before connect", ok, pending)
	}
	close(release)
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !s.Ready() {
		t.Fatal("not ready after connect")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", calls.Load())
	}
}

func TestSupervisor_GivesUpAfterMaxElapsed(t *testing.T) {
	s := New(fast(30*time.Millisecond), nil)
	s.Go(context.Background(), "store", func(context.Context) error {
		return errors.New("down")
	})

	select {
	case err := <-s.Failed():
		if err == nil {
			t.Fatal("nil failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never gave up")
	}
	if s.Ready() {
		t.Fatal("ready after failure")
	}
	if err := s.Wait(); err == nil {
		t.Fatal("Wait returned nil after failure")
	}
}

func TestSupervisor_PermanentStopsImmediately(t *testing.T) {
	s := New(fast(0), nil)
	var calls atomic.Int32
	s.Go(context.Background(), "upstream", func(context.Context) error {
		calls.Add(1)
		return backoff.Permanent(errors.New("bad dsn"))
	})
	if err := s.Wait(); err == nil {
		t.Fatal("want error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
}

func TestSupervisor_CanceledContextIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(fast(0), nil)
	s.Go(ctx, "store", func(context.Context) error { return errors.New("down") })
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ok, pending := s.Readiness(); ok || len(pending) != 1 {
		t.Fatalf("ready=%v pending=%v", ok, pending)
	}
}

func TestSupervisor_MultipleTargetsSorted(t *testing.T) {
	s := New(fast(0), nil)
	block := make(chan struct{})
	defer close(block)
	for _, n := range []string{"upstream", "store"} {
		s.Go(context.Background(), n, func(context.Context) error { <-block; return nil })
	}
	_, pending := s.Readiness()
	if !slices.Equal(pending, []string{"store", "upstream"}) {
		t.Fatalf("pending=%v", pending)
	}
}
