// Package upstreamtest provides Source doubles for tests of packages that
// query the spatial engine.
package upstreamtest

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/geostore/internal/upstream"
)

// Handler answers one query.
type Handler func(ctx context.Context, q upstream.Query) ([]upstream.Row, error)

// Source dispatches on Query.Name and records every call. Queries without a
// handler get no rows.
type Source struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []upstream.Query
}

func New() *Source {
	return &Source{handlers: map[string]Handler{}}
}

func (s *Source) Name() string { return "fake" }

// Handle registers h for queries named name and returns s for chaining.
func (s *Source) Handle(name string, h Handler) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	return s
}

// Rows registers a handler that always returns rows.
func (s *Source) Rows(name string, rows ...upstream.Row) *Source {
	return s.Handle(name, func(context.Context, upstream.Query) ([]upstream.Row, error) {
		return rows, nil
	})
}

// Fail registers a handler that always returns err.
func (s *Source) Fail(name string, err error) *Source {
	return s.Handle(name, func(context.Context, upstream.Query) ([]upstream.Row, error) {
		return nil, err
	})
}

func (s *Source) Query(ctx context.Context, q upstream.Query) ([]upstream.Row, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	h := s.handlers[q.Name]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h(ctx, q)
}

// Calls returns a copy of every query seen so far.
func (s *Source) Calls() []upstream.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upstream.Query(nil), s.calls...)
}

// Count is the number of calls with the given query name.
func (s *Source) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.calls {
		if q.Name == name {
			n++
		}
	}
	return n
}

// EchoRepair answers repair queries with the submitted geometry unchanged.
func EchoRepair(_ context.Context, q upstream.Query) ([]upstream.Row, error) {
	return []upstream.Row{{"geojson": q.Args[0]}}, nil
}
