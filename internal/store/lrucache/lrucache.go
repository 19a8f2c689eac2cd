// Package lrucache memoizes hash lookups of a store.Store in process memory.
package lrucache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/core/observability"
	"github.com/mohammed-shakir/geostore/internal/store"
)

const defaultSize = 4096

// Store caches records by hash. Records are immutable apart from back-filled
// fields, so the only invalidation is replacing an entry with a newer copy.
type Store struct {
	store.Store
	lru *lru.Cache[string, *model.Record]
}

func New(inner store.Store, size int) *Store {
	if size <= 0 {
		size = defaultSize
	}
	c, _ := lru.New[string, *model.Record](size)
	return &Store{Store: inner, lru: c}
}

// Len is the number of cached records.
func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) get(hash string) (*model.Record, bool) {
	r, ok := s.lru.Get(hash)
	observability.IncLookup("lru", ok)
	if !ok {
		return nil, false
	}
	return store.Clone(r), true
}

func (s *Store) add(r *model.Record) {
	if r == nil || r.Hash == "" {
		return
	}
	s.lru.Add(r.Hash, store.Clone(r))
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*model.Record, error) {
	if r, ok := s.get(hash); ok {
		return r, nil
	}
	r, err := s.Store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	s.add(r)
	return r, nil
}

func (s *Store) FindByHashes(ctx context.Context, hashes []string) ([]*model.Record, error) {
	cached := make(map[string]*model.Record, len(hashes))
	var missing []string
	for _, h := range hashes {
		if _, done := cached[h]; done {
			continue
		}
		if r, ok := s.get(h); ok {
			cached[h] = r
			continue
		}
		cached[h] = nil
		missing = append(missing, h)
	}

	if len(missing) > 0 {
		found, err := s.Store.FindByHashes(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			s.add(r)
			cached[r.Hash] = r
		}
	}

	out := make([]*model.Record, 0, len(hashes))
	seen := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		r := cached[h]
		if r == nil || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, r)
	}
	return out, nil
}

// FindByDescriptor is not memoized; the record it returns is.
func (s *Store) FindByDescriptor(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	r, err := s.Store.FindByDescriptor(ctx, d)
	if err != nil {
		return nil, err
	}
	s.add(r)
	return r, nil
}

func (s *Store) Create(ctx context.Context, rec *model.Record) (*model.Record, bool, error) {
	stored, created, err := s.Store.Create(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	s.add(stored)
	return stored, created, nil
}

func (s *Store) Backfill(ctx context.Context, hash string, areaHa float64, bbox model.BBox) (*model.Record, error) {
	r, err := s.Store.Backfill(ctx, hash, areaHa, bbox)
	if err != nil {
		return nil, err
	}
	s.add(r)
	return r, nil
}
