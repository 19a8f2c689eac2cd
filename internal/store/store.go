// Package store defines persistence for geometry records and the alias table.
package store

import (
	"context"

	"github.com/mohammed-shakir/geostore/internal/core/model"
)

// Store persists records keyed by content hash plus a descriptor index.
// Records never change except for back-filling AreaHa and BBox.
type Store interface {
	// FindByHash returns errs.ErrNotFound when absent.
	FindByHash(ctx context.Context, hash string) (*model.Record, error)
	// FindByHashes skips missing hashes and keeps request order.
	FindByHashes(ctx context.Context, hashes []string) ([]*model.Record, error)
	// FindByDescriptor returns errs.ErrNotFound when the descriptor is not indexed.
	FindByDescriptor(ctx context.Context, d model.Descriptor) (*model.Record, error)
	// Create inserts rec if its hash is absent, then indexes rec.Info if it is
	// not indexed yet. An existing unlocked record is returned with created
	// false; an existing locked record yields errs.ErrImmutableConflict but
	// rec.Info is still indexed to it.
	Create(ctx context.Context, rec *model.Record) (stored *model.Record, created bool, err error)
	// Backfill sets AreaHa and BBox where they are missing.
	Backfill(ctx context.Context, hash string, areaHa float64, bbox model.BBox) (*model.Record, error)
	// Nationals lists records indexed under a country-level descriptor.
	Nationals(ctx context.Context) ([]model.CountryEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// AliasTable maps legacy ids to hashes. Ids without an entry resolve to themselves.
type AliasTable interface {
	Resolve(ctx context.Context, id string) (string, error)
	Put(ctx context.Context, e model.AliasEntry) error
}

// Backend is what a concrete driver provides.
type Backend interface {
	Store
	AliasTable
}

// Fill applies derived fields to r where missing and reports whether it changed.
func Fill(r *model.Record, areaHa float64, bbox model.BBox) bool {
	changed := false
	if r.AreaHa == nil {
		a := areaHa
		r.AreaHa = &a
		changed = true
	}
	if r.BBox == nil {
		b := bbox
		r.BBox = &b
		changed = true
	}
	return changed
}

// Clone copies r so callers can adjust a response without touching shared state.
func Clone(r *model.Record) *model.Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.AreaHa != nil {
		a := *r.AreaHa
		out.AreaHa = &a
	}
	if r.BBox != nil {
		b := *r.BBox
		out.BBox = &b
	}
	return &out
}
