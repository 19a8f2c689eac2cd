package upstream

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/geostore/internal/canonical"
	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
)

// Fetched is a geometry as returned by the engine, before canonicalization.
type Fetched struct {
	GeoJSON []byte
	AreaHa  *float64
	Name    string
}

// Fetcher builds the queries for each descriptor kind and interprets results.
type Fetcher struct {
	src    Source
	logger *slog.Logger
}

func NewFetcher(src Source, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{src: src, logger: logger}
}

// Source exposes the underlying source for other query builders.
func (f *Fetcher) Source() Source { return f.src }

// Descriptor fetches the geometry a descriptor names.
func (f *Fetcher) Descriptor(ctx context.Context, d model.Descriptor) (*Fetched, error) {
	var (
		q   Query
		err error
	)
	switch d.Kind() {
	case model.KindAdmin:
		q, err = AdminQuery(d)
	case model.KindUse:
		q, err = UseQuery(d)
	case model.KindWDPA:
		q, err = WDPAQuery(d)
	default:
		return nil, errs.Invalid("descriptor has no kind")
	}
	if err != nil {
		return nil, err
	}
	res, err := f.one(ctx, q)
	if err != nil {
		return nil, err
	}
	f.logger.DebugContext(ctx, "fetched geometry", "query", q.Name, "bytes", len(res.GeoJSON))
	return res, nil
}

// Provider fetches a geometry from a caller-named table.
func (f *Fetcher) Provider(ctx context.Context, spec model.ProviderSpec) (*Fetched, error) {
	q, err := ProviderQuery(spec)
	if err != nil {
		return nil, err
	}
	return f.one(ctx, q)
}

// Repair implements canonical.Repairer.
func (f *Fetcher) Repair(ctx context.Context, geometry []byte, family canonical.Family) ([]byte, error) {
	rows, err := f.src.Query(ctx, RepairQuery(geometry, int(family)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.Invalid("geometry could not be repaired")
	}
	g, ok := rows[0].String("geojson")
	if !ok || strings.TrimSpace(g) == "" {
		return nil, errs.Invalid("geometry could not be repaired")
	}
	return []byte(g), nil
}

// CountryNames looks up display names for iso codes.
func (f *Fetcher) CountryNames(ctx context.Context, isos []string) (map[string]string, error) {
	out := make(map[string]string, len(isos))
	if len(isos) == 0 {
		return out, nil
	}
	rows, err := f.src.Query(ctx, CountryNamesQuery(isos))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		iso, ok := r.String("iso")
		if !ok {
			continue
		}
		name, _ := r.String("name")
		out[strings.ToUpper(iso)] = name
	}
	return out, nil
}

func (f *Fetcher) one(ctx context.Context, q Query) (*Fetched, error) {
	rows, err := f.src.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.NotFound("%s: no rows", q.Name)
	}
	r := rows[0]
	g, ok := r.String("geojson")
	if !ok || strings.TrimSpace(g) == "" {
		return nil, errs.NotFound("%s: no geometry", q.Name)
	}
	name, _ := r.String("name")
	return &Fetched{GeoJSON: []byte(g), AreaHa: r.Float("area_ha"), Name: name}, nil
}

var _ canonical.Repairer = (*Fetcher)(nil)
