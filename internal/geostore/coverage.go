package geostore

import (
	"context"
	"strings"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

// CoverageByGeostore intersects a stored geometry with the coverage layers,
// optionally restricted to slugs.
func (s *Service) CoverageByGeostore(ctx context.Context, id string, slugs []string) ([]string, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.Invalid("geostore param required")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := geometry(rec)
	if err != nil {
		return nil, err
	}
	return s.coverage.Geometry(ctx, g, slugs)
}

// CoverageAdmin covers a country, or a region when id1 is set.
func (s *Service) CoverageAdmin(ctx context.Context, iso, id1 string) ([]string, error) {
	d, err := s.resolver.Admin(iso, id1, "", "")
	if err != nil {
		return nil, err
	}
	if d.ID1 != nil {
		return s.coverage.Subnational(ctx, d.ISO, *d.ID1)
	}
	return s.coverage.National(ctx, d.ISO)
}

func (s *Service) CoverageUse(ctx context.Context, name, id string) ([]string, error) {
	d, err := s.resolver.Use(name, id, "")
	if err != nil {
		return nil, err
	}
	return s.coverage.Use(ctx, d.Use.Table, d.Use.ID)
}

func (s *Service) CoverageWDPA(ctx context.Context, id string) ([]string, error) {
	d, err := s.resolver.WDPA(id)
	if err != nil {
		return nil, err
	}
	return s.coverage.WDPA(ctx, *d.WDPAID)
}
