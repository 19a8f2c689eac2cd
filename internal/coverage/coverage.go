// Package coverage finds the coverage layers that intersect an area. It only
// reads; nothing here touches the geometry store.
package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/upstream"
)

// Layers intersecting at least 1% of an admin area count as covering it.
const (
	nationalSQL = `WITH c AS (
	SELECT the_geom_webmercator, ST_Area(the_geom_webmercator)/10000 AS area_ha
	FROM gadm36_adm0 WHERE iso = UPPER($1)
), cl AS (
	SELECT ST_Buffer(ST_Simplify(the_geom_webmercator, 10000), 1) AS the_geom_webmercator, slug
	FROM coverage_layers
)
SELECT cl.slug FROM cl
INNER JOIN c ON ST_Intersects(c.the_geom_webmercator, cl.the_geom_webmercator)
WHERE ((ST_Area(ST_Intersection(c.the_geom_webmercator, cl.the_geom_webmercator))/10000)::numeric / c.area_ha::numeric) * 100 > 1`

	subnationalSQL = `WITH c AS (
	SELECT the_geom_webmercator, ST_Area(the_geom_webmercator)/10000 AS area_ha
	FROM gadm36_adm1 WHERE iso = UPPER($1) AND id_1 = $2
), cl AS (
	SELECT ST_Buffer(ST_Simplify(the_geom_webmercator, 10000), 1) AS the_geom_webmercator, slug
	FROM coverage_layers
)
SELECT cl.slug FROM cl
INNER JOIN c ON ST_Intersects(c.the_geom_webmercator, cl.the_geom_webmercator)
WHERE ((ST_Area(ST_Intersection(c.the_geom_webmercator, cl.the_geom_webmercator))/10000)::numeric / c.area_ha::numeric) * 100 > 1`

	wdpaSQL = `WITH p AS (
	SELECT CASE
		WHEN marine::numeric = 2 THEN NULL
		WHEN ST_NPoints(the_geom) <= 18000 THEN the_geom
		WHEN ST_NPoints(the_geom) BETWEEN 18000 AND 50000 THEN ST_RemoveRepeatedPoints(the_geom, 0.001)
		ELSE ST_RemoveRepeatedPoints(the_geom, 0.005)
	END AS the_geom
	FROM wdpa_protected_areas WHERE wdpaid = $1
)
SELECT cl.slug FROM coverage_layers cl, p WHERE ST_Intersects(cl.the_geom, p.the_geom)`

	useSQL = `SELECT cl.slug FROM coverage_layers cl, %s c
WHERE c.cartodb_id = $1 AND ST_Intersects(cl.the_geom, c.the_geom)`

	worldSQL = `SELECT slug FROM coverage_layers
WHERE ST_Intersects(the_geom, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`

	reducedWorldSQL = `SELECT slug FROM coverage_layers
WHERE slug = ANY($2) AND ST_Intersects(the_geom, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`
)

type Intersector struct {
	src    upstream.Source
	logger *slog.Logger
}

func New(src upstream.Source, logger *slog.Logger) *Intersector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intersector{src: src, logger: logger}
}

func (i *Intersector) National(ctx context.Context, iso string) ([]string, error) {
	return i.slugs(ctx, upstream.Query{Name: "coverage_national", SQL: nationalSQL, Args: []any{iso}})
}

func (i *Intersector) Subnational(ctx context.Context, iso string, id1 int) ([]string, error) {
	return i.slugs(ctx, upstream.Query{Name: "coverage_subnational", SQL: subnationalSQL, Args: []any{iso, id1}})
}

// Use takes the resolved table name, not the public alias.
func (i *Intersector) Use(ctx context.Context, table string, id int) ([]string, error) {
	ident, err := upstream.Ident(table)
	if err != nil {
		return nil, err
	}
	return i.slugs(ctx, upstream.Query{Name: "coverage_use", SQL: fmt.Sprintf(useSQL, ident), Args: []any{id}})
}

func (i *Intersector) WDPA(ctx context.Context, id int) ([]string, error) {
	return i.slugs(ctx, upstream.Query{Name: "coverage_wdpa", SQL: wdpaSQL, Args: []any{id}})
}

// Geometry intersects a GeoJSON geometry object with every layer, or only
// with the layers named in slugs when that list is not empty.
func (i *Intersector) Geometry(ctx context.Context, geometry []byte, slugs []string) ([]string, error) {
	if len(geometry) == 0 {
		return nil, errs.Invalid("geometry is required")
	}
	clean := CleanSlugs(slugs)
	if len(clean) == 0 {
		return i.slugs(ctx, upstream.Query{Name: "coverage_world", SQL: worldSQL, Args: []any{string(geometry)}})
	}
	return i.slugs(ctx, upstream.Query{
		Name: "coverage_world_reduced",
		SQL:  reducedWorldSQL,
		Args: []any{string(geometry), pq.Array(clean)},
	})
}

// CleanSlugs trims entries and drops empty ones.
func CleanSlugs(slugs []string) []string {
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// no rows is an empty list, not a miss
func (i *Intersector) slugs(ctx context.Context, q upstream.Query) ([]string, error) {
	rows, err := i.src.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := upstream.Strings(rows, "slug")
	i.logger.DebugContext(ctx, "coverage intersect", "query", q.Name, "layers", len(out))
	return out, nil
}
