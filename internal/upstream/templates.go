package upstream

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
)

// GADM 3.6 boundary tables.
const (
	countrySQL = `SELECT ST_AsGeoJSON(ST_MakeValid(ST_Simplify(the_geom, $2::float8))) AS geojson,
	area_ha::float8 AS area_ha, name_0 AS name
FROM gadm36_countries
WHERE gid_0 = $1`

	regionSQL = `SELECT ST_AsGeoJSON(ST_MakeValid(ST_Simplify(the_geom, $2::float8))) AS geojson,
	area_ha::float8 AS area_ha, name_1 AS name
FROM gadm36_adm1
WHERE gid_1 = $1`

	districtSQL = `SELECT ST_AsGeoJSON(ST_MakeValid(ST_Simplify(the_geom, $2::float8))) AS geojson,
	area_ha::float8 AS area_ha, name_2 AS name
FROM gadm36_adm2
WHERE gid_2 = $1`

	countryNamesSQL = `SELECT gid_0 AS iso, name_0 AS name
FROM gadm36_adm0
WHERE gid_0 = ANY($1)`

	// marine-only areas have no land geometry
	wdpaSQL = `SELECT ST_AsGeoJSON(ST_MakeValid(p.the_geom)) AS geojson,
	(ST_Area(geography(p.the_geom))/10000)::float8 AS area_ha
FROM (
	SELECT CASE
		WHEN marine::numeric = 2 THEN NULL
		WHEN ST_NPoints(the_geom) <= 18000 THEN the_geom
		WHEN ST_NPoints(the_geom) BETWEEN 18000 AND 50000 THEN ST_RemoveRepeatedPoints(the_geom, 0.001)
		ELSE ST_RemoveRepeatedPoints(the_geom, 0.005)
	END AS the_geom
	FROM wdpa_protected_areas
	WHERE wdpaid = $1
) p
WHERE p.the_geom IS NOT NULL`

	useSQL = `SELECT ST_AsGeoJSON(ST_MakeValid(the_geom)) AS geojson,
	(ST_Area(geography(the_geom))/10000)::float8 AS area_ha
FROM %s
WHERE cartodb_id = $1`

	simplifiedUseSQL = `SELECT (ST_Area(geography(the_geom))/10000)::float8 AS area_ha,
	CASE
		WHEN (ST_Area(geography(the_geom))/10000)::numeric > 1e8
		THEN ST_AsGeoJSON(ST_MakeValid(ST_Simplify(the_geom, 0.1)))
		WHEN (ST_Area(geography(the_geom))/10000)::numeric > 1e6
		THEN ST_AsGeoJSON(ST_MakeValid(ST_Simplify(the_geom, 0.005)))
		ELSE ST_AsGeoJSON(ST_MakeValid(the_geom))
	END AS geojson
FROM %s
WHERE cartodb_id = $1`

	repairSQL = `SELECT ST_AsGeoJSON(ST_CollectionExtract(ST_MakeValid(ST_GeomFromGeoJSON($1)), $2::int)) AS geojson`

	providerSQL = `SELECT ST_AsGeoJSON(the_geom) AS geojson,
	(ST_Area(geography(the_geom))/10000)::float8 AS area_ha
FROM %s
WHERE %s`
)

// Ident quotes a validated, optionally schema-qualified, table name.
func Ident(name string) (string, error) {
	if !model.ValidIdentifier(name) {
		return "", errs.Invalid("%q is not a valid table name", name)
	}
	return pgx.Identifier(strings.Split(name, ".")).Sanitize(), nil
}

// GADM ids: ISO.id1_1 for regions, ISO.id1.id2_1 for districts.
func regionGID(iso string, id1 int) string {
	return fmt.Sprintf("%s.%d_1", iso, id1)
}

func districtGID(iso string, id1, id2 int) string {
	return fmt.Sprintf("%s.%d.%d_1", iso, id1, id2)
}

// AdminQuery builds the boundary query for an admin descriptor.
func AdminQuery(d model.Descriptor) (Query, error) {
	if d.ISO == "" || d.SimplifyThresh == nil {
		return Query{}, errs.Invalid("admin descriptor needs iso and threshold")
	}
	thresh := model.NormalizeThreshold(*d.SimplifyThresh)
	switch {
	case d.ID2 != nil && d.ID1 != nil:
		return Query{Name: "district", SQL: districtSQL, Args: []any{districtGID(d.ISO, *d.ID1, *d.ID2), thresh}}, nil
	case d.ID1 != nil:
		return Query{Name: "region", SQL: regionSQL, Args: []any{regionGID(d.ISO, *d.ID1), thresh}}, nil
	default:
		return Query{Name: "country", SQL: countrySQL, Args: []any{d.ISO, thresh}}, nil
	}
}

func UseQuery(d model.Descriptor) (Query, error) {
	if d.Use == nil {
		return Query{}, errs.Invalid("use descriptor needs a table")
	}
	table, err := Ident(d.Use.Table)
	if err != nil {
		return Query{}, err
	}
	tmpl, name := useSQL, "use"
	if d.Simplify {
		tmpl, name = simplifiedUseSQL, "use_simplified"
	}
	return Query{Name: name, SQL: fmt.Sprintf(tmpl, table), Args: []any{d.Use.ID}}, nil
}

func WDPAQuery(d model.Descriptor) (Query, error) {
	if d.WDPAID == nil {
		return Query{}, errs.Invalid("wdpa descriptor needs an id")
	}
	return Query{Name: "wdpa", SQL: wdpaSQL, Args: []any{*d.WDPAID}}, nil
}

// CountryNamesQuery passes the iso list as a text[] parameter.
func CountryNamesQuery(isos []string) Query {
	return Query{Name: "country_names", SQL: countryNamesSQL, Args: []any{pq.Array(isos)}}
}

func RepairQuery(geometry []byte, family int) Query {
	return Query{Name: "repair", SQL: repairSQL, Args: []any{string(geometry), family}}
}

// ProviderQuery selects a geometry from a caller-named table. The filter is
// bound as parameters, never interpolated.
func ProviderQuery(spec model.ProviderSpec) (Query, error) {
	switch p := spec.(type) {
	case model.CartoTable:
		table, err := Ident(p.Table)
		if err != nil {
			return Query{}, err
		}
		if len(p.Filter) == 0 {
			return Query{}, errs.Invalid("provider filter is required")
		}
		terms := make([]string, 0, len(p.Filter))
		args := make([]any, 0, len(p.Filter))
		for i, pred := range p.Filter {
			col, err := Ident(pred.Column)
			if err != nil {
				return Query{}, err
			}
			terms = append(terms, fmt.Sprintf("%s = $%d", col, i+1))
			args = append(args, pred.Value)
		}
		return Query{
			Name:    "provider",
			SQL:     fmt.Sprintf(providerSQL, table, strings.Join(terms, " AND ")),
			Args:    args,
			Account: p.User,
		}, nil
	default:
		return Query{}, errs.Invalid("provider %s not found", spec.Kind())
	}
}
