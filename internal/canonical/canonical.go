// Package canonical turns arbitrary GeoJSON payloads into the single-feature
// FeatureCollection that is hashed and stored.
package canonical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

// Family matches the type codes of ST_CollectionExtract.
type Family int

const (
	FamilyPoint   Family = 1
	FamilyLine    Family = 2
	FamilyPolygon Family = 3
)

func (f Family) String() string {
	switch f {
	case FamilyPoint:
		return "point"
	case FamilyLine:
		return "line"
	case FamilyPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Classify maps a GeoJSON geometry type to its family.
func Classify(geomType string) (Family, error) {
	switch geomType {
	case "Point", "MultiPoint":
		return FamilyPoint, nil
	case "LineString", "MultiLineString":
		return FamilyLine, nil
	case "Polygon", "MultiPolygon":
		return FamilyPolygon, nil
	default:
		return 0, errs.Unsupported("unknown geometry type: %s", geomType)
	}
}

// Repairer asks the geometry engine to make a geometry valid, keeping only
// parts of the given family.
type Repairer interface {
	Repair(ctx context.Context, geometry []byte, family Family) ([]byte, error)
}

// Input is a decoded payload before repair.
type Input struct {
	Geometry   orb.Geometry
	Family     Family
	Properties map[string]any
}

type Result struct {
	Bytes      []byte
	Hash       string
	Geometry   orb.Geometry
	Properties map[string]any
}

type Canonicalizer struct {
	repair Repairer
	logger *slog.Logger
}

func New(r Repairer, logger *slog.Logger) *Canonicalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Canonicalizer{repair: r, logger: logger}
}

// Canonicalize decodes raw, repairs it upstream and returns the canonical form.
func (c *Canonicalizer) Canonicalize(ctx context.Context, raw []byte) (*Result, error) {
	in, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	geomJSON, err := json.Marshal(geometry{Type: in.Geometry.GeoJSONType(), Coordinates: in.Geometry})
	if err != nil {
		return nil, fmt.Errorf("marshal geometry: %w", err)
	}

	repaired, err := c.repair.Repair(ctx, geomJSON, in.Family)
	if err != nil {
		return nil, fmt.Errorf("repair %s geometry: %w", in.Family, err)
	}
	g, err := parseGeometry(repaired)
	if err != nil {
		return nil, fmt.Errorf("repaired geometry: %w", err)
	}
	if fam, ferr := Classify(g.GeoJSONType()); ferr != nil || fam != in.Family {
		return nil, errs.Unsupported("repair returned %s for a %s input", g.GeoJSONType(), in.Family)
	}
	if isEmpty(g) {
		return nil, errs.Invalid("geometry is empty after repair")
	}

	b, err := Encode(g, in.Properties)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "canonicalized geometry",
		"family", in.Family.String(), "bytes", len(b))
	return &Result{Bytes: b, Hash: Hash(b), Geometry: g, Properties: in.Properties}, nil
}

// Decode reads a FeatureCollection, Feature or bare geometry. Only the first
// feature's properties survive; geometries of all features are merged.
func Decode(raw []byte) (*Input, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errs.Invalid("geojson is required")
	}
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, errs.Invalid("parse geojson: %v", err)
	}

	switch hdr.Type {
	case "FeatureCollection":
		var fc struct {
			Features []rawFeature `json:"features"`
		}
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, errs.Invalid("parse feature collection: %v", err)
		}
		if len(fc.Features) == 0 {
			return nil, errs.Invalid("feature collection has no features")
		}
		props, err := decodeProperties(fc.Features[0].Properties)
		if err != nil {
			return nil, err
		}
		geoms := make([]orb.Geometry, 0, len(fc.Features))
		for i, f := range fc.Features {
			if isNull(f.Geometry) {
				continue
			}
			g, err := parseInputGeometry(f.Geometry)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			geoms = append(geoms, g)
		}
		g, fam, err := merge(geoms)
		if err != nil {
			return nil, err
		}
		return &Input{Geometry: g, Family: fam, Properties: props}, nil

	case "Feature":
		var f rawFeature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, errs.Invalid("parse feature: %v", err)
		}
		if isNull(f.Geometry) {
			return nil, errs.Invalid("feature has no geometry")
		}
		props, err := decodeProperties(f.Properties)
		if err != nil {
			return nil, err
		}
		g, err := parseInputGeometry(f.Geometry)
		if err != nil {
			return nil, err
		}
		fam, _ := Classify(g.GeoJSONType())
		return &Input{Geometry: g, Family: fam, Properties: props}, nil

	default:
		g, err := parseInputGeometry(raw)
		if err != nil {
			return nil, err
		}
		fam, _ := Classify(g.GeoJSONType())
		return &Input{Geometry: g, Family: fam}, nil
	}
}

type rawFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

func parseInputGeometry(raw json.RawMessage) (orb.Geometry, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, errs.Invalid("parse geometry: %v", err)
	}
	if _, err := Classify(hdr.Type); err != nil {
		return nil, err
	}
	return parseGeometry(raw)
}

func parseGeometry(raw []byte) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, errs.Invalid("parse geometry: %v", err)
	}
	og := g.Geometry()
	if og == nil {
		return nil, errs.Unsupported("unknown geometry type: %s", g.Type)
	}
	return og, nil
}

func decodeProperties(raw json.RawMessage) (map[string]any, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, errs.Invalid("properties must be an object: %v", err)
	}
	return props, nil
}

// merge folds the geometries of a multi-feature collection into one
// multi-geometry of their shared family.
func merge(geoms []orb.Geometry) (orb.Geometry, Family, error) {
	if len(geoms) == 0 {
		return nil, 0, errs.Invalid("feature collection has no geometry")
	}
	fam, err := Classify(geoms[0].GeoJSONType())
	if err != nil {
		return nil, 0, err
	}
	if len(geoms) == 1 {
		return geoms[0], fam, nil
	}
	for _, g := range geoms[1:] {
		f, err := Classify(g.GeoJSONType())
		if err != nil {
			return nil, 0, err
		}
		if f != fam {
			return nil, 0, errs.Unsupported("mixed geometry families: %s and %s", fam, f)
		}
	}

	switch fam {
	case FamilyPoint:
		var out orb.MultiPoint
		for _, g := range geoms {
			switch t := g.(type) {
			case orb.Point:
				out = append(out, t)
			case orb.MultiPoint:
				out = append(out, t...)
			}
		}
		return out, fam, nil
	case FamilyLine:
		var out orb.MultiLineString
		for _, g := range geoms {
			switch t := g.(type) {
			case orb.LineString:
				out = append(out, t)
			case orb.MultiLineString:
				out = append(out, t...)
			}
		}
		return out, fam, nil
	default:
		var out orb.MultiPolygon
		for _, g := range geoms {
			switch t := g.(type) {
			case orb.Polygon:
				out = append(out, t)
			case orb.MultiPolygon:
				out = append(out, t...)
			}
		}
		return out, fam, nil
	}
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isEmpty(g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.MultiLineString:
		return len(t) == 0
	case orb.Polygon:
		return len(t) == 0
	case orb.MultiPolygon:
		return len(t) == 0
	default:
		return false
	}
}

// TypeOf returns the GeoJSON type of a payload, trimmed.
func TypeOf(raw []byte) string {
	var hdr struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &hdr)
	return strings.TrimSpace(hdr.Type)
}
