package canonical

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mohammed-shakir/geostore/internal/core/model"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// field order here is the canonical member order
type feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

// orb geometries are plain slices, so coordinates encode as nested arrays
type geometry struct {
	Type        string       `json:"type"`
	Coordinates orb.Geometry `json:"coordinates"`
}

// Encode produces the canonical byte form of a single-feature collection.
// Property keys are sorted by encoding/json at every depth.
func Encode(g orb.Geometry, props map[string]any) ([]byte, error) {
	fc := featureCollection{
		Type: "FeatureCollection",
		Features: []feature{{
			Type:       "Feature",
			Properties: props,
			Geometry:   geometry{Type: g.GeoJSONType(), Coordinates: g},
		}},
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode canonical geojson: %w", err)
	}
	return b, nil
}

// Hash is the 32-char lowercase hex md5 of the canonical bytes.
func Hash(canonical []byte) string {
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Measure returns geodesic area in hectares and the bounding box.
func Measure(g orb.Geometry) (float64, model.BBox) {
	b := g.Bound()
	return math.Abs(geo.Area(g)) / 10000, model.BBox{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

// MeasureGeoJSON decodes stored canonical bytes and measures them.
func MeasureGeoJSON(raw []byte) (float64, model.BBox, error) {
	in, err := Decode(raw)
	if err != nil {
		return 0, model.BBox{}, err
	}
	area, bbox := Measure(in.Geometry)
	return area, bbox, nil
}

// ValidHash reports whether s has the shape Hash produces.
func ValidHash(s string) bool {
	if len(s) != 2*md5.Size {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
