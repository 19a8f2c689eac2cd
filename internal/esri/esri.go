// Package esri converts between ArcGIS JSON geometries and GeoJSON.
package esri

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Geometry is the union of the ArcGIS geometry shapes.
type Geometry struct {
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	Points           [][]float64       `json:"points,omitempty"`
	Paths            [][][]float64     `json:"paths,omitempty"`
	Rings            [][][]float64     `json:"rings,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

var wgs84 = &SpatialReference{WKID: 4326}

// ToGeoJSON accepts an ArcGIS geometry or an ArcGIS feature
// ({"geometry":...,"attributes":...}) and returns the GeoJSON equivalent.
func ToGeoJSON(raw []byte) ([]byte, error) {
	var probe struct {
		Geometry   json.RawMessage `json:"geometry"`
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errs.Invalid("parse esrijson: %v", err)
	}
	if len(bytes.TrimSpace(probe.Geometry)) > 0 {
		g, err := decode(probe.Geometry)
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(g)
		if len(probe.Attributes) > 0 && !bytes.Equal(bytes.TrimSpace(probe.Attributes), []byte("null")) {
			if err := json.Unmarshal(probe.Attributes, &f.Properties); err != nil {
				return nil, errs.Invalid("esrijson attributes: %v", err)
			}
		}
		return json.Marshal(f)
	}
	g, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(geojson.NewGeometry(g))
}

func decode(raw []byte) (orb.Geometry, error) {
	var eg Geometry
	if err := json.Unmarshal(raw, &eg); err != nil {
		return nil, errs.Invalid("parse esrijson geometry: %v", err)
	}
	switch {
	case eg.X != nil && eg.Y != nil:
		return orb.Point{*eg.X, *eg.Y}, nil
	case len(eg.Points) > 0:
		mp := make(orb.MultiPoint, 0, len(eg.Points))
		for _, p := range eg.Points {
			pt, err := point(p)
			if err != nil {
				return nil, err
			}
			mp = append(mp, pt)
		}
		return mp, nil
	case len(eg.Paths) > 0:
		mls := make(orb.MultiLineString, 0, len(eg.Paths))
		for _, path := range eg.Paths {
			ls := make(orb.LineString, 0, len(path))
			for _, p := range path {
				pt, err := point(p)
				if err != nil {
					return nil, err
				}
				ls = append(ls, pt)
			}
			mls = append(mls, ls)
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	case len(eg.Rings) > 0:
		return rings(eg.Rings)
	default:
		return nil, errs.Unsupported("esrijson geometry has no x/y, points, paths or rings")
	}
}

func point(p []float64) (orb.Point, error) {
	if len(p) < 2 {
		return orb.Point{}, errs.Invalid("esrijson coordinate needs two values, got %d", len(p))
	}
	return orb.Point{p[0], p[1]}, nil
}

// rings splits ArcGIS rings into polygons: clockwise rings are shells,
// counter-clockwise rings are holes of the first shell that contains them.
func rings(in [][][]float64) (orb.Geometry, error) {
	var shells []orb.Polygon
	var holes []orb.Ring
	for _, r := range in {
		ring := make(orb.Ring, 0, len(r)+1)
		for _, p := range r {
			pt, err := point(p)
			if err != nil {
				return nil, err
			}
			ring = append(ring, pt)
		}
		if len(ring) < 3 {
			return nil, errs.Invalid("esrijson ring has %d points", len(ring))
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if ring.Orientation() == orb.CW {
			// GeoJSON shells are counter-clockwise
			ring.Reverse()
			shells = append(shells, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	for _, h := range holes {
		placed := false
		for i := range shells {
			if planar.RingContains(shells[i][0], h[0]) {
				hole := append(orb.Ring(nil), h...)
				hole.Reverse()
				shells[i] = append(shells[i], hole)
				placed = true
				break
			}
		}
		if !placed {
			// an uncontained counter-clockwise ring is a shell drawn the wrong way
			shells = append(shells, orb.Polygon{h})
		}
	}

	if len(shells) == 1 {
		return shells[0], nil
	}
	return orb.MultiPolygon(shells), nil
}

// FromGeoJSON converts the first feature (or the bare geometry) of a GeoJSON
// document into an ArcGIS geometry in WGS84.
func FromGeoJSON(raw []byte) (*Geometry, error) {
	g, err := firstGeometry(raw)
	if err != nil {
		return nil, err
	}
	out := &Geometry{SpatialReference: wgs84}
	switch t := g.(type) {
	case orb.Point:
		x, y := t[0], t[1]
		out.X, out.Y = &x, &y
	case orb.MultiPoint:
		for _, p := range t {
			out.Points = append(out.Points, []float64{p[0], p[1]})
		}
	case orb.LineString:
		out.Paths = append(out.Paths, path(t))
	case orb.MultiLineString:
		for _, ls := range t {
			out.Paths = append(out.Paths, path(ls))
		}
	case orb.Polygon:
		out.Rings = polygonRings(t)
	case orb.MultiPolygon:
		for _, p := range t {
			out.Rings = append(out.Rings, polygonRings(p)...)
		}
	default:
		return nil, errs.Unsupported("cannot express %s as esrijson", g.GeoJSONType())
	}
	return out, nil
}

func firstGeometry(raw []byte) (orb.Geometry, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	switch hdr.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
			return nil, errs.Invalid("feature collection has no geometry")
		}
		return fc.Features[0].Geometry, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, errs.Invalid("feature has no geometry")
		}
		return f.Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		return g.Geometry(), nil
	}
}

func path(ls orb.LineString) [][]float64 {
	out := make([][]float64, 0, len(ls))
	for _, p := range ls {
		out = append(out, []float64{p[0], p[1]})
	}
	return out
}

// ArcGIS wants shells clockwise and holes counter-clockwise.
func polygonRings(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p))
	for i, r := range p {
		ring := append(orb.Ring(nil), r...)
		want := orb.CW
		if i > 0 {
			want = orb.CCW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		out = append(out, path(orb.LineString(ring)))
	}
	return out
}
