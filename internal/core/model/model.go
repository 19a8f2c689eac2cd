// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// BBox is minX, minY, maxX, maxY in EPSG:4326.
type BBox [4]float64

type Record struct {
	Hash     string          `json:"hash"`
	GeoJSON  json.RawMessage `json:"geojson"`
	AreaHa   *float64        `json:"areaHa,omitempty"`
	BBox     *BBox           `json:"bbox,omitempty"`
	Info     Descriptor      `json:"info"`
	Provider *ProviderRef    `json:"provider,omitempty"`
	Locked   bool            `json:"lock"`
}

// NeedsBackfill reports whether derived fields are missing.
func (r *Record) NeedsBackfill() bool {
	return r.AreaHa == nil || r.BBox == nil
}

type AliasEntry struct {
	OldID string `json:"oldId" yaml:"oldId"`
	Hash  string `json:"hash" yaml:"hash"`
}

type UseRef struct {
	Table string `json:"use"`
	ID    int    `json:"id"`
}

// Descriptor is the semantic identity of a requested geometry. Only the
// identifying fields take part in Key; Name and GADM are display metadata.
type Descriptor struct {
	ISO            string   `json:"iso,omitempty"`
	ID1            *int     `json:"id1,omitempty"`
	ID2            *int     `json:"id2,omitempty"`
	Use            *UseRef  `json:"use,omitempty"`
	Simplify       bool     `json:"simplify,omitempty"`
	WDPAID         *int     `json:"wdpaid,omitempty"`
	SimplifyThresh *float64 `json:"simplifyThresh,omitempty"`
	GADM           string   `json:"gadm,omitempty"`
	Name           string   `json:"name,omitempty"`
}

type DescriptorKind string

const (
	KindNone  DescriptorKind = ""
	KindAdmin DescriptorKind = "admin"
	KindUse   DescriptorKind = "use"
	KindWDPA  DescriptorKind = "wdpa"
)

func (d Descriptor) Kind() DescriptorKind {
	switch {
	case d.ISO != "":
		return KindAdmin
	case d.Use != nil:
		return KindUse
	case d.WDPAID != nil:
		return KindWDPA
	default:
		return KindNone
	}
}

// IsNational is true for country-level admin descriptors.
func (d Descriptor) IsNational() bool {
	return d.ISO != "" && d.ID1 == nil
}

// Key returns the exact-match lookup key, or "" for descriptor-less records.
func (d Descriptor) Key() string {
	var text string
	switch d.Kind() {
	case KindAdmin:
		text = fmt.Sprintf("admin:%s:%s:%s:t=%s", strings.ToUpper(d.ISO), optInt(d.ID1), optInt(d.ID2), FormatThreshold(d.SimplifyThresh))
	case KindUse:
		text = fmt.Sprintf("use:%s:%d:s=%t", d.Use.Table, d.Use.ID, d.Simplify)
	case KindWDPA:
		text = fmt.Sprintf("wdpa:%d", *d.WDPAID)
	default:
		return ""
	}
	return fmt.Sprintf("%s:f=%016x", text, xxhash.Sum64String(text))
}

// thresholds compare at 6 decimal places
const thresholdScale = 1e6

// NormalizeThreshold rounds t so representations like 0.1 and 0.10 collide.
func NormalizeThreshold(t float64) float64 {
	return math.Round(t*thresholdScale) / thresholdScale
}

func FormatThreshold(t *float64) string {
	if t == nil {
		return "-"
	}
	return strconv.FormatFloat(NormalizeThreshold(*t), 'f', -1, 64)
}

func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

// CountryEntry is one row of the national list.
type CountryEntry struct {
	Hash string `json:"geostoreId"`
	ISO  string `json:"iso"`
	Name string `json:"name,omitempty"`
}
