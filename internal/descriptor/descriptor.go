// Package descriptor maps request parameters to canonical descriptors.
package descriptor

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
)

// countries whose national geometries get the coarse base threshold
var largeCountries = map[string]bool{
	"USA": true, "RUS": true, "CAN": true, "CHN": true, "BRA": true, "IDN": true,
}

const (
	largeBase   = 0.1
	defaultBase = 0.005
)

// use names that are served from a differently named table
var useTables = map[string]string{
	"mining":                        "gfw_mining",
	"oilpalm":                       "gfw_oil_palm",
	"fiber":                         "gfw_wood_fiber",
	"logging":                       "gfw_logging",
	"tiger_conservation_landscapes": "tcl",
}

type Resolver struct {
	gadm string
}

func New(gadmVersion string) *Resolver {
	if gadmVersion == "" {
		gadmVersion = "3.6"
	}
	return &Resolver{gadm: gadmVersion}
}

// Threshold is the default simplification tolerance for an admin level.
// levels is the number of sub-national ids given (0, 1 or 2).
func Threshold(iso string, levels int) float64 {
	base := defaultBase
	if largeCountries[strings.ToUpper(iso)] {
		base = largeBase
	}
	switch levels {
	case 0:
		return base
	case 1:
		return model.NormalizeThreshold(base / 10)
	default:
		return model.NormalizeThreshold(base / 100)
	}
}

// Admin resolves a country, region or district. id2 requires id1.
func (r *Resolver) Admin(iso, id1, id2, simplify string) (model.Descriptor, error) {
	iso = strings.ToUpper(strings.TrimSpace(iso))
	if !validISO(iso) {
		return model.Descriptor{}, errs.Invalid("iso %q must be three letters", iso)
	}
	d := model.Descriptor{ISO: iso, GADM: r.gadm}
	levels := 0
	if id1 != "" {
		n, err := parseID("id1", id1)
		if err != nil {
			return model.Descriptor{}, err
		}
		d.ID1 = &n
		levels = 1
	}
	if id2 != "" {
		if d.ID1 == nil {
			return model.Descriptor{}, errs.Invalid("id2 requires id1")
		}
		n, err := parseID("id2", id2)
		if err != nil {
			return model.Descriptor{}, err
		}
		d.ID2 = &n
		levels = 2
	}

	thresh, err := adminThreshold(simplify)
	if err != nil {
		return model.Descriptor{}, err
	}
	if thresh == nil {
		t := Threshold(iso, levels)
		thresh = &t
	}
	d.SimplifyThresh = thresh
	return d, nil
}

// adminThreshold returns nil when the policy threshold applies.
func adminThreshold(s string) (*float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "true", "false":
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errs.Invalid("bad syntax for simplify %q: must be true or a number in (0,1]", s)
	}
	if !(f > 0 && f <= 1) {
		return nil, errs.Invalid("bad threshold for simplify %v: must be in range (0,1]", f)
	}
	t := model.NormalizeThreshold(f)
	if t == 0 {
		return nil, errs.Invalid("bad threshold for simplify %v: below precision", f)
	}
	return &t, nil
}

// Use resolves a land-use table feature.
func (r *Resolver) Use(name, id, simplify string) (model.Descriptor, error) {
	table, err := UseTable(strings.TrimSpace(name))
	if err != nil {
		return model.Descriptor{}, err
	}
	n, err := parseID("id", id)
	if err != nil {
		return model.Descriptor{}, err
	}
	simp := false
	switch strings.ToLower(strings.TrimSpace(simplify)) {
	case "", "false":
	case "true":
		simp = true
	default:
		return model.Descriptor{}, errs.Invalid("bad syntax for simplify %q: must be true or false", simplify)
	}
	return model.Descriptor{Use: &model.UseRef{Table: table, ID: n}, Simplify: simp}, nil
}

func (r *Resolver) WDPA(id string) (model.Descriptor, error) {
	n, err := parseID("wdpaid", id)
	if err != nil {
		return model.Descriptor{}, err
	}
	return model.Descriptor{WDPAID: &n}, nil
}

// UseTable maps a use name to its table, for callers that only need the table.
func UseTable(name string) (string, error) {
	table, ok := useTables[name]
	if !ok {
		table = name
	}
	if !model.ValidIdentifier(table) {
		return "", errs.Invalid("use %q is not a valid table name", name)
	}
	return table, nil
}

func validISO(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func parseID(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.Invalid("%s %q must be an integer", field, s)
	}
	return n, nil
}

// ValidISO reports whether s is a three letter country code (any case).
func ValidISO(s string) bool {
	return validISO(strings.ToUpper(s))
}
