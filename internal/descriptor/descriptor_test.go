package descriptor

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

func TestAdmin_ThresholdPolicy(t *testing.T) {
	r := New("")
	cases := []struct {
		iso, id1, id2, simplify string
		want                    float64
	}{
		{"usa", "", "", "", 0.1},
		{"BRA", "", "", "true", 0.1},
		{"ESP", "", "", "", 0.005},
		{"ESP", "", "", "false", 0.005},
		{"IDN", "1", "", "", 0.01},
		{"ESP", "1", "", "", 0.0005},
		{"CAN", "1", "2", "", 0.001},
		{"ESP", "1", "2", "", 0.00005},
		{"ESP", "", "", "0.2", 0.2},
		{"ESP", "", "", "1", 1},
	}
	for _, tc := range cases {
		d, err := r.Admin(tc.iso, tc.id1, tc.id2, tc.simplify)
		if err != nil {
			t.Fatalf("%+v: %v", tc, err)
		}
		if d.SimplifyThresh == nil || *d.SimplifyThresh != tc.want {
			t.Fatalf("%+v: thresh=%v want %v", tc, d.SimplifyThresh, tc.want)
		}
		if d.GADM != "3.6" {
			t.Fatalf("gadm=%q", d.GADM)
		}
	}
}

func TestAdmin_EquivalentThresholdsShareKey(t *testing.T) {
	r := New("3.6")
	a, err := r.Admin("esp", "", "", "0.1")
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	b, err := r.Admin("ESP", "", "", "0.10")
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %s vs %s", a.Key(), b.Key())
	}
	c, _ := r.Admin("ESP", "", "", "")
	if c.Key() == a.Key() {
		t.Fatalf("policy threshold should give a different key")
	}
}

func TestAdmin_Invalid(t *testing.T) {
	r := New("")
	cases := []struct{ iso, id1, id2, simplify string }{
		{"ES", "", "", ""},
		{"E1P", "", "", ""},
		{"ESP", "x", "", ""},
		{"ESP", "", "2", ""},
		{"ESP", "1", "y", ""},
		{"ESP", "", "", "0"},
		{"ESP", "", "", "1.5"},
		{"ESP", "", "", "-0.1"},
		{"ESP", "", "", "maybe"},
		{"ESP", "", "", "nan"},
		{"ESP", "", "", "NaN"},
		{"ESP", "", "", "inf"},
		{"ESP", "", "", "-Inf"},
	}
	for _, tc := range cases {
		if _, err := r.Admin(tc.iso, tc.id1, tc.id2, tc.simplify); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("%+v: err=%v want invalid input", tc, err)
		}
	}
}

func TestUse_TableMappingAndSimplify(t *testing.T) {
	r := New("")
	d, err := r.Use("oilpalm", "7", "true")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if d.Use == nil || d.Use.Table != "gfw_oil_palm" || d.Use.ID != 7 || !d.Simplify {
		t.Fatalf("descriptor=%+v", d)
	}
	d, err = r.Use("my_table", "3", "")
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if d.Use.Table != "my_table" || d.Simplify {
		t.Fatalf("descriptor=%+v", d)
	}

	for _, bad := range []struct{ name, id, simplify string }{
		{"drop table;", "1", ""},
		{"mining", "one", ""},
		{"mining", "1", "0.3"},
	} {
		if _, err := r.Use(bad.name, bad.id, bad.simplify); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("%+v: err=%v", bad, err)
		}
	}
}

func TestUse_SimplifyChangesKey(t *testing.T) {
	r := New("")
	a, _ := r.Use("mining", "1", "true")
	b, _ := r.Use("mining", "1", "false")
	if a.Key() == b.Key() {
		t.Fatalf("simplified and raw use share a key")
	}
}

func TestWDPA(t *testing.T) {
	r := New("")
	d, err := r.WDPA("142")
	if err != nil || d.WDPAID == nil || *d.WDPAID != 142 {
		t.Fatalf("d=%+v err=%v", d, err)
	}
	if _, err := r.WDPA("abc"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err=%v", err)
	}
}
