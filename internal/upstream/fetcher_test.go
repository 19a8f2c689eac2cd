package upstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/geostore/internal/canonical"
	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
)

// scriptedSource answers from a list of responses and records every query.
type scriptedSource struct {
	mu      sync.Mutex
	queries []Query
	replies []reply
	delay   time.Duration
}

type reply struct {
	rows []Row
	err  error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Query(ctx context.Context, q Query) ([]Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	var r reply
	if len(s.replies) > 0 {
		r = s.replies[0]
		if len(s.replies) > 1 {
			s.replies = s.replies[1:]
		}
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.rows, r.err
}

func (s *scriptedSource) calls() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

func TestFetcher_AdminQueriesByLevel(t *testing.T) {
	src := &scriptedSource{replies: []reply{{rows: []Row{{"geojson": `{"type":"Point","coordinates":[0,0]}`, "area_ha": 10.0, "name": "X"}}}}}
	f := NewFetcher(src, nil)

	cases := []struct {
		d        model.Descriptor
		name     string
		firstArg any
	}{
		{model.Descriptor{ISO: "ESP", SimplifyThresh: model.FloatPtr(0.005)}, "country", "ESP"},
		{model.Descriptor{ISO: "ESP", ID1: model.IntPtr(3), SimplifyThresh: model.FloatPtr(0.0005)}, "region", "ESP.3_1"},
		{model.Descriptor{ISO: "ESP", ID1: model.IntPtr(3), ID2: model.IntPtr(9), SimplifyThresh: model.FloatPtr(0.00005)}, "district", "ESP.3.9_1"},
	}
	for _, tc := range cases {
		got, err := f.Descriptor(context.Background(), tc.d)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Name != "X" || got.AreaHa == nil || *got.AreaHa != 10 {
			t.Fatalf("%s: fetched=%+v", tc.name, got)
		}
		calls := src.calls()
		last := calls[len(calls)-1]
		if last.Name != tc.name || last.Args[0] != tc.firstArg {
			t.Fatalf("query=%s args=%v", last.Name, last.Args)
		}
		if last.Args[1] != *tc.d.SimplifyThresh {
			t.Fatalf("threshold arg=%v", last.Args[1])
		}
	}
}

func TestFetcher_UseAndWDPA(t *testing.T) {
	src := &scriptedSource{replies: []reply{{rows: []Row{{"geojson": `{"type":"Point","coordinates":[0,0]}`}}}}}
	f := NewFetcher(src, nil)

	if _, err := f.Descriptor(context.Background(), model.Descriptor{Use: &model.UseRef{Table: "gfw_mining", ID: 4}, Simplify: true}); err != nil {
		t.Fatalf("use: %v", err)
	}
	if _, err := f.Descriptor(context.Background(), model.Descriptor{WDPAID: model.IntPtr(55)}); err != nil {
		t.Fatalf("wdpa: %v", err)
	}
	calls := src.calls()
	if calls[0].Name != "use_simplified" || !strings.Contains(calls[0].SQL, `FROM "gfw_mining"`) {
		t.Fatalf("use query=%s %s", calls[0].Name, calls[0].SQL)
	}
	if calls[1].Name != "wdpa" || calls[1].Args[0] != 55 {
		t.Fatalf("wdpa query=%+v", calls[1])
	}
}

func TestFetcher_ZeroRowsIsNotFound(t *testing.T) {
	f := NewFetcher(&scriptedSource{}, nil)
	_, err := f.Descriptor(context.Background(), model.Descriptor{WDPAID: model.IntPtr(1)})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestFetcher_NullGeometryIsNotFound(t *testing.T) {
	f := NewFetcher(&scriptedSource{replies: []reply{{rows: []Row{{"geojson": nil}}}}}, nil)
	_, err := f.Descriptor(context.Background(), model.Descriptor{WDPAID: model.IntPtr(1)})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestFetcher_RepairPassesFamily(t *testing.T) {
	src := &scriptedSource{replies: []reply{{rows: []Row{{"geojson": `{"type":"MultiPolygon","coordinates":[]}`}}}}}
	f := NewFetcher(src, nil)
	out, err := f.Repair(context.Background(), []byte(`{"type":"Polygon"}`), canonical.FamilyPolygon)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !strings.Contains(string(out), "MultiPolygon") {
		t.Fatalf("out=%s", out)
	}
	q := src.calls()[0]
	if q.Name != "repair" || q.Args[1] != 3 {
		t.Fatalf("repair query=%+v", q)
	}
}

func TestFetcher_ProviderBindsFilter(t *testing.T) {
	src := &scriptedSource{replies: []reply{{rows: []Row{{"geojson": `{"type":"Point","coordinates":[0,0]}`}}}}}
	f := NewFetcher(src, nil)
	spec, err := model.ParseProvider([]byte(`{"type":"carto","table":"my_table","user":"acct","filter":"cartodb_id = 12 AND name = 'O''Hara'"}`))
	if err != nil {
		t.Fatalf("ParseProvider: %v", err)
	}
	if _, err := f.Provider(context.Background(), spec); err != nil {
		t.Fatalf("Provider: %v", err)
	}
	q := src.calls()[0]
	if !strings.Contains(q.SQL, `"cartodb_id" = $1 AND "name" = $2`) {
		t.Fatalf("sql=%s", q.SQL)
	}
	if q.Args[0] != int64(12) || q.Args[1] != "O'Hara" || q.Account != "acct" {
		t.Fatalf("args=%v account=%s", q.Args, q.Account)
	}
}

func TestFetcher_CountryNames(t *testing.T) {
	src := &scriptedSource{replies: []reply{{rows: []Row{{"iso": "esp", "name": "Spain"}, {"iso": "BRA", "name": "Brazil"}}}}}
	f := NewFetcher(src, nil)
	names, err := f.CountryNames(context.Background(), []string{"ESP", "BRA"})
	if err != nil {
		t.Fatalf("CountryNames: %v", err)
	}
	if names["ESP"] != "Spain" || names["BRA"] != "Brazil" {
		t.Fatalf("names=%v", names)
	}
	empty, err := f.CountryNames(context.Background(), nil)
	if err != nil || len(empty) != 0 || len(src.calls()) != 1 {
		t.Fatalf("empty list should not query: %v %v", empty, err)
	}
}

func TestIdent_RejectsInjection(t *testing.T) {
	for _, bad := range []string{"a;drop", "a b", `a"b`, "", "1abc"} {
		if _, err := Ident(bad); !errors.Is(err, errs.ErrInvalidInput) {
			t.Fatalf("%q: err=%v", bad, err)
		}
	}
	got, err := Ident("public.gadm")
	if err != nil || got != `"public"."gadm"` {
		t.Fatalf("got %s err=%v", got, err)
	}
}
