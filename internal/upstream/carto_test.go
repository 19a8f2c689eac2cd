package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/lib/pq"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

type cartoRecorder struct {
	mu         sync.Mutex
	lastMethod string
	lastPath   string
	rawQuery   string
	lastQuery  url.Values
	status     int
	body       string
}

func (c *cartoRecorder) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	c.mu.Lock()
	c.lastMethod = r.Method
	c.lastPath = r.URL.Path
	c.rawQuery = r.URL.RawQuery
	c.lastQuery = r.Form
	status, body := c.status, c.body
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newCarto(t *testing.T, rec *cartoRecorder) *CartoSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)
	src, err := NewCarto(nil, srv.Client(), srv.URL+"/user/{user}/api/v2/sql", "wri-01", "secret")
	if err != nil {
		t.Fatalf("NewCarto: %v", err)
	}
	return src
}

func TestCarto_QueryRendersArgsAndDecodesRows(t *testing.T) {
	rec := &cartoRecorder{body: `{"rows":[{"geojson":"{\"type\":\"Point\",\"coordinates\":[1,2]}","area_ha":12.5,"name":"Spain"}]}`}
	src := newCarto(t, rec)

	rows, err := src.Query(context.Background(), Query{Name: "country", SQL: countrySQL, Args: []any{"ESP", 0.005}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	if a := rows[0].Float("area_ha"); a == nil || *a != 12.5 {
		t.Fatalf("area=%v", a)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastPath != "/user/wri-01/api/v2/sql" {
		t.Fatalf("path=%q", rec.lastPath)
	}
	q := rec.lastQuery.Get("q")
	if !strings.Contains(q, "gid_0 = 'ESP'") || !strings.Contains(q, "ST_Simplify(the_geom, 0.005::float8)") {
		t.Fatalf("rendered sql=%s", q)
	}
	if rec.lastQuery.Get("api_key") != "secret" {
		t.Fatalf("api_key missing")
	}
}

func TestCarto_LargeStatementIsPosted(t *testing.T) {
	rec := &cartoRecorder{body: `{"rows":[{"ok":1}]}`}
	src := newCarto(t, rec)

	ring := strings.Repeat("[7.4,43.7],", 100000)
	geom := `{"type":"Polygon","coordinates":[[` + ring + `[7.4,43.7]]]}`
	rows, err := src.Query(context.Background(), Query{Name: "repair", SQL: "SELECT ST_AsGeoJSON(ST_MakeValid(ST_GeomFromGeoJSON($1))) AS ok", Args: []any{geom}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastMethod != http.MethodPost || rec.rawQuery != "" {
		t.Fatalf("method=%s raw query len=%d", rec.lastMethod, len(rec.rawQuery))
	}
	if q := rec.lastQuery.Get("q"); !strings.Contains(q, pq.QuoteLiteral(geom)) {
		t.Fatalf("posted sql lost the geometry (len %d)", len(q))
	}
	if rec.lastQuery.Get("api_key") != "secret" {
		t.Fatalf("api_key missing from form")
	}
}

func TestCarto_ShortStatementIsGET(t *testing.T) {
	rec := &cartoRecorder{body: `{"rows":[]}`}
	src := newCarto(t, rec)
	if _, err := src.Query(context.Background(), Query{Name: "smoke", SQL: "SELECT 1 AS ok"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastMethod != http.MethodGet || rec.lastQuery.Get("q") != "SELECT 1 AS ok" {
		t.Fatalf("method=%s q=%q", rec.lastMethod, rec.lastQuery.Get("q"))
	}
}

func TestCarto_AccountOverridesUserAndDropsKey(t *testing.T) {
	rec := &cartoRecorder{body: `{"rows":[]}`}
	src := newCarto(t, rec)
	if _, err := src.Query(context.Background(), Query{Name: "provider", SQL: "SELECT 1", Account: "other"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastPath != "/user/other/api/v2/sql" {
		t.Fatalf("path=%q", rec.lastPath)
	}
	if rec.lastQuery.Has("api_key") {
		t.Fatalf("api key must not be sent to another account")
	}
}

func TestCarto_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		permanent bool
		notFound  bool
	}{
		{http.StatusInternalServerError, `oops`, false, false},
		{http.StatusTooManyRequests, `{}`, false, false},
		{http.StatusBadRequest, `{"error":["syntax error"]}`, true, false},
		{http.StatusBadRequest, `{"error":["relation \"nope\" does not exist"]}`, true, true},
	}
	for _, tc := range cases {
		rec := &cartoRecorder{status: tc.status, body: tc.body}
		src := newCarto(t, rec)
		_, err := src.Query(context.Background(), Query{Name: "x", SQL: "SELECT 1"})
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsPermanent(err) != tc.permanent {
			t.Fatalf("status %d: permanent=%v want %v (%v)", tc.status, IsPermanent(err), tc.permanent, err)
		}
		if errors.Is(err, errs.ErrNotFound) != tc.notFound {
			t.Fatalf("status %d: notFound mismatch: %v", tc.status, err)
		}
	}
}

func TestRender_Literals(t *testing.T) {
	got, err := Render("a = $1 AND b = $2 AND c = $3 AND d = ANY($4) AND e = $10", []any{
		"it's", int64(7), 0.25, pq.Array([]string{"USA", "BRA"}), 1, 2, 3, 4, 5, true,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `a = 'it''s' AND b = 7 AND c = 0.25 AND d = ANY('{"USA","BRA"}') AND e = true`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestRender_MissingArgument(t *testing.T) {
	if _, err := Render("a = $2", []any{1}); err == nil {
		t.Fatalf("expected error for missing argument")
	}
	if _, err := Render("a = $1", []any{struct{}{}}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestRender_ArgumentTextIsNotReexpanded(t *testing.T) {
	got, err := Render("a = $1 AND b = $2", []any{"$2", "x"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "a = '$2' AND b = 'x'" {
		t.Fatalf("got %s", got)
	}
}
