package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	return m
}

func TestBuild_BaseFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Env: "test", Component: "api"}, &buf)
	zl.Info().Msg("hello")

	m := lastLine(t, &buf)
	if m["service"] != "geostore" || m["env"] != "test" || m["component"] != "api" || m["msg"] != "hello" {
		t.Fatalf("fields=%v", m)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("no timestamp: %v", m)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel, " WARN ": zerolog.WarnLevel, "warning": zerolog.WarnLevel,
		"error": zerolog.ErrorLevel, "": zerolog.InfoLevel, "loud": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSlogBridge_ContextAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).With("store", "redis").WithGroup("req")

	ctx := WithRequestID(context.Background(), "rid-1")
	ctx = WithGeostore(ctx, "abc")
	ctx = WithLookup(ctx, "miss")
	log.WarnContext(ctx, "slow", "ms", 12, "err", errors.New("boom"))

	m := lastLine(t, &buf)
	if m["level"] != "warn" || m["request_id"] != "rid-1" || m["geostore"] != "abc" || m["lookup"] != "miss" {
		t.Fatalf("fields=%v", m)
	}
	if m["store"] != "redis" || m["req.ms"] != float64(12) || m["req.err"] != "boom" {
		t.Fatalf("attrs=%v", m)
	}
}

func TestSlogBridge_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	log.Error("shown")
	if m := lastLine(t, &buf); m["level"] != "error" {
		t.Fatalf("fields=%v", m)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("id=%q", id)
	}
}
