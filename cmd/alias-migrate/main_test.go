package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/store/backend"
)

const h1 = "0123456789abcdef0123456789abcdef"

func TestParse(t *testing.T) {
	entries, err := parse([]byte(`
aliases:
  - oldId: " 5a2b "
    hash: "` + strings.ToUpper(h1) + `"
  - oldId: 5a2b
    hash: ` + h1 + `
  - oldId: "77"
    hash: ffffffffffffffffffffffffffffffff
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 || entries[0].OldID != "5a2b" || entries[0].Hash != h1 || entries[1].OldID != "77" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad hash":    "aliases:\n  - oldId: a\n    hash: nope\n",
		"empty id":    "aliases:\n  - oldId: \"\"\n    hash: " + h1 + "\n",
		"conflicting": "aliases:\n  - oldId: a\n    hash: " + h1 + "\n  - oldId: a\n    hash: ffffffffffffffffffffffffffffffff\n",
		"not yaml":    "aliases: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parse([]byte(doc)); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestMigrate_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	b, err := backend.Open(ctx, config.StoreCfg{Driver: "redis", RedisAddr: mr.Addr()}, slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = b.Close() }()

	entries, err := parse([]byte("aliases:\n  - oldId: legacy-1\n    hash: " + h1 + "\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	n, err := migrate(ctx, b, entries, slog.Default())
	if err != nil || n != 1 {
		t.Fatalf("migrate n=%d err=%v", n, err)
	}
	got, err := b.Resolve(ctx, "legacy-1")
	if err != nil || got != h1 {
		t.Fatalf("Resolve=%q err=%v", got, err)
	}
}
