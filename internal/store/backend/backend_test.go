package backend

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geostore/internal/core/config"
)

func TestOpen_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	b, err := Open(context.Background(), config.StoreCfg{Driver: "redis", RedisAddr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = b.Close() }()
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpen_Misconfigured(t *testing.T) {
	for _, cfg := range []config.StoreCfg{{Driver: "mongo"}, {Driver: "postgres"}} {
		if _, err := Open(context.Background(), cfg, nil); !errors.Is(err, ErrMisconfigured) {
			t.Fatalf("%s: err=%v", cfg.Driver, err)
		}
	}
}

func TestOpen_RedisUnreachableIsRetryable(t *testing.T) {
	_, err := Open(context.Background(), config.StoreCfg{Driver: "redis", RedisAddr: "127.0.0.1:1"}, nil)
	if err == nil || errors.Is(err, ErrMisconfigured) {
		t.Fatalf("err=%v", err)
	}
}
