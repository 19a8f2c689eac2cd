package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammed-shakir/geostore/internal/api"
	"github.com/mohammed-shakir/geostore/internal/core/config"
)

type readiness bool

func (r readiness) Readiness() (bool, []string) {
	if r {
		return true, nil
	}
	return false, []string{"store"}
}

func TestRouter_ProbesAndGatedAPI(t *testing.T) {
	var gate api.Gate
	h := Router(slog.Default(), &gate, readiness(false), nil)

	get := func(path string) int {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr.Code
	}

	if c := get("/healthz"); c != http.StatusOK {
		t.Fatalf("healthz=%d", c)
	}
	if c := get("/readyz"); c != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d want 503", c)
	}
	if c := get("/v2/geostore/abc"); c != http.StatusServiceUnavailable {
		t.Fatalf("api before ready=%d want 503", c)
	}
	if c := get("/metrics"); c != http.StatusOK {
		t.Fatalf("metrics=%d", c)
	}

	gate.Set(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) }))
	if c := get("/v2/geostore/abc"); c != http.StatusAccepted {
		t.Fatalf("api after ready=%d", c)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, config.Config{Addr: addr}, slog.Default(), http.NotFoundHandler())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
