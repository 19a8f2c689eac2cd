package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/mohammed-shakir/geostore/internal/api"
	"github.com/mohammed-shakir/geostore/internal/connect"
	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/core/httpclient"
	"github.com/mohammed-shakir/geostore/internal/descriptor"
	"github.com/mohammed-shakir/geostore/internal/events"
	"github.com/mohammed-shakir/geostore/internal/geostore"
	"github.com/mohammed-shakir/geostore/internal/store"
	"github.com/mohammed-shakir/geostore/internal/store/backend"
	"github.com/mohammed-shakir/geostore/internal/store/lrucache"
	"github.com/mohammed-shakir/geostore/internal/upstream"
)

// deps collects the connections made by the supervisor.
type deps struct {
	mu      sync.Mutex
	backend store.Backend
	source  upstream.Source
	closers []func()
}

func (d *deps) onClose(f func()) {
	d.mu.Lock()
	d.closers = append(d.closers, f)
	d.mu.Unlock()
}

func (d *deps) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func openStore(cfg config.StoreCfg, logger *slog.Logger, d *deps) connect.ConnectFunc {
	return func(ctx context.Context) error {
		b, err := backend.Open(ctx, cfg, logger)
		if errors.Is(err, backend.ErrMisconfigured) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.backend = b
		d.mu.Unlock()
		d.onClose(func() { _ = b.Close() })
		return nil
	}
}

func openUpstream(cfg config.UpstreamCfg, logger *slog.Logger, d *deps) connect.ConnectFunc {
	return func(ctx context.Context) error {
		src, release, err := upstream.Open(ctx, cfg, httpclient.NewOutbound(httpclient.Options{Timeout: cfg.Timeout, UserAgent: "geostore/" + Version}), logger)
		if errors.Is(err, upstream.ErrMisconfigured) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.source = src
		d.mu.Unlock()
		d.onClose(release)
		return nil
	}
}

func newSink(cfg config.EventsCfg, logger *slog.Logger) (events.Sink, func(), error) {
	if !cfg.Enabled {
		return events.Nop{}, func() {}, nil
	}
	p, err := events.NewPublisher(cfg.Brokers, cfg.Topic, cfg.QueueSize, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// buildAPI runs once every dependency is connected.
func buildAPI(cfg config.Config, logger *slog.Logger, d *deps, sink events.Sink) (*api.Handler, error) {
	d.mu.Lock()
	b, src := d.backend, d.source
	d.mu.Unlock()

	svc, err := geostore.New(geostore.Deps{
		Store:        lrucache.New(b, cfg.Store.LRUSize),
		Aliases:      b,
		Fetcher:      upstream.NewFetcher(src, logger),
		Resolver:     descriptor.New(cfg.Upstream.GADMVersion),
		Events:       sink,
		Logger:       logger,
		MaxFoundByID: cfg.MaxFoundByID,
		StoreTimeout: cfg.Store.OpTimeout,
	})
	if err != nil {
		return nil, err
	}
	return api.New(svc, api.Options{
		Logger:       logger,
		DevErrors:    cfg.Dev(),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}), nil
}

// readiness is ready once the supervisor is done and the API is installed.
type readiness struct {
	sup  *connect.Supervisor
	gate *api.Gate
}

func (r readiness) Readiness() (bool, []string) {
	ok, pending := r.sup.Readiness()
	if ok && !r.gate.Ready() {
		return false, []string{"api"}
	}
	return ok, pending
}
