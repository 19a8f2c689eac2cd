package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/geostore/internal/api"
	"github.com/mohammed-shakir/geostore/internal/connect"
	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/core/server"
	"github.com/mohammed-shakir/geostore/internal/logger"
	"github.com/mohammed-shakir/geostore/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load when present")
	flag.Parse()

	cfg := config.Load(*envFile)

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Env:       cfg.AppEnv,
		Component: "geostore",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting geostore",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.Store.Driver,
		"upstream", cfg.Upstream.Driver,
		"events", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	if cfg.MetricsEnabled && cfg.MetricsAddr != cfg.Addr {
		go serveMetrics(ctx, cfg.MetricsAddr, prov.Mux(), appLog)
	}

	sink, closeSink, err := newSink(cfg.Events, appLog)
	if err != nil {
		appLog.Error("events setup failed", "err", err)
		return 1
	}
	defer closeSink()

	d := &deps{}
	defer d.close()

	sup := connect.New(connect.Config{MaxElapsed: cfg.Store.ConnectMaxWait}, appLog)
	sup.Go(ctx, "store", openStore(cfg.Store, appLog, d))
	sup.Go(ctx, "upstream", openUpstream(cfg.Upstream, appLog, d))

	var gate api.Gate
	go func() {
		if err := sup.Wait(); err != nil || ctx.Err() != nil {
			return
		}
		h, err := buildAPI(cfg, appLog, d, sink)
		if err != nil {
			appLog.Error("api setup failed", "err", err)
			stop()
			return
		}
		gate.Set(h.Routes())
		appLog.Info("geostore ready")
	}()

	handler := server.Router(appLog, &gate, readiness{sup: sup, gate: &gate}, prov.Handler())

	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Run(ctx, cfg, appLog, handler) }()

	select {
	case err := <-sup.Failed():
		appLog.Error("dependency unavailable", "err", err)
		stop()
		<-srvErr
		return 1
	case err := <-srvErr:
		if err != nil {
			appLog.Error("server exited with error", "err", err)
			return 1
		}
	}
	appLog.Info("server stopped")
	return 0
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, log *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics listen", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server exited", "err", err)
	}
}
