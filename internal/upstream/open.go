package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/geostore/internal/core/config"
)

// ErrMisconfigured marks errors that retrying cannot fix.
var ErrMisconfigured = errors.New("upstream misconfigured")

// Open connects the configured source and wraps it in Retrying. The returned
// func releases the connection.
func Open(ctx context.Context, cfg config.UpstreamCfg, client *http.Client, logger *slog.Logger) (Source, func(), error) {
	var (
		src     Source
		release = func() {}
	)
	switch cfg.Driver {
	case "postgis":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("%w: UPSTREAM_DSN is required for postgis", ErrMisconfigured)
		}
		pg, err := NewPostGIS(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("ping upstream: %w", err)
		}
		src, release = pg, pg.Close
	case "carto":
		c, err := NewCarto(logger, client, cfg.CartoURL, cfg.CartoUser, cfg.CartoAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
		}
		src = c
	default:
		return nil, nil, fmt.Errorf("%w: unknown UPSTREAM_DRIVER %q", ErrMisconfigured, cfg.Driver)
	}
	return NewRetrying(src, RetryConfig{Timeout: cfg.Timeout, MaxTries: cfg.MaxTries}, logger), release, nil
}
