// Package backend opens the store driver named in configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/store"
	"github.com/mohammed-shakir/geostore/internal/store/gormstore"
	"github.com/mohammed-shakir/geostore/internal/store/redisstore"
)

// ErrMisconfigured marks errors that retrying cannot fix.
var ErrMisconfigured = errors.New("store misconfigured")

func Open(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Driver {
	case "redis":
		var opts []redisstore.Option
		if cfg.OpTimeout > 0 {
			opts = append(opts, redisstore.WithReadTimeout(cfg.OpTimeout), redisstore.WithWriteTimeout(cfg.OpTimeout))
		}
		s, err := redisstore.Open(ctx, cfg.RedisAddr, logger, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrMisconfigured)
		}
		s, err := gormstore.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrMisconfigured, cfg.Driver)
	}
}
