package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

// PostGISSource runs queries on a PostGIS database with real parameter binding.
type PostGISSource struct {
	pool *pgxpool.Pool
}

func NewPostGIS(ctx context.Context, dsn string) (*PostGISSource, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse upstream dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open upstream pool: %w", err)
	}
	return &PostGISSource{pool: pool}, nil
}

func (s *PostGISSource) Name() string { return "postgis" }

func (s *PostGISSource) Query(ctx context.Context, q Query) ([]Row, error) {
	rows, err := s.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, pgError(q, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, pgError(q, err)
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

func (s *PostGISSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostGISSource) Close() {
	s.pool.Close()
}

// Server-side SQL errors will not go away on retry.
func pgError(q Query, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", q.Name, err)
	}
	switch pgErr.Code {
	case "42P01", "42703": // undefined_table, undefined_column
		return permanent(errs.NotFound("%s: %s", q.Name, pgErr.Message))
	case "XX000", "22023", "22P02": // PostGIS parse errors, invalid parameter, invalid text
		return permanent(errs.Invalid("%s: %s", q.Name, pgErr.Message))
	default:
		return permanent(fmt.Errorf("%s: sqlstate %s: %w", q.Name, pgErr.Code, err))
	}
}
