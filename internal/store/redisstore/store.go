package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/core/observability"
	"github.com/mohammed-shakir/geostore/internal/store"
)

const (
	recPrefix    = "geostore:rec:"
	descPrefix   = "geostore:desc:"
	aliasPrefix  = "geostore:alias:"
	nationalsKey = "geostore:nationals"

	backfillAttempts = 3
)

// Store implements store.Backend on top of Client.
type Store struct {
	c      *Client
	logger *slog.Logger
}

var _ store.Backend = (*Store)(nil)

func NewStore(c *Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{c: c, logger: logger}
}

// Open dials addr and wraps the client.
func Open(ctx context.Context, addr string, logger *slog.Logger, opts ...Option) (*Store, error) {
	c, err := New(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewStore(c, logger), nil
}

func recKey(hash string) string { return recPrefix + hash }

func descKey(d model.Descriptor) string {
	k := d.Key()
	if k == "" {
		return ""
	}
	return descPrefix + k
}

func aliasKey(id string) string { return aliasPrefix + id }

func decode(b []byte) (*model.Record, error) {
	var r model.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*model.Record, error) {
	b, err := s.c.Get(ctx, recKey(hash))
	if errors.Is(err, redis.Nil) {
		return nil, errs.NotFound("geostore %s not found", hash)
	}
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (s *Store) FindByHashes(ctx context.Context, hashes []string) ([]*model.Record, error) {
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = recKey(h)
	}
	found, err := s.c.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Record, 0, len(found))
	for _, k := range keys {
		b, ok := found[k]
		if !ok {
			continue
		}
		r, err := decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) FindByDescriptor(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	key := descKey(d)
	if key == "" {
		return nil, errs.NotFound("descriptor is empty")
	}
	hash, err := s.c.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, errs.NotFound("descriptor %s not indexed", d.Key())
	}
	if err != nil {
		return nil, err
	}
	return s.FindByHash(ctx, string(hash))
}

func (s *Store) Create(ctx context.Context, rec *model.Record) (*model.Record, bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("encode record: %w", err)
	}
	created, err := s.c.SetNX(ctx, recKey(rec.Hash), b)
	if err != nil {
		return nil, false, err
	}

	stored := rec
	if !created {
		existing, err := s.FindByHash(ctx, rec.Hash)
		if err != nil {
			return nil, false, err
		}
		if existing.Locked {
			if err := s.index(ctx, rec); err != nil {
				return nil, false, err
			}
			return nil, false, errs.Immutable(rec.Hash)
		}
		stored = existing
	}

	if err := s.index(ctx, rec); err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// index points rec.Info at rec.Hash unless the descriptor is already indexed.
func (s *Store) index(ctx context.Context, rec *model.Record) error {
	key := descKey(rec.Info)
	if key == "" {
		return nil
	}
	indexed, err := s.c.SetNX(ctx, key, []byte(rec.Hash))
	if err != nil {
		return err
	}
	if indexed && rec.Info.IsNational() {
		start := time.Now()
		err := s.c.rdb.HSet(ctx, nationalsKey, rec.Hash, rec.Info.ISO).Err()
		observability.ObserveStoreOp(backend, "hset", err, time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("redis HSET nationals: %w", err)
		}
	}
	return nil
}

func (s *Store) Backfill(ctx context.Context, hash string, areaHa float64, bbox model.BBox) (*model.Record, error) {
	key := recKey(hash)
	var out *model.Record
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errs.NotFound("geostore %s not found", hash)
		}
		if err != nil {
			return fmt.Errorf("redis GET %q: %w", key, err)
		}
		r, err := decode(b)
		if err != nil {
			return err
		}
		if r.Locked {
			return errs.Immutable(hash)
		}
		if !store.Fill(r, areaHa, bbox) {
			out = r
			return nil
		}
		nb, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, nb, 0)
			return nil
		})
		if err == nil {
			out = r
		}
		return err
	}

	start := time.Now()
	var err error
	for range backfillAttempts {
		err = s.c.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.DebugContext(ctx, "backfill raced, retrying", "hash", hash)
	}
	observability.ObserveStoreOp(backend, "backfill", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Nationals(ctx context.Context) ([]model.CountryEntry, error) {
	start := time.Now()
	m, err := s.c.rdb.HGetAll(ctx, nationalsKey).Result()
	observability.ObserveStoreOp(backend, "hgetall", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL nationals: %w", err)
	}
	out := make([]model.CountryEntry, 0, len(m))
	for hash, iso := range m {
		out = append(out, model.CountryEntry{Hash: hash, ISO: iso})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ISO != out[j].ISO {
			return out[i].ISO < out[j].ISO
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

func (s *Store) Resolve(ctx context.Context, id string) (string, error) {
	b, err := s.c.Get(ctx, aliasKey(id))
	if errors.Is(err, redis.Nil) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) Put(ctx context.Context, e model.AliasEntry) error {
	if e.OldID == "" || e.Hash == "" {
		return errs.Invalid("alias needs oldId and hash")
	}
	return s.c.Set(ctx, aliasKey(e.OldID), []byte(e.Hash))
}

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx) }

func (s *Store) Close() error { return s.c.Close() }
