// Package gormstore keeps geometry records in a SQL database through gorm.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/core/observability"
	"github.com/mohammed-shakir/geostore/internal/store"
)

const backend = "sql"

// geojson is TEXT: jsonb would reorder keys and break the content hash.
type geostoreRow struct {
	Hash      string         `gorm:"primaryKey;size:32"`
	GeoJSON   string         `gorm:"column:geojson;type:text;not null"`
	AreaHa    *float64       `gorm:"column:area_ha"`
	BBox      datatypes.JSON `gorm:"column:bbox"`
	Info      datatypes.JSON `gorm:"column:info"`
	Provider  datatypes.JSON `gorm:"column:provider"`
	Locked    bool           `gorm:"column:locked;not null;default:false"`
	CreatedAt time.Time
}

func (geostoreRow) TableName() string { return "geostores" }

type descriptorRow struct {
	Key       string `gorm:"column:descriptor_key;primaryKey;size:255"`
	Hash      string `gorm:"size:32;not null;index"`
	ISO       string `gorm:"column:iso;size:3;index"`
	ID1       *int   `gorm:"column:id1"`
	CreatedAt time.Time
}

func (descriptorRow) TableName() string { return "geostore_descriptors" }

type aliasRow struct {
	OldID string `gorm:"column:old_id;primaryKey"`
	Hash  string `gorm:"size:32;not null"`
}

func (aliasRow) TableName() string { return "geostore_aliases" }

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// Open connects to Postgres and migrates the schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: GormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// GormLogger routes gorm warnings and slow queries into slog.
func GormLogger(logger *slog.Logger) gormlogger.Interface {
	return gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&geostoreRow{}, &descriptorRow{}, &aliasRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	observability.ObserveStoreOp(backend, op, err, time.Since(start).Seconds())
}

func toRow(r *model.Record) (*geostoreRow, error) {
	info, err := json.Marshal(r.Info)
	if err != nil {
		return nil, fmt.Errorf("encode info: %w", err)
	}
	row := &geostoreRow{
		Hash:    r.Hash,
		GeoJSON: string(r.GeoJSON),
		AreaHa:  r.AreaHa,
		Info:    datatypes.JSON(info),
		Locked:  r.Locked,
	}
	if r.BBox != nil {
		b, _ := json.Marshal(r.BBox)
		row.BBox = datatypes.JSON(b)
	}
	if r.Provider != nil {
		p, _ := json.Marshal(r.Provider)
		row.Provider = datatypes.JSON(p)
	}
	return row, nil
}

func fromRow(row *geostoreRow) (*model.Record, error) {
	r := &model.Record{
		Hash:    row.Hash,
		GeoJSON: json.RawMessage(row.GeoJSON),
		AreaHa:  row.AreaHa,
		Locked:  row.Locked,
	}
	if len(row.Info) > 0 {
		if err := json.Unmarshal(row.Info, &r.Info); err != nil {
			return nil, fmt.Errorf("decode info: %w", err)
		}
	}
	if len(row.BBox) > 0 && string(row.BBox) != "null" {
		var b model.BBox
		if err := json.Unmarshal(row.BBox, &b); err != nil {
			return nil, fmt.Errorf("decode bbox: %w", err)
		}
		r.BBox = &b
	}
	if len(row.Provider) > 0 && string(row.Provider) != "null" {
		var p model.ProviderRef
		if err := json.Unmarshal(row.Provider, &p); err != nil {
			return nil, fmt.Errorf("decode provider: %w", err)
		}
		r.Provider = &p
	}
	return r, nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*model.Record, error) {
	start := time.Now()
	var row geostoreRow
	err := s.db.WithContext(ctx).Where("hash = ?", hash).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		observe("get", start, nil)
		return nil, errs.NotFound("geostore %s not found", hash)
	}
	observe("get", start, err)
	if err != nil {
		return nil, fmt.Errorf("select geostore: %w", err)
	}
	return fromRow(&row)
}

func (s *Store) FindByHashes(ctx context.Context, hashes []string) ([]*model.Record, error) {
	start := time.Now()
	if len(hashes) == 0 {
		return nil, nil
	}
	var rows []geostoreRow
	err := s.db.WithContext(ctx).Where("hash IN ?", hashes).Find(&rows).Error
	observe("mget", start, err)
	if err != nil {
		return nil, fmt.Errorf("select geostores: %w", err)
	}
	byHash := make(map[string]*geostoreRow, len(rows))
	for i := range rows {
		byHash[rows[i].Hash] = &rows[i]
	}
	out := make([]*model.Record, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, h := range hashes {
		row, ok := byHash[h]
		if !ok || seen[h] {
			continue
		}
		seen[h] = true
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) FindByDescriptor(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	key := d.Key()
	if key == "" {
		return nil, errs.NotFound("descriptor is empty")
	}
	var dr descriptorRow
	err := s.db.WithContext(ctx).Where("descriptor_key = ?", key).Take(&dr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("descriptor %s not indexed", key)
	}
	if err != nil {
		return nil, fmt.Errorf("select descriptor: %w", err)
	}
	return s.FindByHash(ctx, dr.Hash)
}

func (s *Store) Create(ctx context.Context, rec *model.Record) (*model.Record, bool, error) {
	start := time.Now()
	row, err := toRow(rec)
	if err != nil {
		return nil, false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	observe("create", start, res.Error)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert geostore: %w", res.Error)
	}
	created := res.RowsAffected == 1

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
	key := rec.Info.Key()
	if key == "" {
		return nil
	}
	dr := &descriptorRow{Key: key, Hash: rec.Hash, ISO: rec.Info.ISO, ID1: rec.Info.ID1}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(dr).Error; err != nil {
		return fmt.Errorf("insert descriptor: %w", err)
	}
	return nil
}

// Backfill is one conditional UPDATE so concurrent callers cannot overwrite
// each other or a lock.
func (s *Store) Backfill(ctx context.Context, hash string, areaHa float64, bbox model.BBox) (*model.Record, error) {
	start := time.Now()
	b, _ := json.Marshal(bbox)
	res := s.db.WithContext(ctx).Model(&geostoreRow{}).
		Where("hash = ? AND locked = ?", hash, false).
		Updates(map[string]any{
			"area_ha": gorm.Expr("COALESCE(area_ha, ?)", areaHa),
			"bbox":    gorm.Expr("COALESCE(bbox, ?)", datatypes.JSON(b)),
		})
	observe("backfill", start, res.Error)
	if res.Error != nil {
		return nil, fmt.Errorf("backfill geostore: %w", res.Error)
	}
	rec, err := s.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && rec.Locked {
		return nil, errs.Immutable(hash)
	}
	return rec, nil
}

func (s *Store) Nationals(ctx context.Context) ([]model.CountryEntry, error) {
	var rows []descriptorRow
	err := s.db.WithContext(ctx).
		Where("iso <> '' AND id1 IS NULL").
		Order("iso, hash").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select nationals: %w", err)
	}
	out := make([]model.CountryEntry, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.Hash] {
			continue
		}
		seen[r.Hash] = true
		out = append(out, model.CountryEntry{Hash: r.Hash, ISO: r.ISO})
	}
	return out, nil
}

func (s *Store) Resolve(ctx context.Context, id string) (string, error) {
	var a aliasRow
	err := s.db.WithContext(ctx).Where("old_id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("select alias: %w", err)
	}
	return a.Hash, nil
}

func (s *Store) Put(ctx context.Context, e model.AliasEntry) error {
	if e.OldID == "" || e.Hash == "" {
		return errs.Invalid("alias needs oldId and hash")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "old_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash"}),
	}).Create(&aliasRow{OldID: e.OldID, Hash: e.Hash}).Error
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
