// Package geostore coordinates the geometry cache: descriptor lookups that
// fetch upstream on a miss, direct submissions and reads by id.
package geostore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geostore/internal/canonical"
	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/core/observability"
	"github.com/mohammed-shakir/geostore/internal/coverage"
	"github.com/mohammed-shakir/geostore/internal/descriptor"
	"github.com/mohammed-shakir/geostore/internal/esri"
	"github.com/mohammed-shakir/geostore/internal/events"
	"github.com/mohammed-shakir/geostore/internal/store"
	"github.com/mohammed-shakir/geostore/internal/upstream"
)

const (
	DefaultMaxFoundByID = 1000
	aliasConcurrency    = 8
)

type Deps struct {
	Store    store.Store
	Aliases  store.AliasTable
	Fetcher  *upstream.Fetcher
	Resolver *descriptor.Resolver
	Coverage *coverage.Intersector
	Events   events.Sink
	Logger   *slog.Logger

	// MaxFoundByID caps how many records find-by-ids returns.
	MaxFoundByID int
	// StoreTimeout bounds each store call; zero means the request context only.
	StoreTimeout time.Duration
}

type Service struct {
	store    store.Store
	aliases  store.AliasTable
	fetcher  *upstream.Fetcher
	canon    *canonical.Canonicalizer
	resolver *descriptor.Resolver
	coverage *coverage.Intersector
	events   events.Sink
	logger   *slog.Logger

	maxFound     int
	storeTimeout time.Duration
}

func New(d Deps) (*Service, error) {
	if d.Store == nil || d.Fetcher == nil {
		return nil, errors.New("geostore: store and fetcher are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Resolver == nil {
		d.Resolver = descriptor.New("")
	}
	if d.Coverage == nil {
		d.Coverage = coverage.New(d.Fetcher.Source(), d.Logger)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.MaxFoundByID <= 0 {
		d.MaxFoundByID = DefaultMaxFoundByID
	}
	return &Service{
		store:        d.Store,
		aliases:      d.Aliases,
		fetcher:      d.Fetcher,
		canon:        canonical.New(d.Fetcher, d.Logger),
		resolver:     d.Resolver,
		coverage:     d.Coverage,
		events:       d.Events,
		logger:       d.Logger,
		maxFound:     d.MaxFoundByID,
		storeTimeout: d.StoreTimeout,
	}, nil
}

// Resolver exposes the descriptor rules used by this service.
func (s *Service) Resolver() *descriptor.Resolver { return s.resolver }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) resolveID(ctx context.Context, id string) (string, error) {
	if s.aliases == nil {
		return id, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.aliases.Resolve(sctx, id)
}

// Get returns the record for a hash or legacy id, filling in a missing area
// or bbox on the way.
func (s *Service) Get(ctx context.Context, id string) (*model.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errs.Invalid("geostore id is required")
	}
	hash, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	rec, err := s.store.FindByHash(sctx, hash)
	cancel()
	observability.IncLookup("hash", err == nil)
	if err != nil {
		return nil, err
	}
	return s.withDerived(ctx, rec), nil
}

// withDerived back-fills area and bbox. Locked records get them computed for
// the response only. Failures leave the stored record as it was.
func (s *Service) withDerived(ctx context.Context, rec *model.Record) *model.Record {
	if !rec.NeedsBackfill() {
		return rec
	}
	area, bbox, err := canonical.MeasureGeoJSON(rec.GeoJSON)
	if err != nil {
		s.logger.WarnContext(ctx, "cannot measure stored geometry", "hash", rec.Hash, "error", err)
		return rec
	}
	local := func() *model.Record {
		out := store.Clone(rec)
		store.Fill(out, area, bbox)
		return out
	}
	if rec.Locked {
		return local()
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	filled, err := s.store.Backfill(sctx, rec.Hash, area, bbox)
	if err != nil {
		if !errors.Is(err, errs.ErrImmutableConflict) {
			s.logger.WarnContext(ctx, "backfill failed", "hash", rec.Hash, "error", err)
		}
		return local()
	}
	return filled
}

// CreateRequest is a direct submission. Provider takes precedence over
// EsriJSON, and EsriJSON over GeoJSON.
type CreateRequest struct {
	GeoJSON  json.RawMessage
	EsriJSON json.RawMessage
	Provider json.RawMessage
	Lock     bool
}

type source struct {
	raw      []byte
	areaHa   *float64
	provider *model.ProviderRef
}

func present(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t != "" && t != "null"
}

func (s *Service) load(ctx context.Context, req CreateRequest) (*source, error) {
	switch {
	case present(req.Provider):
		spec, err := model.ParseProvider(req.Provider)
		if err != nil {
			return nil, err
		}
		got, err := s.fetcher.Provider(ctx, spec)
		if err != nil {
			return nil, err
		}
		ref := spec.Ref()
		return &source{raw: got.GeoJSON, areaHa: got.AreaHa, provider: &ref}, nil
	case present(req.EsriJSON):
		raw, err := esri.ToGeoJSON(req.EsriJSON)
		if err != nil {
			return nil, err
		}
		return &source{raw: raw}, nil
	case present(req.GeoJSON):
		return &source{raw: req.GeoJSON}, nil
	default:
		return nil, errs.Invalid("geojson, esrijson or provider required")
	}
}

// Create canonicalizes a submission and stores it, returning the existing
// record when the same canonical geometry was stored before.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Record, error) {
	src, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := s.canon.Canonicalize(ctx, src.raw)
	if err != nil {
		return nil, err
	}
	rec := newRecord(res, src.areaHa)
	rec.Provider = src.provider
	rec.Locked = req.Lock

	kind := "geojson"
	if src.provider != nil {
		kind = "provider"
	}
	return s.save(ctx, rec, kind)
}

func newRecord(res *canonical.Result, upstreamArea *float64) *model.Record {
	area, bbox := canonical.Measure(res.Geometry)
	if upstreamArea != nil {
		area = *upstreamArea
	}
	return &model.Record{
		Hash:    res.Hash,
		GeoJSON: json.RawMessage(res.Bytes),
		AreaHa:  &area,
		BBox:    &bbox,
	}
}

func (s *Service) save(ctx context.Context, rec *model.Record, source string) (*model.Record, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	stored, created, err := s.store.Create(sctx, rec)
	switch {
	case errors.Is(err, errs.ErrImmutableConflict):
		observability.IncCreate("conflict")
		return nil, err
	case err != nil:
		observability.IncCreate("error")
		return nil, err
	case created:
		observability.IncCreate("created")
		s.events.Publish(events.Event{
			Hash:   stored.Hash,
			Kind:   string(rec.Info.Kind()),
			Source: source,
			ISO:    rec.Info.ISO,
			Locked: rec.Locked,
		})
		s.logger.InfoContext(ctx, "geostore created", "hash", stored.Hash, "source", source)
	default:
		observability.IncCreate("existing")
	}
	return stored, nil
}

// AreaResult is the measured size of a submission; nothing is stored.
type AreaResult struct {
	AreaHa float64
	BBox   model.BBox
}

func (s *Service) Area(ctx context.Context, req CreateRequest) (*AreaResult, error) {
	src, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	in, err := canonical.Decode(src.raw)
	if err != nil {
		return nil, err
	}
	area, bbox := canonical.Measure(in.Geometry)
	if src.areaHa != nil {
		area = *src.areaHa
	}
	return &AreaResult{AreaHa: area, BBox: bbox}, nil
}

// Lookup returns the record indexed under d, fetching and storing it on a miss.
func (s *Service) Lookup(ctx context.Context, d model.Descriptor) (*model.Record, error) {
	sctx, cancel := s.storeCtx(ctx)
	rec, err := s.store.FindByDescriptor(sctx, d)
	cancel()
	switch {
	case err == nil:
		observability.IncLookup("descriptor", true)
		return s.withDerived(ctx, rec), nil
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}
	observability.IncLookup("descriptor", false)

	got, err := s.fetcher.Descriptor(ctx, d)
	if err != nil {
		return nil, err
	}
	res, err := s.canon.Canonicalize(ctx, got.GeoJSON)
	if err != nil {
		return nil, err
	}
	rec = newRecord(res, got.AreaHa)
	rec.Info = d
	if got.Name != "" {
		rec.Info.Name = got.Name
	}

	stored, err := s.save(ctx, rec, "descriptor")
	if errors.Is(err, errs.ErrImmutableConflict) {
		// a locked record already holds this geometry; the descriptor now points at it
		return s.Get(ctx, rec.Hash)
	}
	return stored, err
}

func (s *Service) Admin(ctx context.Context, iso, id1, id2, simplify string) (*model.Record, error) {
	d, err := s.resolver.Admin(iso, id1, id2, simplify)
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, d)
}

func (s *Service) Use(ctx context.Context, name, id, simplify string) (*model.Record, error) {
	d, err := s.resolver.Use(name, id, simplify)
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, d)
}

func (s *Service) WDPA(ctx context.Context, id string) (*model.Record, error) {
	d, err := s.resolver.WDPA(id)
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, d)
}

// Nationals lists stored country records with their display names. Names are
// best effort: an upstream failure leaves them empty.
func (s *Service) Nationals(ctx context.Context) ([]model.CountryEntry, error) {
	sctx, cancel := s.storeCtx(ctx)
	list, err := s.store.Nationals(sctx)
	cancel()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(list))
	isos := make([]string, 0, len(list))
	for _, e := range list {
		iso := strings.ToUpper(e.ISO)
		if !seen[iso] {
			seen[iso] = true
			isos = append(isos, iso)
		}
	}
	names, err := s.fetcher.CountryNames(ctx, isos)
	if err != nil {
		s.logger.WarnContext(ctx, "country names unavailable", "error", err)
		return list, nil
	}
	for i := range list {
		list[i].Name = names[strings.ToUpper(list[i].ISO)]
	}
	return list, nil
}

// Found is the result of a multi-id lookup.
type Found struct {
	Geostores []*model.Record
	// Hashes lists every match, including those beyond the cap.
	Hashes   []string
	Found    int
	Returned int
}

// FindByIDs resolves ids (trimmed, duplicates removed) and returns the
// matching records up to the configured cap.
func (s *Service) FindByIDs(ctx context.Context, ids []string) (*Found, error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return nil, errs.NotFound("no geostores in payload")
	}

	hashes := make([]string, len(uniq))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aliasConcurrency)
	for i, id := range uniq {
		g.Go(func() error {
			h, err := s.resolveID(gctx, id)
			if err != nil {
				return err
			}
			hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	recs, err := s.store.FindByHashes(sctx, hashes)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errs.NotFound("no geostores found")
	}

	out := &Found{Found: len(recs), Hashes: make([]string, len(recs))}
	for i, r := range recs {
		out.Hashes[i] = r.Hash
	}
	if len(recs) > s.maxFound {
		recs = recs[:s.maxFound]
	}
	out.Geostores = recs
	out.Returned = len(recs)
	s.logger.InfoContext(ctx, "find by ids", "requested", len(uniq), "found", out.Found, "returned", out.Returned)
	return out, nil
}

// Esri renders a record's geometry as an ArcGIS geometry.
func (s *Service) Esri(rec *model.Record) (*esri.Geometry, error) {
	return esri.FromGeoJSON(rec.GeoJSON)
}

// geometry returns the first feature's geometry as a GeoJSON geometry object.
func geometry(rec *model.Record) ([]byte, error) {
	in, err := canonical.Decode(rec.GeoJSON)
	if err != nil {
		return nil, err
	}
	return json.Marshal(geojson.NewGeometry(in.Geometry))
}
