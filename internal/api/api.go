// Package api exposes the geostore and coverage endpoints over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geostore/internal/geostore"
)

const defaultMaxBody = 50 << 20

type Options struct {
	Logger *slog.Logger
	// DevErrors exposes internal error messages in 500 responses.
	DevErrors bool
	// MaxBodyBytes caps POST bodies; zero means 50 MiB.
	MaxBodyBytes int64
}

type Handler struct {
	svc       *geostore.Service
	logger    *slog.Logger
	devErrors bool
	maxBody   int64
}

func New(svc *geostore.Service, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Handler{svc: svc, logger: opts.Logger, devErrors: opts.DevErrors, maxBody: opts.MaxBodyBytes}
}

// Routes returns the v2 API; mount it under /v2.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/geostore", func(r chi.Router) {
		r.Post("/", h.createGeostore)
		r.Post("/find-by-ids", h.findByIDs)
		r.Post("/area", h.area)

		r.Get("/admin/list", h.nationalList)
		r.Get("/admin/{iso}", h.admin)
		r.Get("/admin/{iso}/{id1}", h.admin)
		r.Get("/admin/{iso}/{id1}/{id2}", h.admin)
		r.Get("/use/{name}/{id}", h.use)
		r.Get("/wdpa/{id}", h.wdpa)

		r.Get("/{hash}", h.getGeostore)
		r.Get("/{hash}/view", h.view)
	})

	r.Route("/coverage", func(r chi.Router) {
		r.Get("/intersect", h.intersectGeostore)
		r.Get("/intersect/admin/{iso}", h.intersectAdmin)
		r.Get("/intersect/admin/{iso}/{id1}", h.intersectAdmin)
		r.Get("/intersect/use/{name}/{id}", h.intersectUse)
		r.Get("/intersect/wdpa/{id}", h.intersectWDPA)
	})

	return r
}

// Gate answers 503 until the API handler is installed with Set.
type Gate struct {
	h atomic.Pointer[http.Handler]
}

func (g *Gate) Set(h http.Handler) { g.h.Store(&h) }

func (g *Gate) Ready() bool { return g.h.Load() != nil }

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := g.h.Load(); h != nil {
		(*h).ServeHTTP(w, r)
		return
	}
	w.Header().Set("Retry-After", "3")
	writeErrorStatus(w, http.StatusServiceUnavailable, "service is starting")
}
