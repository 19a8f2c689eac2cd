package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type coverageAttrs struct {
	Layers []string `json:"layers"`
}

func (h *Handler) writeLayers(w http.ResponseWriter, r *http.Request, layers []string, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if layers == nil {
		layers = []string{}
	}
	writeData(w, resource{Type: "coverages", Attributes: coverageAttrs{Layers: layers}})
}

func (h *Handler) intersectGeostore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var slugs []string
	if s := q.Get("slugs"); s != "" {
		slugs = strings.Split(s, ",")
	}
	layers, err := h.svc.CoverageByGeostore(r.Context(), q.Get("geostore"), slugs)
	h.writeLayers(w, r, layers, err)
}

func (h *Handler) intersectAdmin(w http.ResponseWriter, r *http.Request) {
	layers, err := h.svc.CoverageAdmin(r.Context(), chi.URLParam(r, "iso"), chi.URLParam(r, "id1"))
	h.writeLayers(w, r, layers, err)
}

func (h *Handler) intersectUse(w http.ResponseWriter, r *http.Request) {
	layers, err := h.svc.CoverageUse(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	h.writeLayers(w, r, layers, err)
}

func (h *Handler) intersectWDPA(w http.ResponseWriter, r *http.Request) {
	layers, err := h.svc.CoverageWDPA(r.Context(), chi.URLParam(r, "id"))
	h.writeLayers(w, r, layers, err)
}
