package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/esri"
	"github.com/mohammed-shakir/geostore/internal/geostore"
	mylog "github.com/mohammed-shakir/geostore/internal/logger"
)

type geostoreAttrs struct {
	*model.Record
	EsriJSON *esri.Geometry `json:"esrijson,omitempty"`
}

func geostoreResource(rec *model.Record) resource {
	return resource{Type: "geoStore", ID: rec.Hash, Attributes: geostoreAttrs{Record: rec}}
}

type createBody struct {
	GeoJSON  json.RawMessage `json:"geojson"`
	EsriJSON json.RawMessage `json:"esrijson"`
	Provider json.RawMessage `json:"provider"`
	Lock     bool            `json:"lock"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errs.TooLarge("request body exceeds %d bytes", mbe.Limit)
		}
		return errs.Invalid("invalid JSON body")
	}
	return nil
}

func (b createBody) request() geostore.CreateRequest {
	return geostore.CreateRequest{GeoJSON: b.GeoJSON, EsriJSON: b.EsriJSON, Provider: b.Provider, Lock: b.Lock}
}

func (h *Handler) getGeostore(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	ctx := mylog.WithGeostore(r.Context(), hash)

	rec, err := h.svc.Get(ctx, hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attrs := geostoreAttrs{Record: rec}
	if r.URL.Query().Get("format") == "esri" {
		g, err := h.svc.Esri(rec)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		attrs.EsriJSON = g
	}
	writeData(w, resource{Type: "geoStore", ID: rec.Hash, Attributes: attrs})
}

func (h *Handler) createGeostore(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := h.decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.svc.Create(r.Context(), body.request())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, geostoreResource(rec))
}

func (h *Handler) area(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := h.decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Area(r.Context(), body.request())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, resource{Type: "geomArea", Attributes: struct {
		AreaHa float64    `json:"areaHa"`
		BBox   model.BBox `json:"bbox"`
	}{res.AreaHa, res.BBox}})
}

func (h *Handler) findByIDs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Geostores []string `json:"geostores"`
	}
	if err := h.decode(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.Geostores == nil {
		h.writeError(w, r, errs.Invalid("geostores not found"))
		return
	}
	found, err := h.svc.FindByIDs(r.Context(), body.Geostores)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list := make([]resource, len(found.Geostores))
	for i, rec := range found.Geostores {
		list[i] = geostoreResource(rec)
	}
	writeData(w, struct {
		Geostores      []resource `json:"geostores"`
		GeostoresFound []string   `json:"geostoresFound"`
		Found          int        `json:"found"`
		Returned       int        `json:"returned"`
	}{list, found.Hashes, found.Found, found.Returned})
}

func (h *Handler) nationalList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Nationals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.CountryEntry{}
	}
	writeData(w, list)
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Admin(r.Context(),
		chi.URLParam(r, "iso"), chi.URLParam(r, "id1"), chi.URLParam(r, "id2"),
		r.URL.Query().Get("simplify"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, geostoreResource(rec))
}

func (h *Handler) use(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Use(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"), r.URL.Query().Get("simplify"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, geostoreResource(rec))
}

func (h *Handler) wdpa(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.WDPA(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, geostoreResource(rec))
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	link, err := h.svc.ViewLink(mylog.WithGeostore(r.Context(), hash), hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{"view_link": link})
}
