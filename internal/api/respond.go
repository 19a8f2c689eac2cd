package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

type envelope struct {
	Data any `json:"data"`
}

// resource is the JSON:API style object the original clients expect.
type resource struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Attributes any    `json:"attributes"`
}

type apiError struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, envelope{Data: v})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput),
		errors.Is(err, errs.ErrUnsupportedGeometry),
		errors.Is(err, errs.ErrPayloadTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrImmutableConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	detail := errs.Detail(err)
	switch {
	case status == http.StatusInternalServerError:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		if !h.devErrors {
			detail = "internal server error"
		}
	case status == http.StatusBadGateway:
		h.logger.WarnContext(r.Context(), "upstream failure", "path", r.URL.Path, "err", err)
	default:
		h.logger.LogAttrs(r.Context(), slog.LevelDebug, "request rejected",
			slog.String("path", r.URL.Path), slog.Int("status", status), slog.String("detail", detail))
	}
	writeErrorStatus(w, status, detail)
}

func writeErrorStatus(w http.ResponseWriter, status int, detail string) {
	writeJSONStatus(w, status, map[string][]apiError{
		"errors": {{Status: status, Detail: detail}},
	})
}
