package geostore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf16"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
	"github.com/mohammed-shakir/geostore/internal/core/model"
)

const (
	viewBase = "http://geojson.io/#data=data:application/json,"
	// MaxViewLen bounds the JSON embedded in a view link.
	MaxViewLen = 150000
)

// ViewLink returns a geojson.io link that renders the record.
func (s *Service) ViewLink(ctx context.Context, id string) (string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return viewLink(rec)
}

func viewLink(rec *model.Record) (string, error) {
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type       string          `json:"type"`
			Properties json.RawMessage `json:"properties"`
			Geometry   json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rec.GeoJSON, &fc); err != nil {
		return "", fmt.Errorf("decode stored geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return "", errs.NotFound("geostore %s has no features", rec.Hash)
	}

	var body []byte
	var hdr struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(fc.Features[0].Geometry, &hdr)
	if hdr.Type == "MultiPolygon" {
		// geojson.io renders a bare multipolygon; keep only type and coordinates
		body = fc.Features[0].Geometry
	} else {
		for i := range fc.Features {
			fc.Features[i].Properties = json.RawMessage("null")
		}
		b, err := json.Marshal(fc)
		if err != nil {
			return "", fmt.Errorf("encode view geojson: %w", err)
		}
		body = b
	}

	if jsLen(string(body)) > MaxViewLen {
		return "", errs.TooLarge("Geometry too large, please try again with a smaller geometry.")
	}
	return viewBase + encodeComponent(string(body)), nil
}

// jsLen counts UTF-16 code units, the length a browser sees.
func jsLen(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// encodeComponent escapes like JavaScript's encodeURIComponent.
func encodeComponent(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	for _, r := range []struct{ from, to string }{
		{"%21", "!"}, {"%27", "'"}, {"%28", "("}, {"%29", ")"}, {"%2A", "*"},
	} {
		e = strings.ReplaceAll(e, r.from, r.to)
	}
	return e
}
