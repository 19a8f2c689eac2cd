package model

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geostore/internal/core/errs"
)

type ProviderKind string

const ProviderCarto ProviderKind = "carto"

// ProviderSpec is the closed set of sources a geometry can be created from.
// Adding a source means adding a variant here and a case to every switch on it.
type ProviderSpec interface {
	Kind() ProviderKind
	Ref() ProviderRef
	sealed()
}

// ProviderRef is the traceability record persisted with a geometry.
type ProviderRef struct {
	Type   ProviderKind `json:"type"`
	Table  string       `json:"table,omitempty"`
	User   string       `json:"user,omitempty"`
	Filter string       `json:"filter,omitempty"`
}

// Predicate is one column = value term of a provider filter.
type Predicate struct {
	Column string
	Value  any
}

// CartoTable selects one row of a table held by a Carto account.
type CartoTable struct {
	Table  string
	User   string
	Filter []Predicate
	raw    string
}

func (CartoTable) Kind() ProviderKind { return ProviderCarto }
func (CartoTable) sealed()            {}

func (c CartoTable) Ref() ProviderRef {
	return ProviderRef{Type: ProviderCarto, Table: c.Table, User: c.User, Filter: c.raw}
}

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}(\.[A-Za-z_][A-Za-z0-9_]{0,62})?$`)
	termPattern  = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]{0,62})\s*=\s*('(?:[^']|'')*'|-?\d+(?:\.\d+)?)\s*`)
	andPattern   = regexp.MustCompile(`^(?i)AND\s+`)
)

// ValidIdentifier reports whether s can be used as a (schema-qualified) table or column name.
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// ParseProvider decodes the provider member of a create request.
func ParseProvider(raw json.RawMessage) (ProviderSpec, error) {
	var hdr struct {
		Type   string `json:"type"`
		Table  string `json:"table"`
		User   string `json:"user"`
		Filter string `json:"filter"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, errs.Invalid("provider: %v", err)
	}
	switch ProviderKind(strings.ToLower(strings.TrimSpace(hdr.Type))) {
	case ProviderCarto:
		if !ValidIdentifier(hdr.Table) {
			return nil, errs.Invalid("provider table %q is not a valid identifier", hdr.Table)
		}
		preds, err := ParseFilter(hdr.Filter)
		if err != nil {
			return nil, err
		}
		return CartoTable{Table: hdr.Table, User: strings.TrimSpace(hdr.User), Filter: preds, raw: hdr.Filter}, nil
	default:
		return nil, errs.Invalid("provider %s not found", hdr.Type)
	}
}

// ParseFilter accepts `col = literal [AND col = literal]...` where literal is a
// quoted string or a number. Anything else is rejected so no caller text ever
// reaches SQL unbound.
func ParseFilter(s string) ([]Predicate, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return nil, errs.Invalid("provider filter is required")
	}
	var out []Predicate
	for {
		m := termPattern.FindStringSubmatch(rest)
		if m == nil {
			return nil, errs.Invalid("unsupported provider filter %q", s)
		}
		val, err := literal(m[2])
		if err != nil {
			return nil, err
		}
		out = append(out, Predicate{Column: m[1], Value: val})
		rest = rest[len(m[0]):]
		if rest == "" {
			return out, nil
		}
		loc := andPattern.FindStringIndex(rest)
		if loc == nil {
			return nil, errs.Invalid("unsupported provider filter %q", s)
		}
		rest = rest[loc[1]:]
	}
}

func literal(tok string) (any, error) {
	if strings.HasPrefix(tok, "'") {
		return strings.ReplaceAll(tok[1:len(tok)-1], "''", "'"), nil
	}
	if !strings.Contains(tok, ".") {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, errs.Invalid("bad numeric literal %q", tok)
	}
	return f, nil
}
