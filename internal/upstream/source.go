// Package upstream talks to the spatial SQL engine that holds boundary data
// and performs geometry repair, simplification and area computation.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Query is one parameterized statement. SQL uses $n placeholders.
type Query struct {
	// Name labels metrics and logs, e.g. "country" or "repair".
	Name string
	SQL  string
	Args []any
	// Account selects a per-user endpoint where the source supports it.
	Account string
}

type Row map[string]any

// Source runs queries against the spatial engine.
type Source interface {
	Query(ctx context.Context, q Query) ([]Row, error)
	Name() string
}

// PermanentError marks failures that retrying cannot fix, such as SQL errors
// or rejected requests.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func (r Row) String(col string) (string, bool) {
	switch v := r[col].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// Float reads a numeric column; nil when absent or null.
func (r Row) Float(col string) *float64 {
	var f float64
	switch v := r[col].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case int:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	return &f
}

// Strings collects a text column across rows, skipping nulls.
func Strings(rows []Row, col string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s, ok := r.String(col); ok {
			out = append(out, s)
		}
	}
	return out
}
