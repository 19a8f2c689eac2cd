// Package errs defines the error taxonomy shared by the cache core and the HTTP boundary.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedGeometry = errors.New("unknown geometry")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrImmutableConflict   = errors.New("immutable record")
	ErrPayloadTooLarge     = errors.New("geometry too large")
)

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Invalid(format string, args ...any) error {
	return wrap(ErrInvalidInput, format, args...)
}

func Unsupported(format string, args ...any) error {
	return wrap(ErrUnsupportedGeometry, format, args...)
}

func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

func Immutable(hash string) error {
	return fmt.Errorf("%w: %s is locked", ErrImmutableConflict, hash)
}

func TooLarge(format string, args ...any) error {
	return wrap(ErrPayloadTooLarge, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Detail strips the taxonomy prefix so clients see the message only.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, k := range []error{ErrNotFound, ErrInvalidInput, ErrUnsupportedGeometry, ErrImmutableConflict, ErrPayloadTooLarge} {
		if rest, ok := strings.CutPrefix(msg, k.Error()+": "); ok && rest != "" {
			return rest
		}
	}
	return msg
}
