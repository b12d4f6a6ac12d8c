/*
errors.go - Error taxonomy of the registry

CATEGORIES:
  1. Input errors - the caller handed us something unusable
     (unresolvable or merged commune code, bad tile coordinates, rows
     that do not belong to the commune being saved).
  2. Bulk errors - partial failures of best-effort operations. The
     successful part is kept; the error lists what failed.
  3. Store errors - propagated unchanged (wrapped with %w) by the
     store implementations. No retry happens at this layer.

NOT FOUND:
  A missing entity is NOT an error. Single-entity reads return a nil
  pointer and a nil error.
*/
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnresolvableCommune is returned when no current commune descends
	// from the given code.
	ErrUnresolvableCommune = errors.New("unresolvable commune")

	// ErrNotCurrentCommune is returned when a write names a commune
	// that has been merged into another one.
	ErrNotCurrentCommune = errors.New("not a current commune")

	// ErrInvalidTile is returned for out-of-range tile coordinates.
	ErrInvalidTile = errors.New("invalid tile coordinates")

	// ErrCommuneMismatch is returned when a voie or numero handed to
	// SaveCommuneData belongs to another commune.
	ErrCommuneMismatch = errors.New("row belongs to another commune")

	// ErrBulkInsert is the parent of every BulkInsertError.
	ErrBulkInsert = errors.New("bulk insert partially failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnresolvableCommuneError names the code that could not be resolved.
type UnresolvableCommuneError struct {
	CodeCommune string
}

func (e *UnresolvableCommuneError) Error() string {
	return fmt.Sprintf("no current commune found for code %q", e.CodeCommune)
}

func (e *UnresolvableCommuneError) Unwrap() error {
	return ErrUnresolvableCommune
}

// NotCurrentCommuneError names the current commune the code resolves to.
type NotCurrentCommuneError struct {
	CodeCommune string
	Current     string
}

func (e *NotCurrentCommuneError) Error() string {
	return fmt.Sprintf("commune %q is now part of %q", e.CodeCommune, e.Current)
}

func (e *NotCurrentCommuneError) Unwrap() error {
	return ErrNotCurrentCommune
}

// BulkInsertError reports the rows an unordered insert could not write.
// Rows not listed were written.
type BulkInsertError struct {
	Collection string
	Failed     map[string]error // row key -> cause
}

func (e *BulkInsertError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 5 {
		keys = append(keys[:5], "...")
	}
	return fmt.Sprintf("%s: %d row(s) not inserted (%s)", e.Collection, len(e.Failed), strings.Join(keys, ", "))
}

func (e *BulkInsertError) Unwrap() error {
	return ErrBulkInsert
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnresolvableCommune) ||
		errors.Is(err, ErrNotCurrentCommune) ||
		errors.Is(err, ErrInvalidTile) ||
		errors.Is(err, ErrCommuneMismatch)
}
