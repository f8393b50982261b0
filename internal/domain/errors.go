package domain

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNormalization is the root of every error raised while normalizing a
// payload. Use errors.Is to test membership and errors.As for details.
var ErrNormalization = eris.New("normalization failed")

// ErrUnsupportedIDEra is returned for identifiers minted before the
// platform encoded timestamps in them.
var ErrUnsupportedIDEra = eris.Wrap(ErrNormalization, "identifier predates timestamp encoding")

// PayloadError reports a payload missing required structure.
type PayloadError struct {
	// Source is the best-known identifier of the offending entity (URI, URL
	// or id), possibly empty.
	Source string
	Reason string
}

func (e *PayloadError) Error() string {
	if e.Source == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid payload %s: %s", e.Source, e.Reason)
}

func (e *PayloadError) Unwrap() error { return ErrNormalization }

// InconsistentReferenceError reports two views of the same entity that
// disagree.
type InconsistentReferenceError struct {
	Source string
	Field  string
	Left   any
	Right  any
}

func (e *InconsistentReferenceError) Error() string {
	return fmt.Sprintf("inconsistent %s for %s: %v != %v", e.Field, e.Source, e.Left, e.Right)
}

func (e *InconsistentReferenceError) Unwrap() error { return ErrNormalization }

// IncompleteIncludesError reports a v2 reference missing from the payload's
// includes side-table. Kind is one of user, tweet, media or place.
type IncompleteIncludesError struct {
	Kind string
	Key  string
}

func (e *IncompleteIncludesError) Error() string {
	return fmt.Sprintf("%q (%s) missing from includes", e.Key, e.Kind)
}

func (e *IncompleteIncludesError) Unwrap() error { return ErrNormalization }

// DecodeError reports text that could not be reassembled as valid UTF-8.
type DecodeError struct {
	Source string
	Start  int
	End    int
	Raw    []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid utf-8 in %s at bytes [%d:%d]: %q", e.Source, e.Start, e.End, e.Raw)
}

func (e *DecodeError) Unwrap() error { return ErrNormalization }

// PluralFieldError reports a list field holding a non-string member.
type PluralFieldError struct {
	Field string
	Index int
	Value any
}

func (e *PluralFieldError) Error() string {
	return fmt.Sprintf("plural field %s has non-string member at index %d: %v", e.Field, e.Index, e.Value)
}

func (e *PluralFieldError) Unwrap() error { return ErrNormalization }
