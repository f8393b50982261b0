package format

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/domain"
)

// DefaultSeparator joins plural field members.
const DefaultSeparator = "|"

// linksOverride replaces links when present, for pipelines resolving
// shortened URLs after normalization.
const linksOverride = "proper_links"

type config struct {
	itemID         string
	hasItemID      bool
	separator      string
	allowErroneous bool
}

// Option configures a single formatting call.
type Option func(*config)

// WithItemID overrides the id column.
func WithItemID(id string) Option {
	return func(c *config) {
		c.itemID = id
		c.hasItemID = true
	}
}

// WithSeparator joins plural fields with sep instead of "|".
func WithSeparator(sep string) Option {
	return func(c *config) { c.separator = sep }
}

// WithErroneousPlurals renders non-string plural members as "" instead of
// failing.
func WithErroneousPlurals() Option {
	return func(c *config) { c.allowErroneous = true }
}

func newConfig(opts []Option) config {
	c := config{separator: DefaultSeparator}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// RowMutator flattens a record in place.
type RowMutator func(r domain.Record, opts ...Option) error

// RowFormatter renders a record as an ordered row without modifying it.
type RowFormatter func(r domain.Record, opts ...Option) ([]string, error)

// MakeRowMutator returns a mutator joining plural fields with the separator
// (absent lists become "") and rendering boolean fields as "1" or "".
func MakeRowMutator(plural, boolean Set) RowMutator {
	return func(r domain.Record, opts ...Option) error {
		c := newConfig(opts)

		if c.hasItemID {
			r["id"] = c.itemID
		}
		if v, ok := r[linksOverride]; ok && plural.Has("links") {
			r["links"] = v
		}

		for field := range plural {
			joined, err := joinPlural(field, r[field], c)
			if err != nil {
				return err
			}
			r[field] = joined
		}
		for field := range boolean {
			r[field] = formatBool(r[field])
		}
		return nil
	}
}

// MakeRowFormatter returns a formatter producing one string per entry of
// fields, in order.
func MakeRowFormatter(fields []string, plural, boolean Set) RowFormatter {
	return func(r domain.Record, opts ...Option) ([]string, error) {
		c := newConfig(opts)
		row := make([]string, len(fields))

		for i, field := range fields {
			v := r[field]
			if field == "id" && c.hasItemID {
				v = c.itemID
			}
			if field == "links" {
				if override, ok := r[linksOverride]; ok {
					v = override
				}
			}

			switch {
			case plural.Has(field):
				joined, err := joinPlural(field, v, c)
				if err != nil {
					return nil, err
				}
				row[i] = joined
			case boolean.Has(field):
				row[i] = formatBool(v)
			default:
				s, err := Scalar(v)
				if err != nil {
					return nil, eris.Wrapf(err, "format: field %s", field)
				}
				row[i] = s
			}
		}
		return row, nil
	}
}

func joinPlural(field string, v any, c config) (string, error) {
	switch l := v.(type) {
	case nil:
		return "", nil
	case string:
		return l, nil
	case []string:
		return strings.Join(l, c.separator), nil
	case []any:
		parts := make([]string, len(l))
		for i, item := range l {
			s, ok := item.(string)
			if !ok {
				if !c.allowErroneous {
					return "", &domain.PluralFieldError{Field: field, Index: i, Value: item}
				}
				s = ""
			}
			parts[i] = s
		}
		return strings.Join(parts, c.separator), nil
	}
	if c.allowErroneous {
		return "", nil
	}
	return "", &domain.PluralFieldError{Field: field, Index: -1, Value: v}
}

// formatBool follows truthiness: false, zero, empty and nil render as "".
func formatBool(v any) string {
	switch b := v.(type) {
	case bool:
		if b {
			return "1"
		}
	case string:
		if b != "" {
			return "1"
		}
	case int64:
		if b != 0 {
			return "1"
		}
	case int:
		if b != 0 {
			return "1"
		}
	case float64:
		if b != 0 {
			return "1"
		}
	}
	return ""
}

// Scalar renders a single record value. Lists and objects outside the plural
// set are rendered as JSON.
func Scalar(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case int:
		return strconv.Itoa(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case json.Number:
		return s.String(), nil
	case bool:
		if s {
			return "True", nil
		}
		return "False", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "format: marshal value")
	}
	return string(b), nil
}
