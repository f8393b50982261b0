package domain

import (
	"slices"
)

// Record is a flat normalized entity: a tweet, a post, a user or a profile.
// Values are strings, int64, float64, bool, nil, []string, or nested lists
// for coordinates.
type Record map[string]any

// String returns the string value stored at key, or "" when absent or not a
// string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns the int64 value stored at key.
func (r Record) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Bool returns the bool value stored at key, false when absent.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Strings returns the []string value stored at key.
func (r Record) Strings(key string) []string {
	l, _ := r[key].([]string)
	return l
}

// Clone returns a copy of r whose list values are not shared with r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if l, ok := v.([]string); ok {
			v = slices.Clone(l)
		}
		out[k] = v
	}
	return out
}

// WithoutCollectionTime returns a copy of r minus collection_time, for
// equality checks across normalization runs.
func (r Record) WithoutCollectionTime() Record {
	out := r.Clone()
	delete(out, "collection_time")
	return out
}

// SetCollectionSource tags r with how it entered the current normalization
// call and derives match_query from it.
func (r Record) SetCollectionSource(source string) {
	if source != "" {
		r["collected_via"] = []string{source}
	}
	r["match_query"] = MatchesQuery(source)
}

// MatchesQuery reports whether a record collected via source was an
// intentional collection target.
func MatchesQuery(source string) bool {
	return source != SourceThread && source != SourceQuote
}

// Collection sources attached to referenced records.
const (
	SourceRetweet = "retweet"
	SourceQuote   = "quote"
	SourceThread  = "thread"
)
