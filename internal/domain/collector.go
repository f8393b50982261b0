package domain

import (
	"reflect"
	"slices"
)

// MergePolicy decides how two records for the same entity are combined.
type MergePolicy int

const (
	// MergeStrict fills missing fields, accumulates collected_via, ORs
	// match_query and fails on any other disagreement.
	MergeStrict MergePolicy = iota
	// MergeFirstWins behaves like MergeStrict but keeps the first value on
	// disagreement.
	MergeFirstWins
)

// Fields never compared when merging.
var accumulatingFields = map[string]struct{}{
	"collection_time": {},
	"collected_via":   {},
	"match_query":     {},
}

// Collector deduplicates referenced records discovered while normalizing a
// single payload.
type Collector struct {
	policy  MergePolicy
	key     func(Record) string
	compare func(a, b string) int
	byKey   map[string]Record
}

// NewCollector creates a collector keying records with key and ordering them
// with compare.
func NewCollector(policy MergePolicy, key func(Record) string, compare func(a, b string) int) *Collector {
	return &Collector{
		policy:  policy,
		key:     key,
		compare: compare,
		byKey:   make(map[string]Record),
	}
}

// Add merges records into the collector.
func (c *Collector) Add(records ...Record) error {
	for _, r := range records {
		k := c.key(r)
		existing, ok := c.byKey[k]
		if !ok {
			c.byKey[k] = r
			continue
		}
		if err := Merge(existing, r, c.policy, k); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of distinct entities collected.
func (c *Collector) Len() int {
	return len(c.byKey)
}

// Records returns the collected records sorted by key.
func (c *Collector) Records() []Record {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, c.compare)

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.byKey[k])
	}
	return out
}

// Finish returns the referenced records followed by primary. A referenced
// record sharing the primary's key is folded into primary.
func (c *Collector) Finish(primary Record) []Record {
	pk := c.key(primary)
	if ref, ok := c.byKey[pk]; ok {
		delete(c.byKey, pk)
		accumulate(primary, ref)
	}
	return append(c.Records(), primary)
}

// Merge folds incoming into existing under policy. key identifies the
// entity in errors.
func Merge(existing, incoming Record, policy MergePolicy, key string) error {
	for field, v := range incoming {
		if _, ok := accumulatingFields[field]; ok {
			continue
		}
		current, ok := existing[field]
		if !ok {
			existing[field] = v
			continue
		}
		if policy == MergeStrict && !reflect.DeepEqual(current, v) {
			return &InconsistentReferenceError{Source: key, Field: field, Left: current, Right: v}
		}
	}
	accumulate(existing, incoming)
	return nil
}

func accumulate(existing, incoming Record) {
	if via := incoming.Strings("collected_via"); len(via) > 0 {
		current := existing.Strings("collected_via")
		for _, s := range via {
			if !slices.Contains(current, s) {
				current = append(current, s)
			}
		}
		existing["collected_via"] = current
	}
	if mq, ok := incoming["match_query"].(bool); ok {
		existing["match_query"] = existing.Bool("match_query") || mq
	}
}

// CompareNumeric orders decimal identifiers by value.
func CompareNumeric(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
