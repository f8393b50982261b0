// Package dates resolves the platform date formats into a UTC timestamp and
// a localized ISO string.
package dates

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/domain"
)

// SourceKind identifies the platform format of a raw date.
type SourceKind int

const (
	// SourceV1 is Twitter API v1.1, e.g. "Thu Feb 07 06:43:33 +0000 2013".
	SourceV1 SourceKind = iota
	// SourceV2 is Twitter API v2, e.g. "2021-04-16T13:49:05.000Z".
	SourceV2
	// SourceBluesky is ISO-8601 with variable precision and optional zone.
	SourceBluesky
)

func (k SourceKind) String() string {
	switch k {
	case SourceV1:
		return "v1"
	case SourceV2:
		return "v2"
	case SourceBluesky:
		return "bluesky"
	}
	return "unknown"
}

const (
	v1Layout = "Mon Jan 02 15:04:05 -0700 2006"
	v2Layout = "2006-01-02T15:04:05.999999999Z"

	// LocalLayout renders Twitter local times.
	LocalLayout = "2006-01-02T15:04:05"
	// BlueskyLocalLayout renders Bluesky local times with microseconds.
	BlueskyLocalLayout = "2006-01-02T15:04:05.000000"
)

var blueskyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Resolve parses raw according to kind and returns its Unix timestamp in
// seconds along with the time rendered in loc. A nil loc means UTC.
func Resolve(raw string, loc *time.Location, kind SourceKind) (int64, string, error) {
	if loc == nil {
		loc = time.UTC
	}

	t, err := Parse(raw, kind)
	if err != nil {
		return 0, "", err
	}

	layout := LocalLayout
	if kind == SourceBluesky {
		layout = BlueskyLocalLayout
	}
	return t.Unix(), t.In(loc).Format(layout), nil
}

// Parse returns the UTC instant described by raw.
func Parse(raw string, kind SourceKind) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	switch kind {
	case SourceV1:
		t, err := time.Parse(v1Layout, raw)
		if err != nil {
			return time.Time{}, invalid(raw, kind, err)
		}
		return t.UTC(), nil

	case SourceV2:
		t, err := time.Parse(v2Layout, raw)
		if err != nil {
			return time.Time{}, invalid(raw, kind, err)
		}
		return t.UTC(), nil

	case SourceBluesky:
		return parseBluesky(raw)
	}

	return time.Time{}, invalid(raw, kind, eris.New("unknown source kind"))
}

// parseBluesky tolerates the year 0000 found in some records by parsing it
// as 0001 and shifting the result back one year.
func parseBluesky(raw string) (time.Time, error) {
	shift := strings.HasPrefix(raw, "0000-")
	if shift {
		raw = "0001" + raw[4:]
	}

	var lastErr error
	for _, layout := range blueskyLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			lastErr = err
			continue
		}
		t = t.UTC()
		if shift {
			t = t.AddDate(-1, 0, 0)
		}
		return t, nil
	}

	return time.Time{}, invalid(raw, SourceBluesky, lastErr)
}

func invalid(raw string, kind SourceKind, err error) error {
	return eris.Wrapf(&domain.PayloadError{Source: raw, Reason: "unparseable " + kind.String() + " date"}, "dates: %v", err)
}

// LoadLocation resolves an IANA zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, eris.Wrapf(err, "dates: load location %q", name)
	}
	return loc, nil
}
