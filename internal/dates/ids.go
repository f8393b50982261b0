package dates

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/domain"
)

const (
	// twitterEpochMS is the Twitter snowflake epoch in Unix milliseconds.
	twitterEpochMS = 1288834974657

	// MinSnowflakeID is the first tweet id carrying a timestamp.
	MinSnowflakeID = 29700859247

	tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"
	tidLength   = 13
)

// TimestampFromSnowflake returns the creation time in seconds encoded in a
// tweet id.
func TimestampFromSnowflake(id string) (int64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, eris.Wrap(&domain.PayloadError{Source: id, Reason: "not a numeric id"}, "dates: parse snowflake")
	}
	if n < MinSnowflakeID {
		return 0, eris.Wrapf(domain.ErrUnsupportedIDEra, "dates: snowflake %s", id)
	}
	return (int64(n>>22) + twitterEpochMS) / 1000, nil
}

// DatesFromSnowflake is Resolve for a tweet id instead of a date string.
func DatesFromSnowflake(id string, loc *time.Location) (int64, string, error) {
	if loc == nil {
		loc = time.UTC
	}
	ts, err := TimestampFromSnowflake(id)
	if err != nil {
		return 0, "", err
	}
	return ts, time.Unix(ts, 0).In(loc).Format(LocalLayout), nil
}

// TimeFromTID decodes the microsecond timestamp of an AT Protocol record key.
func TimeFromTID(rkey string) (time.Time, error) {
	if len(rkey) != tidLength {
		return time.Time{}, eris.Wrap(&domain.PayloadError{Source: rkey, Reason: "not a TID"}, "dates: parse tid")
	}

	var n uint64
	for i := 0; i < len(rkey); i++ {
		idx := strings.IndexByte(tidAlphabet, rkey[i])
		if idx < 0 || (i == 0 && idx >= 16) {
			return time.Time{}, eris.Wrap(&domain.PayloadError{Source: rkey, Reason: "not a TID"}, "dates: parse tid")
		}
		n = n<<5 | uint64(idx)
	}
	if n>>63 != 0 {
		return time.Time{}, eris.Wrap(&domain.PayloadError{Source: rkey, Reason: "not a TID"}, "dates: parse tid")
	}

	micros := int64(n >> 10)
	return time.UnixMicro(micros).UTC(), nil
}

// DatesFromTID is Resolve for a Bluesky record key.
func DatesFromTID(rkey string, loc *time.Location) (int64, string, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := TimeFromTID(rkey)
	if err != nil {
		return 0, "", err
	}
	return t.Unix(), t.In(loc).Format(BlueskyLocalLayout), nil
}
