package twitter

import (
	"regexp"
	"strings"

	"github.com/blackmichael/socialnorm/internal/domain"
)

var quotedRedactPattern = regexp.MustCompile(`«\s+[^»]+:\s+([^»]+)\s+»`)

// anonymizedFields identify a user, their location or their interlocutors.
var anonymizedFields = []string{
	"url",
	"lat",
	"lng",
	"place_coordinates",
	"place_country_code",
	"place_name",
	"place_type",
	"user_location",
	"user_created_at",
	"user_description",
	"user_id",
	"user_image",
	"user_name",
	"user_screen_name",
	"user_timestamp_utc",
	"user_url",
	"user_verified",
	"retweeted_timestamp_utc",
	"retweeted_user",
	"retweeted_user_id",
	"to_userid",
	"to_username",
	"quoted_user",
	"quoted_user_id",
	"quoted_timestamp_utc",
}

// AnonymizeTweet strips a normalized tweet of its personal fields in place
// and redacts the handles inlined in retweet and quote texts. Tweet ids and
// mentions are kept.
func AnonymizeTweet(tweet domain.Record) {
	text := tweet.String("text")

	switch {
	case present(tweet["retweeted_id"]):
		if _, rest, ok := strings.Cut(text, ": "); ok {
			tweet["text"] = "RT: " + rest
		}
	case present(tweet["quoted_id"]):
		tweet["text"] = RedactQuotedText(text)
	}

	for _, field := range anonymizedFields {
		delete(tweet, field)
	}
}

// RedactQuotedText drops the author handle from quote blocks.
func RedactQuotedText(text string) string {
	return quotedRedactPattern.ReplaceAllString(text, "« $1 »")
}

// present reports whether a reference field holds a value, including after
// CSV flattening turned nil into "".
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}
