package twitter

import (
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/format"
)

// TweetFields is the CSV column contract of normalized tweets.
var TweetFields = format.NewFieldSet(
	[]string{
		"id",
		"timestamp_utc",
		"local_time",
		"user_screen_name",
		"text",
		"possibly_sensitive",
		"retweet_count",
		"like_count",
		"reply_count",
		"impression_count",
		"lang",
		"to_username",
		"to_userid",
		"to_tweetid",
		"source_name",
		"source_url",
		"user_location",
		"lat",
		"lng",
		"user_id",
		"user_name",
		"user_verified",
		"user_description",
		"user_url",
		"user_image",
		"user_tweets",
		"user_followers",
		"user_friends",
		"user_likes",
		"user_lists",
		"user_created_at",
		"user_timestamp_utc",
		"collected_via",
		"match_query",
		"retweeted_id",
		"retweeted_user",
		"retweeted_user_id",
		"retweeted_timestamp_utc",
		"quoted_id",
		"quoted_user",
		"quoted_user_id",
		"quoted_timestamp_utc",
		"collection_time",
		"url",
		"place_country_code",
		"place_name",
		"place_type",
		"place_coordinates",
		"links",
		"domains",
		"media_urls",
		"media_files",
		"media_types",
		"media_alt_texts",
		"mentioned_names",
		"mentioned_ids",
		"hashtags",
	},
	[]string{
		"links",
		"domains",
		"hashtags",
		"collected_via",
		"media_urls",
		"media_files",
		"media_types",
		"media_alt_texts",
		"mentioned_names",
		"mentioned_ids",
	},
	[]string{
		"possibly_sensitive",
		"user_verified",
		"match_query",
	},
)

// UserFields is the CSV column contract of normalized users.
var UserFields = format.NewFieldSet(
	[]string{
		"id",
		"screen_name",
		"name",
		"description",
		"url",
		"timestamp_utc",
		"local_time",
		"location",
		"verified",
		"protected",
		"tweets",
		"followers",
		"friends",
		"likes",
		"lists",
		"image",
		"default_profile",
		"default_profile_image",
		"witheld_in_countries",
		"witheld_scope",
	},
	[]string{"witheld_in_countries"},
	[]string{"verified", "protected", "default_profile", "default_profile_image"},
)

var (
	transformTweet = TweetFields.Mutator()
	formatTweet    = TweetFields.Formatter()
	transformUser  = UserFields.Mutator()
	formatUser     = UserFields.Formatter()
)

// TransformTweetIntoCSVDict flattens a normalized tweet in place.
func TransformTweetIntoCSVDict(tweet domain.Record, opts ...format.Option) error {
	return transformTweet(tweet, opts...)
}

// FormatTweetAsCSVRow renders a normalized tweet in TweetFields order.
func FormatTweetAsCSVRow(tweet domain.Record, opts ...format.Option) ([]string, error) {
	return formatTweet(tweet, opts...)
}

// TransformUserIntoCSVDict flattens a normalized user in place.
func TransformUserIntoCSVDict(user domain.Record, opts ...format.Option) error {
	return transformUser(user, opts...)
}

// FormatUserAsCSVRow renders a normalized user in UserFields order.
func FormatUserAsCSVRow(user domain.Record, opts ...format.Option) ([]string, error) {
	return formatUser(user, opts...)
}
