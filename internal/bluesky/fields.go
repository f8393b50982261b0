package bluesky

import (
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/format"
)

// PostFields is the CSV column contract of normalized posts.
var PostFields = format.NewFieldSet(
	[]string{
		"cid",
		"did",
		"uri",
		"url",
		"timestamp_utc",
		"local_time",
		"user_did",
		"user_handle",
		"text",
		"original_text",
		"repost_count",
		"like_count",
		"reply_count",
		"quote_count",
		"bridgy_original_url",
		"user_url",
		"user_diplay_name",
		"user_langs",
		"user_avatar",
		"user_created_at",
		"user_timestamp_utc",
		"to_post_cid",
		"to_post_did",
		"to_post_uri",
		"to_post_url",
		"to_user_did",
		"to_root_post_cid",
		"to_root_post_did",
		"to_root_post_uri",
		"to_root_post_url",
		"to_root_user_did",
		"repost_by_user_did",
		"repost_by_user_handle",
		"repost_created_at",
		"repost_timestamp_utc",
		"quoted_cid",
		"quoted_did",
		"quoted_uri",
		"quoted_url",
		"quoted_user_did",
		"quoted_user_handle",
		"quoted_created_at",
		"quoted_timestamp_utc",
		"quoted_status",
		"links",
		"domains",
		"card_link",
		"card_title",
		"card_description",
		"card_thumbnail",
		"media_urls",
		"media_thumbnails",
		"media_types",
		"media_alt_texts",
		"mentioned_user_dids",
		"mentioned_user_handles",
		"hashtags",
		"replies_rules",
		"replies_rules_created_at",
		"replies_rules_timestamp_utc",
		"hidden_replies_uris",
		"collection_time",
		"collected_via",
		"match_query",
	},
	[]string{
		"user_langs",
		"links",
		"domains",
		"media_urls",
		"media_thumbnails",
		"media_types",
		"media_alt_texts",
		"mentioned_user_dids",
		"mentioned_user_handles",
		"hashtags",
		"replies_rules",
		"hidden_replies_uris",
		"collected_via",
	},
	[]string{"match_query"},
)

// ProfileFields is the CSV column contract of normalized profiles.
var ProfileFields = format.NewFieldSet(
	[]string{
		"did",
		"url",
		"handle",
		"display_name",
		"description",
		"posts",
		"followers",
		"follows",
		"lists",
		"feedgens",
		"starter_packs",
		"avatar",
		"banner",
		"pinned_post_uri",
		"created_at",
		"timestamp_utc",
		"collection_time",
	},
	nil,
	nil,
)

// PartialProfileFields is the CSV column contract of profiles normalized
// from follower and follow listings.
var PartialProfileFields = format.NewFieldSet(
	[]string{
		"did",
		"url",
		"handle",
		"display_name",
		"description",
		"lists",
		"feedgens",
		"starter_packs",
		"avatar",
		"created_at",
		"timestamp_utc",
		"collection_time",
	},
	nil,
	nil,
)

var (
	transformPost           = PostFields.Mutator()
	formatPost              = PostFields.Formatter()
	transformProfile        = ProfileFields.Mutator()
	formatProfile           = ProfileFields.Formatter()
	transformPartialProfile = PartialProfileFields.Mutator()
	formatPartialProfile    = PartialProfileFields.Formatter()
)

// TransformPostIntoCSVDict flattens a normalized post in place.
func TransformPostIntoCSVDict(post domain.Record, opts ...format.Option) error {
	return transformPost(post, opts...)
}

// FormatPostAsCSVRow renders a normalized post in PostFields order.
func FormatPostAsCSVRow(post domain.Record, opts ...format.Option) ([]string, error) {
	return formatPost(post, opts...)
}

func TransformProfileIntoCSVDict(profile domain.Record, opts ...format.Option) error {
	return transformProfile(profile, opts...)
}

func FormatProfileAsCSVRow(profile domain.Record, opts ...format.Option) ([]string, error) {
	return formatProfile(profile, opts...)
}

func TransformPartialProfileIntoCSVDict(profile domain.Record, opts ...format.Option) error {
	return transformPartialProfile(profile, opts...)
}

func FormatPartialProfileAsCSVRow(profile domain.Record, opts ...format.Option) ([]string, error) {
	return formatPartialProfile(profile, opts...)
}
