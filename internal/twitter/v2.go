package twitter

import (
	"html"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
	"github.com/blackmichael/socialnorm/internal/urlnorm"
)

// includes indexes the side tables of a v2 payload.
type includes struct {
	usersByID       map[string]jsonmap.Object
	usersByUsername map[string]jsonmap.Object
	places          map[string]jsonmap.Object
	tweets          map[string]jsonmap.Object
	media           map[string]jsonmap.Object
}

func indexIncludes(inc jsonmap.Object) includes {
	return includes{
		usersByID:       indexBy(inc, "users", "id"),
		usersByUsername: indexBy(inc, "users", "username"),
		places:          indexBy(inc, "places", "id"),
		tweets:          indexBy(inc, "tweets", "id"),
		media:           indexBy(inc, "media", "media_key"),
	}
}

func indexBy(inc jsonmap.Object, table, key string) map[string]jsonmap.Object {
	items := jsonmap.Objects(inc, table)
	out := make(map[string]jsonmap.Object, len(items))
	for _, item := range items {
		if k := jsonmap.Str(item, key); k != "" {
			out[k] = item
		}
	}
	return out
}

func (inc includes) user(id string) (jsonmap.Object, error) {
	if u, ok := inc.usersByID[id]; ok {
		return u, nil
	}
	return nil, &domain.IncompleteIncludesError{Kind: "user", Key: id}
}

// NormalizeTweetsPayloadV2 normalizes every tweet of a v2 API response,
// resolving authors, places, media and referenced tweets from its includes.
func NormalizeTweetsPayloadV2(payload any, opts ...domain.Option) ([]domain.Record, error) {
	return normalizePayloadV2(payload, false, opts)
}

// NormalizeTweetsPayloadV2WithReferenced is NormalizeTweetsPayloadV2 also
// returning the retweeted and quoted tweets, each tweet once, referenced
// tweets before the tweet referencing them.
func NormalizeTweetsPayloadV2WithReferenced(payload any, opts ...domain.Option) ([]domain.Record, error) {
	return normalizePayloadV2(payload, true, opts)
}

func normalizePayloadV2(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error) {
	root, ok := jsonmap.AsObject(payload)
	if !ok {
		return nil, &domain.PayloadError{Reason: "not a Twitter API v2 payload"}
	}
	root = jsonmap.Normalize(root).(map[string]any)

	var data []jsonmap.Object
	switch d := root["data"].(type) {
	case nil:
		return []domain.Record{}, nil
	case map[string]any:
		data = []jsonmap.Object{d}
	case []any:
		data = jsonmap.Objects(root, "data")
		if len(data) != len(d) {
			return nil, &domain.PayloadError{Reason: "v2 data holds non-object items"}
		}
	default:
		return nil, &domain.PayloadError{Reason: "v2 data is neither an object nor a list"}
	}

	inc, ok := jsonmap.Obj(root, "includes")
	if !ok && root["includes"] != nil {
		return nil, &domain.PayloadError{Reason: "v2 includes is not an object"}
	}

	o := domain.NewOptions(opts...)
	idx := indexIncludes(inc)

	output := make([]domain.Record, 0, len(data))
	seen := make(map[string]domain.Record)

	for _, item := range data {
		records, err := normalizeTweetV2(item, idx, o, 0)
		if err != nil {
			return nil, eris.Wrapf(err, "twitter: v2 tweet %s", jsonmap.Str(item, "id"))
		}

		if !referenced {
			output = append(output, records[len(records)-1])
			continue
		}

		for _, r := range records {
			id := r.String("id")
			if earlier, ok := seen[id]; ok {
				if err := domain.Merge(earlier, r, domain.MergeStrict, id); err != nil {
					return nil, err
				}
				continue
			}
			seen[id] = r
			output = append(output, r)
		}
	}

	return output, nil
}

// normalizeTweetV2 returns the tweet's referenced tweets followed by the
// tweet itself.
func normalizeTweetV2(tweet jsonmap.Object, inc includes, o domain.Options, depth int) ([]domain.Record, error) {
	id := jsonmap.Str(tweet, "id")
	if id == "" {
		return nil, &domain.PayloadError{Reason: "v2 tweet has no id"}
	}

	ts, local, err := dates.Resolve(jsonmap.Str(tweet, "created_at"), o.Locale, dates.SourceV2)
	if err != nil {
		return nil, err
	}

	user, err := inc.user(jsonmap.Str(tweet, "author_id"))
	if err != nil {
		return nil, err
	}
	userTS, userCreatedAt, err := dates.Resolve(jsonmap.Str(user, "created_at"), o.Locale, dates.SourceV2)
	if err != nil {
		return nil, eris.Wrap(err, "twitter: author creation date")
	}

	rec := domain.Record{
		"id":                      id,
		"local_time":              local,
		"timestamp_utc":           ts,
		"lat":                     nil,
		"lng":                     nil,
		"place_country_code":      nil,
		"place_name":              nil,
		"place_type":              nil,
		"place_coordinates":       nil,
		"to_username":             nil,
		"to_userid":               nil,
		"to_tweetid":              nil,
		"retweeted_id":            nil,
		"retweeted_user":          nil,
		"retweeted_user_id":       nil,
		"retweeted_timestamp_utc": nil,
		"quoted_id":               nil,
		"quoted_user":             nil,
		"quoted_user_id":          nil,
		"quoted_timestamp_utc":    nil,
		"collection_time":         o.CollectionTime(),
	}

	hashtags := make(map[string]struct{})
	for _, h := range jsonmap.Objects(tweet, "entities", "hashtags") {
		hashtags[jsonmap.Str(h, "tag")] = struct{}{}
	}
	rec["hashtags"] = sortedKeys(hashtags)

	mentions := make(map[string]string)
	for _, m := range jsonmap.Objects(tweet, "entities", "mentions") {
		username := jsonmap.Str(m, "username")
		if mid, ok := jsonmap.StrOK(m, "id"); ok {
			mentions[username] = mid
			continue
		}
		mentioned, ok := inc.usersByUsername[username]
		if !ok {
			return nil, &domain.IncompleteIncludesError{Kind: "user", Key: username}
		}
		mentions[username] = jsonmap.Str(mentioned, "id")
	}
	names := sortedKeys(mentions)
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, mentions[n])
	}
	rec["mentioned_names"], rec["mentioned_ids"] = names, ids

	if err := placeInfoV2(tweet, inc, rec); err != nil {
		return nil, err
	}

	refs := make(map[string]string)
	for _, ref := range jsonmap.Objects(tweet, "referenced_tweets") {
		refs[jsonmap.Str(ref, "type")] = jsonmap.Str(ref, "id")
	}

	if replyID, ok := refs["replied_to"]; ok {
		rec["to_tweetid"] = replyID
		rec["to_username"] = ""
		rec["to_userid"] = jsonmap.Str(tweet, "in_reply_to_user_id")
		if reply, ok := inc.tweets[replyID]; ok {
			if authorID := jsonmap.Str(reply, "author_id"); authorID != "" {
				author, err := inc.user(authorID)
				if err != nil {
					return nil, err
				}
				rec["to_userid"] = authorID
				rec["to_username"] = jsonmap.Str(author, "username")
			}
		}
	}

	var results []domain.Record

	_, isRetweet := refs["retweeted"]
	retweet, err := referencedV2(refs, "retweeted", domain.SourceRetweet, inc, o, depth)
	if err != nil {
		return nil, err
	}
	quote, err := referencedV2(refs, "quoted", domain.SourceQuote, inc, o, depth)
	if err != nil {
		return nil, err
	}

	if isRetweet {
		rec["retweeted_id"] = refs["retweeted"]
	}
	if _, ok := refs["quoted"]; ok {
		rec["quoted_id"] = refs["quoted"]
	}

	text := jsonmap.Str(tweet, "text")
	links := make(map[string]struct{})
	for _, u := range jsonmap.Objects(tweet, "entities", "urls") {
		short := jsonmap.Str(u, "url")
		best := bestURL(u)
		if best != "" && short != "" {
			text = strings.ReplaceAll(text, short, best)
		}
		if best == "" {
			best = short
		}
		links[urlnorm.NormalizeURL(best)] = struct{}{}
	}

	var quotedURL string
	if retweet != nil {
		r := retweet[len(retweet)-1]
		results = append(results, retweet...)
		text = FormatRTText(r.String("user_screen_name"), r.String("text"))
		rec["retweeted_user"] = r["user_screen_name"]
		rec["retweeted_user_id"] = r["user_id"]
		rec["retweeted_timestamp_utc"] = r["timestamp_utc"]
	}
	if quote != nil {
		r := quote[len(quote)-1]
		results = append(results, quote...)
		quotedURL = r.String("url")
		text = FormatQTText(r.String("user_screen_name"), text, r.String("text"), quotedURL)
		rec["quoted_user"] = r["user_screen_name"]
		rec["quoted_user_id"] = r["user_id"]
		rec["quoted_timestamp_utc"] = r["timestamp_utc"]
	}

	sortedLinks := sortedKeys(links)
	if quotedURL != "" {
		target := strings.ToLower(urlnorm.NormalizeURL(quotedURL))
		sortedLinks = slices.DeleteFunc(sortedLinks, func(l string) bool {
			return strings.ToLower(l) == target
		})
	}
	rec["links"] = sortedLinks
	rec["links_to_resolve"] = len(sortedLinks) > 0
	rec["domains"] = domainsOf(sortedLinks)
	rec["text"] = html.UnescapeString(text)
	rec["url"] = FormatTweetURL(jsonmap.Str(user, "username"), id)

	userURL := jsonmap.NonEmptyStr(user, "url")
	if urls := jsonmap.Objects(user, "entities", "url", "urls"); len(urls) > 0 {
		if best := bestURL(urls[0]); best != "" {
			userURL = best
		}
	}

	rec["user_id"] = jsonmap.Str(user, "id")
	rec["user_screen_name"] = jsonmap.Str(user, "username")
	rec["user_name"] = jsonmap.OptStr(user, "name")
	rec["user_image"] = jsonmap.OptStr(user, "profile_image_url")
	rec["user_url"] = userURL
	rec["user_location"] = jsonmap.OptStr(user, "location")
	rec["user_verified"] = jsonmap.OptBool(user, "verified")
	rec["user_description"] = jsonmap.NonEmptyStr(user, "description")
	rec["user_tweets"] = jsonmap.OptInt(user, "public_metrics", "tweet_count")
	rec["user_followers"] = jsonmap.OptInt(user, "public_metrics", "followers_count")
	rec["user_friends"] = jsonmap.OptInt(user, "public_metrics", "following_count")
	rec["user_lists"] = jsonmap.OptInt(user, "public_metrics", "listed_count")
	rec["user_created_at"] = userCreatedAt
	rec["user_timestamp_utc"] = userTS

	rec["possibly_sensitive"] = jsonmap.OptBool(tweet, "possibly_sensitive")
	rec["lang"] = jsonmap.OptStr(tweet, "lang")
	rec["source_name"] = jsonmap.OptStr(tweet, "source")
	for _, metric := range []string{"like_count", "retweet_count", "quote_count", "reply_count"} {
		if isRetweet {
			rec[metric] = int64(0)
			continue
		}
		rec[metric] = jsonmap.OptInt(tweet, "public_metrics", metric)
	}
	rec["impression_count"] = jsonmap.OptInt(tweet, "public_metrics", "impression_count")

	mediaSource := id
	if isRetweet {
		mediaSource = refs["retweeted"]
	}
	if err := mediaInfoV2(tweet, inc, mediaSource, rec); err != nil {
		return nil, err
	}

	source := o.CollectionSource
	if source == "" {
		source = jsonmap.Str(tweet, "collection_source")
	}
	rec.SetCollectionSource(source)

	return append(results, rec), nil
}

// referencedV2 normalizes the tweet referenced under kind. It returns nil
// when there is no such reference or when depth is exhausted.
func referencedV2(refs map[string]string, kind, source string, inc includes, o domain.Options, depth int) ([]domain.Record, error) {
	refID, ok := refs[kind]
	if !ok {
		return nil, nil
	}
	ref, ok := inc.tweets[refID]
	if !ok {
		return nil, &domain.IncompleteIncludesError{Kind: "tweet", Key: refID}
	}
	if depth+1 > o.MaxDepth {
		o.Logger.Debug("twitter: max depth reached, keeping bare reference",
			zap.String("id", refID), zap.String("via", source))
		return nil, nil
	}
	return normalizeTweetV2(ref, inc, o.Nested(source), depth+1)
}

func bestURL(u jsonmap.Object) string {
	if s := jsonmap.Str(u, "unwound_url"); s != "" {
		return s
	}
	return jsonmap.Str(u, "expanded_url")
}

func placeInfoV2(tweet jsonmap.Object, inc includes, rec domain.Record) error {
	geo, ok := jsonmap.Obj(tweet, "geo")
	if !ok {
		return nil
	}

	if point, ok := jsonmap.Obj(geo, "coordinates"); ok && jsonmap.Str(point, "type") == "Point" {
		if coords := jsonmap.Slice(point, "coordinates"); len(coords) == 2 {
			rec["lng"], rec["lat"] = coords[0], coords[1]
		}
	}

	placeID, ok := jsonmap.StrOK(geo, "place_id")
	if !ok {
		return nil
	}
	place, ok := inc.places[placeID]
	if !ok {
		return &domain.IncompleteIncludesError{Kind: "place", Key: placeID}
	}
	rec["place_country_code"] = jsonmap.OptStr(place, "country_code")
	rec["place_name"] = jsonmap.OptStr(place, "full_name")
	rec["place_type"] = jsonmap.OptStr(place, "place_type")
	if bbox := jsonmap.Slice(place, "geo", "bbox"); bbox != nil {
		rec["place_coordinates"] = bbox
	}
	return nil
}

func mediaInfoV2(tweet jsonmap.Object, inc includes, sourceID string, rec domain.Record) error {
	keys := jsonmap.Strings(tweet, "attachments", "media_keys")
	urls := make([]string, 0, len(keys))
	files := make([]string, 0, len(keys))
	types := make([]string, 0, len(keys))
	alts := make([]string, 0, len(keys))

	for _, key := range keys {
		media, ok := inc.media[key]
		if !ok {
			return &domain.IncompleteIncludesError{Kind: "media", Key: key}
		}
		mediaURL := jsonmap.Str(media, "url")
		if mediaURL == "" {
			if variants := jsonmap.Objects(media, "variants"); len(variants) > 0 {
				mediaURL = bestVariant(variants, "bit_rate")
			}
		}
		if mediaURL == "" {
			mediaURL = jsonmap.Str(media, "preview_image_url")
		}
		urls = append(urls, mediaURL)
		files = append(files, sourceID+"_"+MediaNameFromURL(mediaURL))
		types = append(types, jsonmap.Str(media, "type"))
		alts = append(alts, jsonmap.Str(media, "alt_text"))
	}

	rec["media_urls"] = urls
	rec["media_files"] = files
	rec["media_types"] = types
	rec["media_alt_texts"] = alts
	return nil
}
