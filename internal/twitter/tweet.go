// Package twitter normalizes Twitter API v1.1 and v2 payloads into flat
// tweet and user records.
package twitter

import (
	"html"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
	"github.com/blackmichael/socialnorm/internal/urlnorm"
)

// NormalizeTweet normalizes a v1.1 tweet payload into a single record.
// Retweeted and quoted tweets embedded in the payload are normalized to
// compute the rt/quote fields but are not returned.
func NormalizeTweet(payload map[string]any, opts ...domain.Option) (domain.Record, error) {
	records, err := normalizeTweetEntry(payload, opts)
	if err != nil {
		return nil, err
	}
	return records[len(records)-1], nil
}

// NormalizeTweetWithReferenced normalizes a v1.1 tweet payload and returns
// every tweet found in it, deduplicated and sorted by id, the requested
// tweet last.
func NormalizeTweetWithReferenced(payload map[string]any, opts ...domain.Option) ([]domain.Record, error) {
	records, err := normalizeTweetEntry(payload, opts)
	if err != nil {
		return nil, err
	}

	primary := records[len(records)-1]
	c := newTweetCollector()
	if err := c.Add(records[:len(records)-1]...); err != nil {
		return nil, err
	}
	return c.Finish(primary), nil
}

func newTweetCollector() *domain.Collector {
	return domain.NewCollector(domain.MergeStrict, func(r domain.Record) string {
		return r.String("id")
	}, domain.CompareNumeric)
}

func normalizeTweetEntry(payload map[string]any, opts []domain.Option) ([]domain.Record, error) {
	if payload == nil {
		return nil, &domain.PayloadError{Reason: "tweet payload is not an object"}
	}
	o := domain.NewOptions(opts...)
	tweet := payload
	if o.Pure {
		tweet = jsonmap.Normalize(payload).(map[string]any)
	}
	return normalizeTweet(tweet, o, 0)
}

// tweetID returns id_str, falling back on a numeric id.
func tweetID(m jsonmap.Object) string {
	if s, ok := jsonmap.StrOK(m, "id_str"); ok {
		return s
	}
	if n, ok := jsonmap.Int(m, "id"); ok {
		return strconv.FormatInt(n, 10)
	}
	return jsonmap.Str(m, "id")
}

// embedded is a retweeted or quoted tweet. records is empty past the depth
// cap.
type embedded struct {
	id, user string
	userID   any
	records  []domain.Record
}

func (e *embedded) record() domain.Record {
	if e == nil || len(e.records) == 0 {
		return nil
	}
	return e.records[len(e.records)-1]
}

// normalizeTweet returns the records found in tweet, the tweet itself last.
// tweet is modified.
func normalizeTweet(tweet jsonmap.Object, o domain.Options, depth int) ([]domain.Record, error) {
	id := tweetID(tweet)
	if id == "" {
		return nil, &domain.PayloadError{Reason: "tweet has no id"}
	}
	if _, ok := jsonmap.Obj(tweet, "user"); !ok {
		return nil, &domain.PayloadError{Source: id, Reason: "tweet has no user"}
	}

	if ext, ok := jsonmap.Obj(tweet, "extended_tweet"); ok {
		for k, v := range ext {
			tweet[k] = v
		}
	}

	text, ok := jsonmap.StrOK(tweet, "full_text")
	if !ok {
		text = jsonmap.Str(tweet, "text")
	}

	var (
		results []domain.Record
		rt, qt  *embedded
		qtURL   string
	)

	if rs, ok := jsonmap.Obj(tweet, "retweeted_status"); ok && tweetID(rs) != id {
		nested, err := normalizeEmbedded(rs, o, depth, domain.SourceRetweet)
		if err != nil {
			return nil, eris.Wrapf(err, "twitter: retweet of %s", id)
		}
		rt = nested
		results = append(results, rt.records...)
		resolveEntities(tweet, rs)
	} else if qs, ok := jsonmap.Obj(tweet, "quoted_status"); ok && tweetID(qs) != id {
		nested, err := normalizeEmbedded(qs, o, depth, domain.SourceQuote)
		if err != nil {
			return nil, eris.Wrapf(err, "twitter: quote of %s", id)
		}
		qt = nested
		results = append(results, qt.records...)
		if r := qt.record(); r != nil {
			qtURL = r.String("url")
		}
		if permalink := jsonmap.Str(tweet, "quoted_status_permalink", "expanded"); permalink != "" {
			qtURL = permalink
		}
		resolveEntities(tweet, qs)
	}

	mediaSource := id
	switch {
	case rt != nil:
		mediaSource = rt.id
	case qt != nil:
		mediaSource = qt.id
	}
	ents := extractEntities(tweet, text, mediaSource)
	text = ents.text

	if r := rt.record(); r != nil {
		text = FormatRTText(rt.user, r.String("text"))
		if quotedID := r.String("quoted_id"); quotedID != "" {
			qtURL = FormatTweetURL(r.String("quoted_user"), quotedID)
		}
	} else if r := qt.record(); r != nil {
		text = FormatQTText(qt.user, text, r.String("text"), qtURL)
	}

	links := ents.links
	if qtURL != "" {
		target := strings.ToLower(urlnorm.NormalizeURL(qtURL))
		links = slices.DeleteFunc(links, func(l string) bool {
			return strings.ToLower(l) == target
		})
	}

	ts, local, err := tweetDates(tweet, id, o)
	if err != nil {
		return nil, err
	}

	text = html.UnescapeString(text)

	source := o.CollectionSource
	if source == "" {
		source = jsonmap.Str(tweet, "collection_source")
	}

	hashtags := ents.hashtags
	if len(hashtags) == 0 {
		hashtags = HashtagsFromText(text)
	}
	mentionedNames := sortedKeys(ents.mentions)
	mentionedIDs := make([]string, 0, len(mentionedNames))
	for _, name := range mentionedNames {
		mentionedIDs = append(mentionedIDs, ents.mentions[name])
	}
	if len(mentionedNames) == 0 {
		mentionedNames = MentionsFromText(text)
	}

	user, _ := jsonmap.Obj(tweet, "user")
	rec := domain.Record{
		"id":                      id,
		"local_time":              local,
		"timestamp_utc":           ts,
		"text":                    text,
		"url":                     FormatTweetURL(jsonmap.Str(user, "screen_name"), id),
		"quoted_id":               nil,
		"quoted_user":             nil,
		"quoted_user_id":          nil,
		"quoted_timestamp_utc":    nil,
		"retweeted_id":            nil,
		"retweeted_user":          nil,
		"retweeted_user_id":       nil,
		"retweeted_timestamp_utc": nil,
		"media_files":             ents.mediaFiles,
		"media_types":             ents.mediaTypes,
		"media_urls":              ents.mediaURLs,
		"media_alt_texts":         ents.mediaAltTexts,
		"links":                   links,
		"links_to_resolve":        len(links) > 0,
		"domains":                 domainsOf(links),
		"hashtags":                hashtags,
		"mentioned_ids":           mentionedIDs,
		"mentioned_names":         mentionedNames,
		"collection_time":         o.CollectionTime(),
	}
	rec.SetCollectionSource(source)

	if rt != nil {
		rec["retweeted_id"] = rt.id
		rec["retweeted_user"] = rt.user
		rec["retweeted_user_id"] = rt.userID
		if r := rt.record(); r != nil {
			rec["retweeted_timestamp_utc"] = r["timestamp_utc"]
		}
	}
	if qt != nil {
		rec["quoted_id"] = qt.id
		rec["quoted_user"] = qt.user
		rec["quoted_user_id"] = qt.userID
		if r := qt.record(); r != nil {
			rec["quoted_timestamp_utc"] = r["timestamp_utc"]
		}
	}

	if err := grabExtraMeta(tweet, rec, o); err != nil {
		return nil, eris.Wrapf(err, "twitter: tweet %s", id)
	}

	if r := rt.record(); r != nil {
		if n, _ := rec.Int("retweet_count"); n == 0 {
			rec["retweet_count"] = r["retweet_count"]
		}
	}

	return append(results, rec), nil
}

func normalizeEmbedded(m jsonmap.Object, o domain.Options, depth int, source string) (*embedded, error) {
	user, _ := jsonmap.Obj(m, "user")
	e := &embedded{
		id:     tweetID(m),
		user:   jsonmap.Str(user, "screen_name"),
		userID: jsonmap.OptStr(user, "id_str"),
	}

	if depth+1 > o.MaxDepth {
		o.Logger.Debug("twitter: max depth reached, keeping bare reference",
			zap.String("id", e.id), zap.String("via", source))
		return e, nil
	}

	nested, err := normalizeTweet(m, o.Nested(source), depth+1)
	if err != nil {
		return nil, err
	}
	e.records = nested
	return e, nil
}

// resolveEntities appends the entity lists of an embedded tweet to the
// tweet's own.
func resolveEntities(tweet, target jsonmap.Object) {
	for _, ent := range []string{"entities", "extended_entities"} {
		src, ok := jsonmap.Obj(target, ent)
		if !ok {
			continue
		}
		dst, ok := jsonmap.Obj(tweet, ent)
		if !ok {
			dst = make(map[string]any)
			tweet[ent] = dst
		}
		for field, v := range src {
			add, _ := v.([]any)
			cur, _ := dst[field].([]any)
			merged := make([]any, 0, len(cur)+len(add))
			dst[field] = append(append(merged, cur...), add...)
		}
	}
}

type entities struct {
	text          string
	links         []string
	hashtags      []string
	mentions      map[string]string
	mediaURLs     []string
	mediaFiles    []string
	mediaTypes    []string
	mediaAltTexts []string
}

func extractEntities(tweet jsonmap.Object, text, sourceID string) entities {
	out := entities{
		text:          text,
		links:         []string{},
		hashtags:      []string{},
		mentions:      map[string]string{},
		mediaURLs:     []string{},
		mediaFiles:    []string{},
		mediaTypes:    []string{},
		mediaAltTexts: []string{},
	}

	ents, hasEntities := jsonmap.Obj(tweet, "entities")
	extended, hasExtended := jsonmap.Obj(tweet, "extended_entities")
	if !hasEntities && !hasExtended {
		return out
	}

	var items []jsonmap.Object
	if hasExtended {
		items = jsonmap.Objects(extended, "media")
	} else {
		items = jsonmap.Objects(ents, "media")
	}
	items = append(items, jsonmap.Objects(ents, "urls")...)

	seenMedia := make(map[string]struct{})
	links := make(map[string]struct{})

	for _, entity := range items {
		expanded := jsonmap.Str(entity, "expanded_url")
		if short := jsonmap.Str(entity, "url"); short != "" && expanded != "" {
			out.text = strings.ReplaceAll(out.text, short, expanded)
		}

		if jsonmap.Has(entity, "media_url") {
			mediaURL := jsonmap.Str(entity, "media_url_https")
			if variants := jsonmap.Objects(entity, "video_info", "variants"); len(variants) > 0 {
				mediaURL = bestVariant(variants, "bitrate")
			}

			name := MediaNameFromURL(mediaURL)
			if _, ok := seenMedia[name]; ok {
				continue
			}
			seenMedia[name] = struct{}{}

			base, _, _ := strings.Cut(mediaURL, "?tag=")
			out.mediaTypes = append(out.mediaTypes, jsonmap.Str(entity, "type"))
			out.mediaURLs = append(out.mediaURLs, base)
			out.mediaFiles = append(out.mediaFiles, sourceID+"_"+name)
			out.mediaAltTexts = append(out.mediaAltTexts, jsonmap.Str(entity, "ext_alt_text"))
			continue
		}

		if expanded != "" {
			links[urlnorm.NormalizeURL(expanded)] = struct{}{}
		}
	}

	for _, hashtag := range jsonmap.Objects(ents, "hashtags") {
		out.hashtags = append(out.hashtags, strings.ToLower(jsonmap.Str(hashtag, "text")))
	}
	slices.Sort(out.hashtags)
	out.hashtags = slices.Compact(out.hashtags)

	for _, mention := range jsonmap.Objects(ents, "user_mentions") {
		out.mentions[strings.ToLower(jsonmap.Str(mention, "screen_name"))] = tweetID(mention)
	}

	out.links = sortedKeys(links)
	return out
}

// bestVariant returns the URL of the variant with the highest bitrate, the
// first one on ties.
func bestVariant(variants []jsonmap.Object, key string) string {
	best, bestRate := "", int64(-1)
	for _, v := range variants {
		rate, _ := jsonmap.Int(v, key)
		if rate > bestRate {
			best, bestRate = jsonmap.Str(v, "url"), rate
		}
	}
	return best
}

func domainsOf(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, urlnorm.Hostname(l))
	}
	return out
}

// tweetDates resolves created_at, falling back on the snowflake id.
func tweetDates(tweet jsonmap.Object, id string, o domain.Options) (int64, string, error) {
	if createdAt, ok := jsonmap.StrOK(tweet, "created_at"); ok {
		return dates.Resolve(createdAt, o.Locale, dates.SourceV1)
	}
	return dates.DatesFromSnowflake(id, o.Locale)
}

var metaTranslations = []struct{ from, to string }{
	{"in_reply_to_status_id_str", "to_tweetid"},
	{"in_reply_to_screen_name", "to_username"},
	{"in_reply_to_user_id_str", "to_userid"},
	{"lang", "lang"},
	{"possibly_sensitive", "possibly_sensitive"},
	{"retweet_count", "retweet_count"},
	{"favorite_count", "like_count"},
	{"reply_count", "reply_count"},
}

var userMetaFields = []string{
	"screen_name",
	"name",
	"friends_count",
	"followers_count",
	"location",
	"verified",
	"description",
	"created_at",
}

func grabExtraMeta(source jsonmap.Object, rec domain.Record, o domain.Options) error {
	for _, f := range []string{"lat", "lng", "place_country_code", "place_name", "place_type", "place_coordinates"} {
		rec[f] = nil
	}
	if coords := jsonmap.Slice(source, "coordinates", "coordinates"); len(coords) == 2 {
		rec["lat"] = coords[1]
		rec["lng"] = coords[0]
	}

	for _, meta := range metaTranslations {
		if v, ok := source[meta.from]; ok {
			rec[meta.to] = metaValue(v)
		} else if v, ok := source[strings.TrimSuffix(meta.from, "_str")]; ok {
			rec[meta.to] = idString(v)
		}
	}

	if count, ok := jsonmap.Get(source, "ext_views", "count"); ok {
		rec["impression_count"] = metaValue(count)
	}

	user, hasUser := jsonmap.Obj(source, "user")
	for _, meta := range userMetaFields {
		key := "user_" + strings.Replace(meta, "_count", "", 1)
		if v, ok := source[key]; ok {
			rec[key] = metaValue(v)
		} else if v, ok := user[meta]; ok {
			if s, isStr := v.(string); isStr && s == "" {
				v = nil
			}
			rec[key] = metaValue(v)
		}
	}

	if hasUser {
		rec["user_id"] = tweetID(user)
		rec["user_tweets"] = jsonmap.OptInt(user, "statuses_count")
		rec["user_likes"] = jsonmap.OptInt(user, "favourites_count")
		rec["user_lists"] = jsonmap.OptInt(user, "listed_count")
		rec["user_image"] = jsonmap.OptStr(user, "profile_image_url_https")
	}

	if place, ok := jsonmap.Obj(source, "place"); ok {
		for _, meta := range []struct{ from, to string }{
			{"country_code", "place_country_code"},
			{"full_name", "place_name"},
			{"place_type", "place_type"},
		} {
			if v, ok := place[meta.from]; ok {
				rec[meta.to] = v
			}
		}
		if box := jsonmap.Slice(place, "bounding_box", "coordinates"); len(box) > 0 {
			rec["place_coordinates"] = box[0]
		}
	}

	if urls := jsonmap.Objects(user, "entities", "url", "urls"); len(urls) > 0 && jsonmap.Has(urls[0], "expanded_url") {
		rec["user_url"] = urls[0]["expanded_url"]
	} else if v, ok := user["url"]; ok {
		rec["user_url"] = v
	}

	if createdAt, ok := rec["user_created_at"].(string); ok {
		ts, local, err := dates.Resolve(createdAt, o.Locale, dates.SourceV1)
		if err != nil {
			return err
		}
		rec["user_timestamp_utc"], rec["user_created_at"] = ts, local
	}

	if src := jsonmap.Str(source, "source"); src != "" {
		rec["source_url"], rec["source_name"] = parseSource(src)
	}

	return nil
}

// metaValue keeps strings, bools and nil and converts numbers to int64 when
// whole.
func metaValue(v any) any {
	if n, ok := jsonmap.ToInt(v); ok {
		if _, isStr := v.(string); !isStr {
			return n
		}
	}
	return v
}

func idString(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	}
	if n, ok := jsonmap.ToInt(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return v
}
