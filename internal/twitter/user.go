package twitter

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

// NormalizeUser normalizes a v1.1 user object, or a v2 one when v2 is set.
func NormalizeUser(payload map[string]any, v2 bool, opts ...domain.Option) (domain.Record, error) {
	if payload == nil {
		return nil, &domain.PayloadError{Reason: "user payload is not an object"}
	}
	o := domain.NewOptions(opts...)
	user := payload
	if o.Pure {
		user = jsonmap.Normalize(payload).(map[string]any)
	}
	return normalizeUser(user, v2, o)
}

func normalizeUser(user jsonmap.Object, v2 bool, o domain.Options) (domain.Record, error) {
	resolveUserEntities(user)

	kind := dates.SourceV1
	if v2 {
		kind = dates.SourceV2
	}
	createdAt, ok := jsonmap.StrOK(user, "created_at")
	if !ok {
		return nil, &domain.PayloadError{Source: jsonmap.Str(user, "id"), Reason: "user has no created_at"}
	}
	ts, local, err := dates.Resolve(createdAt, o.Locale, kind)
	if err != nil {
		return nil, eris.Wrap(err, "twitter: user creation date")
	}

	rec := domain.Record{
		"name":                  jsonmap.OptStr(user, "name"),
		"description":           jsonmap.NonEmptyStr(user, "description"),
		"url":                   jsonmap.OptStr(user, "url"),
		"timestamp_utc":         ts,
		"local_time":            local,
		"location":              jsonmap.OptStr(user, "location"),
		"verified":              jsonmap.OptBool(user, "verified"),
		"protected":             jsonmap.OptBool(user, "protected"),
		"default_profile":       flag(user, "default_profile"),
		"default_profile_image": flag(user, "default_profile_image"),
	}

	if v2 {
		rec["id"] = jsonmap.Str(user, "id")
		rec["screen_name"] = jsonmap.Str(user, "username")
		rec["tweets"] = jsonmap.OptInt(user, "public_metrics", "tweet_count")
		rec["followers"] = jsonmap.OptInt(user, "public_metrics", "followers_count")
		rec["friends"] = jsonmap.OptInt(user, "public_metrics", "following_count")
		rec["likes"] = jsonmap.OptInt(user, "public_metrics", "like_count")
		rec["lists"] = jsonmap.OptInt(user, "public_metrics", "listed_count")
		rec["image"] = jsonmap.OptStr(user, "profile_image_url")
		rec["witheld_in_countries"] = jsonmap.Strings(user, "withheld", "country_codes")
		rec["witheld_scope"] = jsonmap.Str(user, "withheld", "withheld_scope")
		return rec, nil
	}

	rec["id"] = tweetID(user)
	rec["screen_name"] = jsonmap.Str(user, "screen_name")
	rec["tweets"] = jsonmap.OptInt(user, "statuses_count")
	rec["followers"] = jsonmap.OptInt(user, "followers_count")
	rec["friends"] = jsonmap.OptInt(user, "friends_count")
	rec["likes"] = jsonmap.OptInt(user, "favourites_count")
	rec["lists"] = jsonmap.OptInt(user, "listed_count")
	rec["image"] = jsonmap.OptStr(user, "profile_image_url_https")

	// The API spells these withheld, older archives witheld.
	countries := jsonmap.Strings(user, "withheld_in_countries")
	if len(countries) == 0 {
		countries = jsonmap.Strings(user, "witheld_in_countries")
	}
	rec["witheld_in_countries"] = countries
	scope := jsonmap.OptStr(user, "withheld_scope")
	if scope == nil {
		scope = jsonmap.OptStr(user, "witheld_scope")
	}
	rec["witheld_scope"] = scope
	return rec, nil
}

// resolveUserEntities expands the t.co links of the user's url and
// description fields.
func resolveUserEntities(user jsonmap.Object) {
	ents, ok := jsonmap.Obj(user, "entities")
	if !ok {
		return
	}
	for field := range ents {
		current, ok := user[field].(string)
		if !ok {
			continue
		}
		for _, u := range jsonmap.Objects(ents, field, "urls") {
			short, expanded := jsonmap.Str(u, "url"), jsonmap.Str(u, "expanded_url")
			if short == "" || expanded == "" {
				continue
			}
			current = strings.ReplaceAll(current, short, expanded)
		}
		user[field] = current
	}
}

func flag(m jsonmap.Object, key string) bool {
	b, _ := jsonmap.Bool(m, key)
	return b
}
