package bluesky

import (
	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

// NormalizeProfile normalizes a detailed profile view, as returned by
// app.bsky.actor.getProfile.
func NormalizeProfile(payload map[string]any, opts ...domain.Option) (domain.Record, error) {
	rec, err := normalizeProfile(payload, opts)
	if err != nil {
		return nil, err
	}

	rec["posts"] = jsonmap.OptInt(payload, "postsCount")
	rec["followers"] = jsonmap.OptInt(payload, "followersCount")
	rec["follows"] = jsonmap.OptInt(payload, "followsCount")
	rec["banner"] = jsonmap.OptStr(payload, "banner")
	rec["pinned_post_uri"] = jsonmap.OptStr(payload, "pinnedPost", "uri")
	return rec, nil
}

// NormalizePartialProfile normalizes the basic profile views found in
// follower and follow listings.
func NormalizePartialProfile(payload map[string]any, opts ...domain.Option) (domain.Record, error) {
	return normalizeProfile(payload, opts)
}

func normalizeProfile(payload map[string]any, opts []domain.Option) (domain.Record, error) {
	did := jsonmap.Str(payload, "did")
	handle := jsonmap.Str(payload, "handle")
	if did == "" || handle == "" {
		return nil, &domain.PayloadError{Source: did, Reason: "profile without did or handle"}
	}
	o := domain.NewOptions(opts...)

	rec := domain.Record{
		"did":             did,
		"url":             FormatProfileURL(handle),
		"handle":          handle,
		"display_name":    jsonmap.OptStr(payload, "displayName"),
		"description":     jsonmap.OptStr(payload, "description"),
		"lists":           jsonmap.OptInt(payload, "associated", "lists"),
		"feedgens":        jsonmap.OptInt(payload, "associated", "feedgens"),
		"starter_packs":   jsonmap.OptInt(payload, "associated", "starterPacks"),
		"avatar":          jsonmap.OptStr(payload, "avatar"),
		"created_at":      nil,
		"timestamp_utc":   nil,
		"collection_time": o.CollectionTime(),
	}

	// Accounts from the early beta carry no creation date.
	if createdAt, ok := jsonmap.StrOK(payload, "createdAt"); ok {
		ts, local, err := dates.Resolve(createdAt, o.Locale, dates.SourceBluesky)
		if err != nil {
			return nil, eris.Wrapf(err, "bluesky: profile %s", did)
		}
		rec["timestamp_utc"], rec["created_at"] = ts, local
	}
	return rec, nil
}
