package bluesky

import (
	"github.com/rotisserie/eris"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

// NormalizePartialPost normalizes a bare post record, either a Jetstream
// commit event ({did, commit: {rkey, cid, record}}) or a {uri, cid, record}
// payload optionally carrying an author block. Metrics and author metadata
// are unknown and left nil. Embedded views are absent, so quotes keep bare
// identifiers and nothing is referenced.
func NormalizePartialPost(payload map[string]any, opts ...domain.Option) (domain.Record, error) {
	if payload == nil {
		return nil, &domain.PayloadError{Reason: "partial post payload is not an object"}
	}
	o := domain.NewOptions(opts...)
	if o.Pure {
		payload = jsonmap.Normalize(payload).(map[string]any)
	}

	var (
		uri, cid, handle string
		record           jsonmap.Object
	)
	if commit, ok := jsonmap.Obj(payload, "commit"); ok {
		did := jsonmap.Str(payload, "did")
		rkey := jsonmap.Str(commit, "rkey")
		if did == "" || rkey == "" {
			return nil, &domain.PayloadError{Source: did, Reason: "commit without did or rkey"}
		}
		if c := jsonmap.Str(commit, "collection"); c != "" && c != CollectionPost {
			return nil, &domain.PayloadError{Source: did, Reason: "commit collection is " + c + ", not " + CollectionPost}
		}
		uri = FormatPostURI(did, rkey)
		cid = jsonmap.Str(commit, "cid")
		record, _ = jsonmap.Obj(commit, "record")
	} else {
		uri = jsonmap.Str(payload, "uri")
		cid = jsonmap.Str(payload, "cid")
		record, _ = jsonmap.Obj(payload, "record")
		handle = jsonmap.Str(payload, "author", "handle")
	}

	if record == nil {
		return nil, &domain.PayloadError{Source: uri, Reason: "missing key record"}
	}
	if t, ok := jsonmap.StrOK(record, "$type"); ok && t != CollectionPost {
		return nil, &domain.PayloadError{Source: uri, Reason: "record.$type is " + t + ", not " + CollectionPost}
	}

	userDID, postDID, err := ParsePostURI(uri)
	if err != nil {
		return nil, err
	}
	if authorDID, ok := jsonmap.StrOK(payload, "author", "did"); ok && authorDID != userDID {
		return nil, &domain.InconsistentReferenceError{Source: uri, Field: "author.did", Left: userDID, Right: authorDID}
	}

	user := handle
	if user == "" {
		user = userDID
	}

	b := newPostBuilder(o, 0, uri, userDID)
	rec := b.rec
	rec["cid"] = cid
	rec["did"] = postDID
	rec["uri"] = uri
	rec["url"] = FormatPostURL(user, postDID)
	rec["user_did"] = userDID
	rec["user_handle"] = jsonmap.NonEmptyStr(payload, "author", "handle")
	rec["user_url"] = FormatProfileURL(user)
	rec["user_diplay_name"] = jsonmap.OptStr(payload, "author", "displayName")
	rec["user_avatar"] = jsonmap.OptStr(payload, "author", "avatar")
	rec["user_timestamp_utc"], rec["user_created_at"] = nil, nil
	for _, metric := range []string{"repost_count", "reply_count", "like_count", "quote_count"} {
		rec[metric] = nil
	}

	if createdAt, ok := jsonmap.StrOK(record, "createdAt"); ok {
		rec["timestamp_utc"], rec["local_time"], err = b.resolveDate(createdAt)
	} else {
		rec["timestamp_utc"], rec["local_time"], err = dates.DatesFromTID(postDID, o.Locale)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "bluesky: date of partial post %s", uri)
	}

	if err := b.fill(record, payload, nil); err != nil {
		return nil, err
	}
	return rec, nil
}
