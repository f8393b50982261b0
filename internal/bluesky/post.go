// Package bluesky normalizes Bluesky posts and profiles, as served by the
// AppView or streamed by Jetstream, into flat records.
package bluesky

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/dates"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
	"github.com/blackmichael/socialnorm/internal/urlnorm"
)

// NormalizePost normalizes a post view, or a feed item wrapping one, into a
// single record.
func NormalizePost(payload map[string]any, opts ...domain.Option) (domain.Record, error) {
	records, err := normalizePostEntry(payload, false, opts)
	if err != nil {
		return nil, err
	}
	return records[len(records)-1], nil
}

// NormalizePostWithReferenced normalizes a post and returns every post found
// in it: quoted posts and, for feed items, the thread parent and root.
// Referenced posts come first, sorted by PostKey, the requested post last.
func NormalizePostWithReferenced(payload map[string]any, opts ...domain.Option) ([]domain.Record, error) {
	records, err := normalizePostEntry(payload, true, opts)
	if err != nil {
		return nil, err
	}

	primary := records[len(records)-1]
	c := domain.NewCollector(domain.MergeStrict, PostKey, strings.Compare)
	if err := c.Add(records[:len(records)-1]...); err != nil {
		return nil, eris.Wrapf(err, "bluesky: merge posts referenced by %s", primary.String("uri"))
	}
	return c.Finish(primary), nil
}

// PostKey identifies a normalized post across the views it appears in.
func PostKey(r domain.Record) string {
	return r.String("did") + "_" + r.String("user_handle")
}

func normalizePostEntry(payload map[string]any, referenced bool, opts []domain.Option) ([]domain.Record, error) {
	if payload == nil {
		return nil, &domain.PayloadError{Reason: "post payload is not an object"}
	}
	o := domain.NewOptions(opts...)
	if o.Pure {
		payload = jsonmap.Normalize(payload).(map[string]any)
	}

	data, wrapper := payload, jsonmap.Object(nil)
	if post, ok := jsonmap.Obj(payload, "post"); ok {
		data, wrapper = post, payload
	}
	return normalizePost(data, wrapper, o, 0, referenced)
}

// postBuilder accumulates the record of one post.
type postBuilder struct {
	o          domain.Options
	depth      int
	uri        string
	userDID    string
	rec        domain.Record
	text       string
	links      map[string]struct{}
	mediaIDs   map[string]struct{}
	referenced []domain.Record
}

func newPostBuilder(o domain.Options, depth int, uri, userDID string) *postBuilder {
	b := &postBuilder{
		o:        o,
		depth:    depth,
		uri:      uri,
		userDID:  userDID,
		links:    make(map[string]struct{}),
		mediaIDs: make(map[string]struct{}),
		rec:      domain.Record{"collection_time": o.CollectionTime()},
	}
	for _, f := range optionalPostFields {
		b.rec[f] = nil
	}
	for _, f := range listPostFields {
		b.rec[f] = []string{}
	}
	return b
}

var optionalPostFields = []string{
	"bridgy_original_url",
	"to_post_cid", "to_post_did", "to_post_uri", "to_post_url", "to_user_did",
	"to_root_post_cid", "to_root_post_did", "to_root_post_uri", "to_root_post_url", "to_root_user_did",
	"repost_by_user_did", "repost_by_user_handle", "repost_created_at", "repost_timestamp_utc",
	"quoted_cid", "quoted_did", "quoted_uri", "quoted_url", "quoted_user_did", "quoted_user_handle",
	"quoted_created_at", "quoted_timestamp_utc", "quoted_status",
	"card_link", "card_title", "card_description", "card_thumbnail",
	"replies_rules_created_at", "replies_rules_timestamp_utc",
}

var listPostFields = []string{
	"media_urls", "media_thumbnails", "media_types", "media_alt_texts",
	"replies_rules", "hidden_replies_uris",
}

func (b *postBuilder) appendList(field, v string) {
	l, _ := b.rec[field].([]string)
	b.rec[field] = append(l, v)
}

func (b *postBuilder) appendText(s string) {
	if s == "" {
		return
	}
	b.text += " " + s
}

// addExtraLink records a link missing from the facets and shows it in the
// text.
func (b *postBuilder) addExtraLink(link string) {
	normalized := urlnorm.NormalizeURL(link)
	if _, ok := b.links[normalized]; ok {
		return
	}
	b.links[normalized] = struct{}{}
	b.appendText(link)
}

func (b *postBuilder) resolveDate(raw string) (int64, string, error) {
	ts, local, err := dates.Resolve(raw, b.o.Locale, dates.SourceBluesky)
	if err != nil {
		return 0, "", eris.Wrapf(err, "bluesky: post %s", b.uri)
	}
	return ts, local, nil
}

// normalizePost returns the posts referenced by data followed by data's own
// record. thread enables recursion into the reply parent and root of a feed
// item.
func normalizePost(data, wrapper jsonmap.Object, o domain.Options, depth int, thread bool) ([]domain.Record, error) {
	if ok, reason := ValidatePostPayload(data); !ok {
		return nil, &domain.PayloadError{Source: postSource(data), Reason: reason}
	}

	uri := jsonmap.Str(data, "uri")
	userDID, postDID, err := ParsePostURI(uri)
	if err != nil {
		return nil, err
	}
	author, _ := jsonmap.Obj(data, "author")
	if authorDID := jsonmap.Str(author, "did"); authorDID != userDID {
		return nil, &domain.InconsistentReferenceError{Source: uri, Field: "author.did", Left: userDID, Right: authorDID}
	}
	record, _ := jsonmap.Obj(data, "record")
	handle := jsonmap.Str(author, "handle")

	b := newPostBuilder(o, depth, uri, userDID)
	rec := b.rec
	rec["cid"] = jsonmap.Str(data, "cid")
	rec["did"] = postDID
	rec["uri"] = uri
	rec["url"] = FormatPostURL(handle, postDID)
	rec["user_did"] = userDID
	rec["user_handle"] = handle
	rec["user_url"] = FormatProfileURL(handle)
	rec["user_diplay_name"] = jsonmap.OptStr(author, "displayName")
	rec["user_avatar"] = jsonmap.OptStr(author, "avatar")
	rec["repost_count"] = jsonmap.OptInt(data, "repostCount")
	rec["reply_count"] = jsonmap.OptInt(data, "replyCount")
	rec["like_count"] = jsonmap.OptInt(data, "likeCount")
	rec["quote_count"] = jsonmap.OptInt(data, "quoteCount")

	rec["timestamp_utc"], rec["local_time"], err = b.resolveDate(jsonmap.Str(record, "createdAt"))
	if err != nil {
		return nil, err
	}

	rec["user_timestamp_utc"], rec["user_created_at"] = nil, nil
	if createdAt, ok := jsonmap.StrOK(author, "createdAt"); ok {
		rec["user_timestamp_utc"], rec["user_created_at"], err = b.resolveDate(createdAt)
		if err != nil {
			return nil, err
		}
	}

	if err := b.fill(record, data, wrapper); err != nil {
		return nil, err
	}

	if thread && wrapper != nil && depth+1 <= o.MaxDepth {
		for _, key := range []string{"parent", "root"} {
			view, ok := jsonmap.Obj(wrapper, "reply", key)
			if !ok {
				continue
			}
			if valid, reason := ValidatePostPayload(view); !valid {
				o.Logger.Debug("bluesky: skipping thread post",
					zap.String("uri", uri), zap.String("position", key), zap.String("reason", reason))
				continue
			}
			nested, err := normalizePost(view, nil, o.Nested(domain.SourceThread), depth+1, false)
			if err != nil {
				return nil, eris.Wrapf(err, "bluesky: thread %s of %s", key, uri)
			}
			b.referenced = append(b.referenced, nested...)
		}
	}

	return append(b.referenced, rec), nil
}

// fill processes the record content shared by full and partial posts. view
// is the hydrated payload holding the embed views and threadgate.
func (b *postBuilder) fill(record, view, wrapper jsonmap.Object) error {
	original := jsonmap.Str(record, "text")
	b.rec["original_text"] = original
	b.rec["bridgy_original_url"] = jsonmap.OptStr(record, "bridgyOriginalUrl")
	b.rec["user_langs"] = jsonmap.Strings(record, "langs")

	raw := []byte(original)
	facets, err := extractFacets(record, raw, b.uri, b.o)
	if err != nil {
		return err
	}
	b.rec["hashtags"] = facets.hashtags
	b.rec["mentioned_user_dids"] = facets.mentionDIDs
	b.rec["mentioned_user_handles"] = facets.mentionHandles
	b.links = facets.links

	b.text, err = applySplices(raw, facets.splices, b.uri, b.o)
	if err != nil {
		return err
	}
	for _, link := range facets.appended {
		b.appendText(link)
	}

	if err := b.processReply(record); err != nil {
		return err
	}
	if err := b.processReason(wrapper); err != nil {
		return err
	}
	if err := b.processThreadgate(view); err != nil {
		return err
	}
	if err := b.processEmbed(record, view); err != nil {
		return err
	}

	links := make([]string, 0, len(b.links))
	for l := range b.links {
		links = append(links, l)
	}
	slices.Sort(links)
	domains := make([]string, 0, len(links))
	for _, l := range links {
		domains = append(domains, urlnorm.Hostname(l))
	}
	b.rec["links"] = links
	b.rec["domains"] = domains
	b.rec["text"] = b.text

	source := b.o.CollectionSource
	if source == "" {
		source = jsonmap.Str(view, "collection_source")
	}
	b.rec.SetCollectionSource(source)
	return nil
}

type replyRef struct {
	Parent *strongRef `json:"parent"`
	Root   *strongRef `json:"root"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

func (b *postBuilder) processReply(record jsonmap.Object) error {
	raw, ok := record["reply"]
	if !ok || raw == nil {
		return nil
	}
	var reply replyRef
	if err := jsonmap.Decode(raw, &reply); err != nil {
		return &domain.PayloadError{Source: b.uri, Reason: "malformed reply: " + err.Error()}
	}

	for prefix, ref := range map[string]*strongRef{"to_": reply.Parent, "to_root_": reply.Root} {
		if ref == nil {
			continue
		}
		userDID, postDID, err := ParsePostURI(ref.URI)
		if err != nil {
			return err
		}
		b.rec[prefix+"post_cid"] = ref.CID
		b.rec[prefix+"post_did"] = postDID
		b.rec[prefix+"post_uri"] = ref.URI
		b.rec[prefix+"post_url"] = FormatPostURL(userDID, postDID)
		b.rec[prefix+"user_did"] = userDID
	}
	return nil
}

// processReason reads the repost provenance of a feed item.
func (b *postBuilder) processReason(wrapper jsonmap.Object) error {
	reason, ok := jsonmap.Obj(wrapper, "reason")
	if !ok {
		return nil
	}

	kind := jsonmap.Str(reason, "$type")
	switch {
	case strings.HasSuffix(kind, "reasonRepost"):
		b.rec["repost_by_user_did"] = jsonmap.OptStr(reason, "by", "did")
		b.rec["repost_by_user_handle"] = jsonmap.OptStr(reason, "by", "handle")
		if indexedAt, ok := jsonmap.StrOK(reason, "indexedAt"); ok {
			ts, local, err := b.resolveDate(indexedAt)
			if err != nil {
				return err
			}
			b.rec["repost_timestamp_utc"], b.rec["repost_created_at"] = ts, local
		}
	case strings.HasSuffix(kind, "reasonPin"):
	default:
		b.o.Logger.Debug("bluesky: ignoring feed reason", zap.String("uri", b.uri), zap.String("type", kind))
	}
	return nil
}

type threadgateRule struct {
	Type string `json:"$type"`
	List string `json:"list"`
}

type threadgateRecord struct {
	Allow         []threadgateRule `json:"allow"`
	HiddenReplies []string         `json:"hiddenReplies"`
	CreatedAt     string           `json:"createdAt"`
}

// processThreadgate reads the reply rules set by the author.
func (b *postBuilder) processThreadgate(view jsonmap.Object) error {
	raw, ok := jsonmap.Obj(view, "threadgate", "record")
	if !ok {
		return nil
	}
	var gate threadgateRecord
	if err := jsonmap.Decode(raw, &gate); err != nil {
		return &domain.PayloadError{Source: b.uri, Reason: "malformed threadgate: " + err.Error()}
	}

	rules := []string{}
	if jsonmap.Has(raw, "allow") && len(gate.Allow) == 0 {
		rules = append(rules, "disallow")
	}
	for _, rule := range gate.Allow {
		_, name, _ := strings.Cut(rule.Type, "#")
		allow := "allow_from_" + strings.TrimSuffix(name, "Rule")
		if rule.List != "" {
			allow += ":" + rule.List
		}
		rules = append(rules, allow)
	}
	b.rec["replies_rules"] = rules
	if gate.HiddenReplies != nil {
		b.rec["hidden_replies_uris"] = gate.HiddenReplies
	}

	if gate.CreatedAt != "" {
		ts, local, err := b.resolveDate(gate.CreatedAt)
		if err != nil {
			return err
		}
		b.rec["replies_rules_timestamp_utc"], b.rec["replies_rules_created_at"] = ts, local
	}
	return nil
}

// postSource names a payload in errors.
func postSource(data any) string {
	m, _ := jsonmap.AsObject(data)
	if uri := jsonmap.Str(m, "uri"); uri != "" {
		return uri
	}
	return jsonmap.Str(m, "cid")
}
