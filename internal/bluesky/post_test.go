package bluesky

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/socialnorm/internal/domain"
)

var fixedClock = domain.WithClock(func() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
})

func loadFixture(t *testing.T, name string) map[string]any {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

// postView builds a minimal hydrated post by did:plc:alice.
func postView(text string, facets ...any) map[string]any {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"createdAt": "2024-03-01T12:00:00Z",
		"text":      text,
	}
	if len(facets) > 0 {
		record["facets"] = facets
	}
	return map[string]any{
		"uri":         "at://did:plc:alice/app.bsky.feed.post/3kabc",
		"cid":         "bafyA",
		"author":      map[string]any{"did": "did:plc:alice", "handle": "alice.test"},
		"record":      record,
		"replyCount":  0.0,
		"repostCount": 0.0,
		"likeCount":   0.0,
		"quoteCount":  0.0,
	}
}

func facetOf(start, end int, feature map[string]any) map[string]any {
	return map[string]any{
		"index":    map[string]any{"byteStart": float64(start), "byteEnd": float64(end)},
		"features": []any{feature},
	}
}

func TestNormalizePost_QuoteAndRepost(t *testing.T) {
	t.Parallel()

	post, err := NormalizePost(loadFixture(t, "quote_post.json"), fixedClock)
	require.NoError(t, err)

	assert.Equal(t, "bafyA", post["cid"])
	assert.Equal(t, "3kabc", post["did"])
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", post["uri"])
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/3kabc", post["url"])
	assert.Equal(t, int64(1709294400), post["timestamp_utc"])
	assert.Equal(t, "2024-03-01T12:00:00.000000", post["local_time"])
	assert.Equal(t, "did:plc:alice", post["user_did"])
	assert.Equal(t, "alice.bsky.social", post["user_handle"])
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social", post["user_url"])
	assert.Equal(t, "Alice", post["user_diplay_name"])
	assert.Equal(t, int64(1680343200), post["user_timestamp_utc"])
	assert.Equal(t, []string{"en"}, post["user_langs"])

	assert.Equal(t, "Hi @bob.test see example.com/a… #Go", post["original_text"])
	assert.Equal(t,
		"Hi @bob.test see https://example.com/article?utm_source=bsky #Go « @bob.test: Leap day — https://bsky.app/profile/bob.test/post/3kxyz »",
		post["text"])
	assert.Equal(t, []string{"https://example.com/article"}, post["links"])
	assert.Equal(t, []string{"example.com"}, post["domains"])
	assert.Equal(t, []string{"go"}, post["hashtags"])
	assert.Equal(t, []string{"did:plc:bob"}, post["mentioned_user_dids"])
	assert.Equal(t, []string{"bob.test"}, post["mentioned_user_handles"])

	assert.Equal(t, int64(2), post["repost_count"])
	assert.Equal(t, int64(3), post["like_count"])
	assert.Equal(t, int64(1), post["reply_count"])
	assert.Equal(t, int64(0), post["quote_count"])

	assert.Equal(t, "bafyB", post["quoted_cid"])
	assert.Equal(t, "3kxyz", post["quoted_did"])
	assert.Equal(t, "did:plc:bob", post["quoted_user_did"])
	assert.Equal(t, "bob.test", post["quoted_user_handle"])
	assert.Equal(t, "https://bsky.app/profile/bob.test/post/3kxyz", post["quoted_url"])
	assert.Equal(t, int64(1709195400), post["quoted_timestamp_utc"])
	assert.Equal(t, "2024-02-29T08:30:00.000000", post["quoted_created_at"])
	assert.Nil(t, post["quoted_status"])

	assert.Equal(t, "did:plc:carol", post["repost_by_user_did"])
	assert.Equal(t, "carol.test", post["repost_by_user_handle"])
	assert.Equal(t, int64(1709337600), post["repost_timestamp_utc"])

	assert.Nil(t, post["to_post_uri"])
	assert.Equal(t, []string{}, post["media_urls"])
	assert.Equal(t, []string{}, post["replies_rules"])
	assert.NotContains(t, post, "collected_via")
	assert.Equal(t, true, post["match_query"])
	assert.Equal(t, "2024-05-01T12:00:00.000000", post["collection_time"])
}

func TestNormalizePostWithReferenced_Quote(t *testing.T) {
	t.Parallel()

	posts, err := NormalizePostWithReferenced(loadFixture(t, "quote_post.json"),
		fixedClock, domain.WithCollectionSource("search"))
	require.NoError(t, err)
	require.Len(t, posts, 2)

	quoted, primary := posts[0], posts[1]
	assert.Equal(t, "3kxyz", quoted["did"])
	assert.Equal(t, "Leap day", quoted["text"])
	assert.Equal(t, int64(1), quoted["repost_count"])
	assert.Equal(t, []string{"quote"}, quoted["collected_via"])
	assert.Equal(t, false, quoted["match_query"])

	assert.Equal(t, "3kabc", primary["did"])
	assert.Equal(t, []string{"search"}, primary["collected_via"])
	assert.Equal(t, true, primary["match_query"])
}

func TestNormalizePost_ThreadReply(t *testing.T) {
	t.Parallel()

	post, err := NormalizePost(loadFixture(t, "thread_reply.json"), fixedClock)
	require.NoError(t, err)

	assert.Equal(t, "nice 🎉 https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:carol/bafkimg1@jpeg", post["text"])
	assert.Equal(t, []string{"https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:carol/bafkimg1@jpeg"}, post["media_urls"])
	assert.Equal(t, []string{"https://cdn.bsky.app/img/feed_thumbnail/plain/did:plc:carol/bafkimg1@jpeg"}, post["media_thumbnails"])
	assert.Equal(t, []string{"image/jpeg"}, post["media_types"])
	assert.Equal(t, []string{"cat"}, post["media_alt_texts"])
	assert.Equal(t, []string{"fr", "en"}, post["user_langs"])
	assert.Nil(t, post["user_timestamp_utc"])

	assert.Equal(t, "bafyB", post["to_post_cid"])
	assert.Equal(t, "3kb", post["to_post_did"])
	assert.Equal(t, "did:plc:bob", post["to_user_did"])
	assert.Equal(t, "https://bsky.app/profile/did:plc:bob/post/3kb", post["to_post_url"])
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3ka", post["to_root_post_uri"])
	assert.Equal(t, "3ka", post["to_root_post_did"])
	assert.Equal(t, "did:plc:alice", post["to_root_user_did"])

	assert.Equal(t, []string{
		"allow_from_mention",
		"allow_from_list:at://did:plc:carol/app.bsky.graph.list/l1",
	}, post["replies_rules"])
	assert.Equal(t, []string{"at://did:plc:dan/app.bsky.feed.post/3kd"}, post["hidden_replies_uris"])
	assert.Equal(t, int64(1709424001), post["replies_rules_timestamp_utc"])
	assert.Equal(t, "2024-03-03T00:00:01.000000", post["replies_rules_created_at"])
}

func TestNormalizePostWithReferenced_Thread(t *testing.T) {
	t.Parallel()

	posts, err := NormalizePostWithReferenced(loadFixture(t, "thread_reply.json"), fixedClock)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, "3ka", posts[0]["did"])
	assert.Equal(t, "root", posts[0]["text"])
	assert.Equal(t, int64(1709251200), posts[0]["timestamp_utc"])
	assert.Equal(t, []string{"thread"}, posts[0]["collected_via"])
	assert.Equal(t, false, posts[0]["match_query"])

	assert.Equal(t, "3kb", posts[1]["did"])
	assert.Equal(t, "3ka", posts[1]["to_post_did"])
	assert.Equal(t, "3ka", posts[1]["to_root_post_did"])

	assert.Equal(t, "3kc", posts[2]["did"])
	assert.Equal(t, true, posts[2]["match_query"])
}

func TestNormalizePostWithReferenced_Conflict(t *testing.T) {
	t.Parallel()

	payload := loadFixture(t, "thread_reply.json")
	reply := payload["reply"].(map[string]any)
	root := reply["root"].(map[string]any)
	conflicting := map[string]any{}
	for k, v := range root {
		conflicting[k] = v
	}
	conflicting["likeCount"] = 42.0
	reply["parent"] = conflicting

	_, err := NormalizePostWithReferenced(payload, fixedClock)
	require.Error(t, err)

	var inconsistent *domain.InconsistentReferenceError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "like_count", inconsistent.Field)
	assert.True(t, errors.Is(err, domain.ErrNormalization))
}

func TestNormalizePost_Idempotent(t *testing.T) {
	t.Parallel()

	payload := loadFixture(t, "quote_post.json")
	first, err := NormalizePostWithReferenced(payload, fixedClock)
	require.NoError(t, err)
	second, err := NormalizePostWithReferenced(payload, fixedClock)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, loadFixture(t, "quote_post.json"), payload)
}

func TestNormalizePost_MaxDepth(t *testing.T) {
	t.Parallel()

	posts, err := NormalizePostWithReferenced(loadFixture(t, "quote_post.json"),
		fixedClock, domain.WithMaxDepth(1))
	require.NoError(t, err)
	require.Len(t, posts, 2)

	posts, err = NormalizePostWithReferenced(loadFixture(t, "thread_reply.json"),
		fixedClock, domain.WithMaxDepth(1))
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestNormalizePost_QuoteStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"detached", "notFound", "blocked"} {
		t.Run(status, func(t *testing.T) {
			t.Parallel()

			payload := loadFixture(t, "quote_post.json")
			view := payload["post"].(map[string]any)["embed"].(map[string]any)
			view["record"] = map[string]any{
				"uri": "at://did:plc:bob/app.bsky.feed.post/3kxyz",
				status: true,
			}

			post, err := NormalizePost(payload, fixedClock)
			require.NoError(t, err)
			assert.Equal(t, status, post["quoted_status"])
			assert.Nil(t, post["quoted_user_handle"])
			assert.Equal(t, "https://bsky.app/profile/did:plc:bob/post/3kxyz", post["quoted_url"])
			assert.Equal(t, "Hi @bob.test see https://example.com/article?utm_source=bsky #Go", post["text"])
		})
	}
}

func TestNormalizePost_QuoteCIDMismatch(t *testing.T) {
	t.Parallel()

	payload := loadFixture(t, "quote_post.json")
	view := payload["post"].(map[string]any)["embed"].(map[string]any)["record"].(map[string]any)
	view["cid"] = "bafyOther"

	_, err := NormalizePost(payload, fixedClock)
	var inconsistent *domain.InconsistentReferenceError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "quoted_cid", inconsistent.Field)
}

func TestNormalizePost_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr any
	}{
		{
			name:    "missing metrics",
			mutate:  func(p map[string]any) { delete(p, "likeCount") },
			wantErr: &domain.PayloadError{},
		},
		{
			name: "author mismatch",
			mutate: func(p map[string]any) {
				p["author"] = map[string]any{"did": "did:plc:mallory", "handle": "alice.test"}
			},
			wantErr: &domain.InconsistentReferenceError{},
		},
		{
			name:    "not a post uri",
			mutate:  func(p map[string]any) { p["uri"] = "at://did:plc:alice/app.bsky.feed.like/3kabc" },
			wantErr: &domain.PayloadError{},
		},
		{
			name: "unknown facet",
			mutate: func(p map[string]any) {
				p["record"].(map[string]any)["facets"] = []any{
					facetOf(0, 2, map[string]any{"$type": "app.bsky.richtext.facet#spoiler"}),
				}
			},
			wantErr: &domain.PayloadError{},
		},
		{
			name: "unknown embed",
			mutate: func(p map[string]any) {
				p["record"].(map[string]any)["embed"] = map[string]any{"$type": "app.bsky.embed.hologram"}
			},
			wantErr: &domain.PayloadError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := postView("hello")
			tt.mutate(payload)

			_, err := NormalizePost(payload, fixedClock)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrNormalization))
			assert.IsType(t, tt.wantErr, err)
		})
	}
}

func TestNormalizePost_DisallowedReplies(t *testing.T) {
	t.Parallel()

	payload := postView("quiet please")
	payload["threadgate"] = map[string]any{
		"record": map[string]any{
			"$type":     "app.bsky.feed.threadgate",
			"allow":     []any{},
			"createdAt": "2024-03-01T12:00:00Z",
		},
	}

	post, err := NormalizePost(payload, fixedClock)
	require.NoError(t, err)
	assert.Equal(t, []string{"disallow"}, post["replies_rules"])
	assert.Equal(t, []string{}, post["hidden_replies_uris"])
}

func TestNormalizePost_ExternalCard(t *testing.T) {
	t.Parallel()

	payload := postView("read this")
	payload["record"].(map[string]any)["embed"] = map[string]any{
		"$type": "app.bsky.embed.external",
		"external": map[string]any{
			"uri":         "https://news.example.org/story",
			"title":       "Story",
			"description": "A story",
		},
	}
	payload["embed"] = map[string]any{
		"$type": "app.bsky.embed.external#view",
		"external": map[string]any{
			"uri":   "https://news.example.org/story",
			"thumb": "https://cdn.bsky.app/img/feed_thumbnail/plain/did:plc:alice/thumb@jpeg",
		},
	}

	post, err := NormalizePost(payload, fixedClock)
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.org/story", post["card_link"])
	assert.Equal(t, "Story", post["card_title"])
	assert.Equal(t, "A story", post["card_description"])
	assert.Equal(t, "https://cdn.bsky.app/img/feed_thumbnail/plain/did:plc:alice/thumb@jpeg", post["card_thumbnail"])
	assert.Equal(t, []string{"https://news.example.org/story"}, post["links"])
	assert.Equal(t, []string{"news.example.org"}, post["domains"])
	assert.Equal(t, "read this https://news.example.org/story", post["text"])
}

func TestNormalizePost_Video(t *testing.T) {
	t.Parallel()

	payload := postView("clip")
	payload["record"].(map[string]any)["embed"] = map[string]any{
		"$type": "app.bsky.embed.video",
		"alt":   "a clip",
		"video": map[string]any{"ref": map[string]any{"$link": "bafkvid"}, "mimeType": "video/mp4"},
	}

	post, err := NormalizePost(payload, fixedClock)
	require.NoError(t, err)
	thumb := "https://video.bsky.app/watch/did%3Aplc%3Aalice/bafkvid/thumbnail.jpg"
	assert.Equal(t, []string{"https://video.bsky.app/watch/did%3Aplc%3Aalice/bafkvid/playlist.m3u8"}, post["media_urls"])
	assert.Equal(t, []string{thumb}, post["media_thumbnails"])
	assert.Equal(t, []string{"video/mp4"}, post["media_types"])
	assert.Equal(t, "clip "+thumb, post["text"])
}

func TestNormalizePost_SkewedFacets(t *testing.T) {
	t.Parallel()

	// "@" is at byte 6, the mention facet claims the handle only.
	payload := postView("hello @bob.test and go.dev",
		facetOf(7, 15, map[string]any{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:bob"}),
		facetOf(21, 27, map[string]any{"$type": "app.bsky.richtext.facet#link", "uri": "https://go.dev"}),
	)

	post, err := NormalizePost(payload, fixedClock)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.test"}, post["mentioned_user_handles"])
	assert.Equal(t, "hello @bob.test and https://go.dev", post["text"])

	for _, claimed := range [][2]int{{3, 3}, {3, 4}, {2, 2}} {
		payload := postView("hi @bob.test ok",
			facetOf(claimed[0], claimed[1], map[string]any{"$type": "app.bsky.richtext.facet#mention", "did": "did:plc:bob"}),
		)

		var post domain.Record
		require.NotPanics(t, func() {
			post, err = NormalizePost(payload, fixedClock)
		}, "%v", claimed)
		require.NoError(t, err)
		assert.Equal(t, []string{}, post["mentioned_user_handles"], "%v", claimed)
		assert.Equal(t, []string{}, post["mentioned_user_dids"], "%v", claimed)
		assert.Equal(t, "hi @bob.test ok", post["text"])
	}
}

func TestNormalizePost_PollLinks(t *testing.T) {
	t.Parallel()

	payload := postView("Vote!",
		facetOf(0, 4, map[string]any{"$type": "app.bsky.richtext.facet#link", "uri": "https://poll.blue/p/abc/0"}),
		facetOf(0, 4, map[string]any{"$type": "app.bsky.richtext.facet#link", "uri": "https://poll.blue/p/abc/1"}),
	)

	post, err := NormalizePost(payload, fixedClock)
	require.NoError(t, err)
	assert.Equal(t, "Vote! https://poll.blue/p/abc/0", post["text"])
	assert.Equal(t, []string{"https://poll.blue/p/abc/0"}, post["links"])
}

func TestNormalizePost_SpliceIntoMultibyteChar(t *testing.T) {
	t.Parallel()

	payload := postView("🎉 hi",
		facetOf(1, 1, map[string]any{"$type": "app.bsky.richtext.facet#link", "uri": "https://x.example"}),
	)

	_, err := NormalizePost(payload, fixedClock)
	var decodeErr *domain.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", decodeErr.Source)
}
