package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profileView() map[string]any {
	return map[string]any{
		"did":            "did:plc:alice",
		"handle":         "alice.test",
		"displayName":    "Alice",
		"description":    "hello",
		"avatar":         "https://cdn.bsky.app/img/avatar/plain/did:plc:alice/av@jpeg",
		"banner":         "https://cdn.bsky.app/img/banner/plain/did:plc:alice/bn@jpeg",
		"followersCount": 10.0,
		"followsCount":   20.0,
		"postsCount":     30.0,
		"associated": map[string]any{
			"lists":        1.0,
			"feedgens":     2.0,
			"starterPacks": 3.0,
		},
		"pinnedPost": map[string]any{"uri": "at://did:plc:alice/app.bsky.feed.post/3kabc", "cid": "bafyA"},
		"createdAt":  "2023-04-01T10:00:00.000Z",
	}
}

func TestNormalizeProfile(t *testing.T) {
	t.Parallel()

	profile, err := NormalizeProfile(profileView(), fixedClock)
	require.NoError(t, err)

	assert.Equal(t, "did:plc:alice", profile["did"])
	assert.Equal(t, "https://bsky.app/profile/alice.test", profile["url"])
	assert.Equal(t, "alice.test", profile["handle"])
	assert.Equal(t, "Alice", profile["display_name"])
	assert.Equal(t, int64(30), profile["posts"])
	assert.Equal(t, int64(10), profile["followers"])
	assert.Equal(t, int64(20), profile["follows"])
	assert.Equal(t, int64(1), profile["lists"])
	assert.Equal(t, int64(2), profile["feedgens"])
	assert.Equal(t, int64(3), profile["starter_packs"])
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", profile["pinned_post_uri"])
	assert.Equal(t, int64(1680343200), profile["timestamp_utc"])
	assert.Equal(t, "2023-04-01T10:00:00.000000", profile["created_at"])
	assert.Equal(t, "2024-05-01T12:00:00.000000", profile["collection_time"])

	row, err := FormatProfileAsCSVRow(profile)
	require.NoError(t, err)
	assert.Len(t, row, len(ProfileFields.Fields))
	assert.Equal(t, "30", row[5])
}

func TestNormalizePartialProfile(t *testing.T) {
	t.Parallel()

	view := profileView()
	delete(view, "createdAt")

	profile, err := NormalizePartialProfile(view, fixedClock)
	require.NoError(t, err)
	assert.Nil(t, profile["created_at"])
	assert.Nil(t, profile["timestamp_utc"])
	assert.NotContains(t, profile, "followers")
	assert.NotContains(t, profile, "banner")

	row, err := FormatPartialProfileAsCSVRow(profile)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"did:plc:alice",
		"https://bsky.app/profile/alice.test",
		"alice.test",
		"Alice",
		"hello",
		"1",
		"2",
		"3",
		"https://cdn.bsky.app/img/avatar/plain/did:plc:alice/av@jpeg",
		"",
		"",
		"2024-05-01T12:00:00.000000",
	}, row)

	_, err = NormalizePartialProfile(map[string]any{"did": "did:plc:alice"})
	assert.Error(t, err)
}
