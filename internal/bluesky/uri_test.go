package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePostURI(t *testing.T) {
	t.Parallel()

	user, post, err := ParsePostURI("at://did:plc:alice/app.bsky.feed.post/3kabc")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", user)
	assert.Equal(t, "3kabc", post)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", FormatPostURI(user, post))

	for _, bad := range []string{
		"",
		"https://bsky.app/profile/alice/post/3kabc",
		"at://did:plc:alice/app.bsky.feed.post",
		"at://did:plc:alice/app.bsky.graph.list/3kabc",
	} {
		_, _, err := ParsePostURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestPostURIFromURL(t *testing.T) {
	t.Parallel()

	uri, err := PostURIFromURL("https://bsky.app/profile/alice.test/post/3kabc")
	require.NoError(t, err)
	assert.Equal(t, "at://alice.test/app.bsky.feed.post/3kabc", uri)

	uri, err = PostURIFromURL("at://did:plc:alice/app.bsky.feed.post/3kabc")
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", uri)

	for _, bad := range []string{
		"https://example.com/profile/alice.test/post/3kabc",
		"https://bsky.app/profile/alice.test",
		"https://bsky.app/profile/alice.test/lists/3kabc",
		"at://did:plc:alice/app.bsky.graph.list/3kabc",
	} {
		_, err := PostURIFromURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatMediaURLs(t *testing.T) {
	t.Parallel()

	full, thumb := FormatImageURLs("did:plc:alice", "bafkimg", "image/png")
	assert.Equal(t, "https://cdn.bsky.app/img/feed_fullsize/plain/did:plc:alice/bafkimg@png", full)
	assert.Equal(t, "https://cdn.bsky.app/img/feed_thumbnail/plain/did:plc:alice/bafkimg@png", thumb)

	playlist, thumb := FormatVideoURLs("did:plc:alice", "bafkvid")
	assert.Equal(t, "https://video.bsky.app/watch/did%3Aplc%3Aalice/bafkvid/playlist.m3u8", playlist)
	assert.Equal(t, "https://video.bsky.app/watch/did%3Aplc%3Aalice/bafkvid/thumbnail.jpg", thumb)
}
