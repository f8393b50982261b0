package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRate(1000, 10))
}

func TestClient_GetPostsBatches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/xrpc/app.bsky.feed.getPosts", r.URL.Path)

		uris := r.URL.Query()["uris"]
		assert.LessOrEqual(t, len(uris), 25)
		posts := make([]map[string]any, len(uris))
		for i, uri := range uris {
			posts[i] = map[string]any{"uri": uri, "likeCount": 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"posts": posts})
	})

	uris := make([]string, 30)
	for i := range uris {
		uris[i] = fmt.Sprintf("at://did:plc:alice/app.bsky.feed.post/%d", i)
	}

	posts, err := c.GetPosts(context.Background(), uris)
	require.NoError(t, err)
	require.Len(t, posts, 30)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uris[29], posts[29]["uri"])
	assert.Equal(t, json.Number("1"), posts[0]["likeCount"])
}

func TestClient_GetAuthorFeed(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/app.bsky.feed.getAuthorFeed", r.URL.Path)
		assert.Equal(t, "alice.test", r.URL.Query().Get("actor"))
		assert.Equal(t, "c1", r.URL.Query().Get("cursor"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"feed":[{"post":{"uri":"at://x/app.bsky.feed.post/1"}}],"cursor":"c2"}`))
	})

	page, err := c.GetAuthorFeed(context.Background(), "alice.test", "c1", 50)
	require.NoError(t, err)
	assert.Equal(t, "c2", page.Cursor)
	require.Len(t, page.Items, 1)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"InvalidRequest","message":"Profile not found"}`))
	})

	_, err := c.GetProfile(context.Background(), "nobody.test")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "InvalidRequest", apiErr.Name)
	assert.Equal(t, "app.bsky.actor.getProfile", apiErr.Method)
}

func TestClient_LoginAuthorizesRequests(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.createSession":
			_, _ = w.Write([]byte(`{"accessJwt":"jwt","did":"did:plc:alice","handle":"alice.test"}`))
		case "/xrpc/app.bsky.graph.getFollowers":
			assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"followers":[{"did":"did:plc:bob","handle":"bob.test"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	require.NoError(t, c.Login(context.Background(), "alice.test", "app-password"))
	assert.Equal(t, "did:plc:alice", c.DID())

	page, err := c.GetFollowers(context.Background(), "alice.test", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Cursor)
	require.Len(t, page.Items, 1)

	profile, err := NormalizePartialProfile(page.Items[0])
	require.NoError(t, err)
	assert.Equal(t, "bob.test", profile["handle"])
}

func TestClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetPostThread(ctx, "at://did:plc:alice/app.bsky.feed.post/3kabc", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
