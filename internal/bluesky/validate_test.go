package bluesky

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePostPayload(t *testing.T) {
	t.Parallel()

	ok, reason := ValidatePostPayload(postView("hello"))
	assert.True(t, ok)
	assert.Empty(t, reason)

	tests := []struct {
		name   string
		mutate func(map[string]any)
		reason string
	}{
		{"no cid", func(p map[string]any) { delete(p, "cid") }, "missing key cid"},
		{"no quote count", func(p map[string]any) { delete(p, "quoteCount") }, "missing key quoteCount"},
		{"no text", func(p map[string]any) { delete(p["record"].(map[string]any), "text") }, "missing key record.text"},
		{"no handle", func(p map[string]any) { delete(p["author"].(map[string]any), "handle") }, "missing key author.handle"},
		{
			"wrong type",
			func(p map[string]any) { p["record"].(map[string]any)["$type"] = "app.bsky.feed.like" },
			"record.$type is app.bsky.feed.like, not app.bsky.feed.post",
		},
		{"record not an object", func(p map[string]any) { p["record"] = "text" }, "record is not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := postView("hello")
			tt.mutate(payload)

			ok, reason := ValidatePostPayload(payload)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	ok, reason = ValidatePostPayload([]any{})
	assert.False(t, ok)
	assert.Equal(t, "payload is not an object", reason)
}
