package twitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/socialnorm/internal/domain"
)

func TestNormalizeTweetsPayloadV2(t *testing.T) {
	t.Parallel()

	tweets, err := NormalizeTweetsPayloadV2(loadFixture(t, "v2_retweet.json"))
	require.NoError(t, err)
	require.Len(t, tweets, 2)

	rt := tweets[0]
	assert.Equal(t, "2", rt["id"])
	assert.Equal(t, "RT @bob: hi https://go.dev/ #Go", rt["text"])
	assert.Equal(t, "https://twitter.com/alice/status/2", rt["url"])
	assert.Equal(t, "3", rt["retweeted_id"])
	assert.Equal(t, "bob", rt["retweeted_user"])
	assert.Equal(t, "4", rt["retweeted_user_id"])
	assert.Equal(t, int64(0), rt["like_count"])
	assert.Equal(t, int64(0), rt["retweet_count"])
	assert.Equal(t, int64(1618580945), rt["timestamp_utc"])
	assert.Nil(t, rt["user_description"])
	assert.Equal(t, false, rt["user_verified"])
	assert.Equal(t, true, rt["match_query"])

	original := tweets[1]
	assert.Equal(t, "3", original["id"])
	assert.Equal(t, "hi https://go.dev/ #Go", original["text"])
	assert.Equal(t, []string{"https://go.dev/"}, original["links"])
	assert.Equal(t, []string{"go.dev"}, original["domains"])
	assert.Equal(t, []string{"Go"}, original["hashtags"])
	assert.Equal(t, []string{"alice"}, original["mentioned_names"])
	assert.Equal(t, []string{"1"}, original["mentioned_ids"])
	assert.Equal(t, []string{"https://video.twimg.com/high.mp4?tag=12"}, original["media_urls"])
	assert.Equal(t, []string{"3_high.mp4"}, original["media_files"])
	assert.Equal(t, []string{"video"}, original["media_types"])
	assert.Equal(t, []string{"clip"}, original["media_alt_texts"])
	assert.Equal(t, int64(9), original["like_count"])
	assert.Equal(t, int64(2), original["quote_count"])
	assert.Equal(t, int64(40), original["impression_count"])
	assert.Equal(t, "gopher", original["user_description"])
}

func TestNormalizeTweetsPayloadV2WithReferenced(t *testing.T) {
	t.Parallel()

	tweets, err := NormalizeTweetsPayloadV2WithReferenced(loadFixture(t, "v2_retweet.json"), domain.WithCollectionSource("search"))
	require.NoError(t, err)
	require.Len(t, tweets, 2)

	assert.Equal(t, "3", tweets[0]["id"])
	assert.Equal(t, []string{"retweet", "search"}, tweets[0]["collected_via"])
	assert.Equal(t, true, tweets[0]["match_query"])
	assert.Equal(t, "2", tweets[1]["id"])
	assert.Equal(t, []string{"search"}, tweets[1]["collected_via"])
}

func TestNormalizeTweetsPayloadV2WithReferenced_Conflict(t *testing.T) {
	t.Parallel()

	payload := loadFixture(t, "v2_retweet.json")
	original := payload["data"].([]any)[1].(map[string]any)
	original["public_metrics"].(map[string]any)["like_count"] = float64(99)

	_, err := NormalizeTweetsPayloadV2WithReferenced(payload)
	var inconsistent *domain.InconsistentReferenceError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, "3", inconsistent.Source)
	assert.Equal(t, "like_count", inconsistent.Field)
	assert.Equal(t, int64(9), inconsistent.Left)
	assert.Equal(t, int64(99), inconsistent.Right)

	tweets, err := NormalizeTweetsPayloadV2(payload)
	require.NoError(t, err)
	require.Len(t, tweets, 2)
}

func TestNormalizeTweetsPayloadV2_Quote(t *testing.T) {
	t.Parallel()

	payload := loadFixture(t, "v2_retweet.json")
	payload["data"] = map[string]any{
		"id":                "6",
		"text":              "wow https://t.co/q",
		"author_id":         "1",
		"created_at":        "2021-04-16T14:00:00.000Z",
		"referenced_tweets": []any{map[string]any{"type": "quoted", "id": "3"}},
		"entities": map[string]any{
			"urls": []any{map[string]any{"url": "https://t.co/q", "expanded_url": "https://twitter.com/bob/status/3"}},
		},
		"public_metrics": map[string]any{"like_count": float64(1)},
	}

	tweets, err := NormalizeTweetsPayloadV2WithReferenced(payload)
	require.NoError(t, err)
	require.Len(t, tweets, 2)

	quote := tweets[1]
	assert.Equal(t, "wow « bob: hi https://go.dev/ #Go — https://twitter.com/bob/status/3 »", quote["text"])
	assert.Equal(t, []string{}, quote["links"])
	assert.Equal(t, "3", quote["quoted_id"])
	assert.Equal(t, "bob", quote["quoted_user"])
	assert.Equal(t, int64(1), quote["like_count"])

	assert.Equal(t, []string{"quote"}, tweets[0]["collected_via"])
	assert.Equal(t, false, tweets[0]["match_query"])
}

func TestNormalizeTweetsPayloadV2_IncompleteIncludes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data map[string]any
		kind string
		key  string
	}{
		{
			name: "author",
			data: map[string]any{"id": "5", "text": "x", "author_id": "99", "created_at": "2021-04-16T14:00:00.000Z"},
			kind: "user",
			key:  "99",
		},
		{
			name: "media",
			data: map[string]any{
				"id": "5", "text": "x", "author_id": "1", "created_at": "2021-04-16T14:00:00.000Z",
				"attachments": map[string]any{"media_keys": []any{"zz"}},
			},
			kind: "media",
			key:  "zz",
		},
		{
			name: "quoted tweet",
			data: map[string]any{
				"id": "5", "text": "x", "author_id": "1", "created_at": "2021-04-16T14:00:00.000Z",
				"referenced_tweets": []any{map[string]any{"type": "quoted", "id": "404"}},
			},
			kind: "tweet",
			key:  "404",
		},
		{
			name: "place",
			data: map[string]any{
				"id": "5", "text": "x", "author_id": "1", "created_at": "2021-04-16T14:00:00.000Z",
				"geo": map[string]any{"place_id": "p1"},
			},
			kind: "place",
			key:  "p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := map[string]any{
				"data": tt.data,
				"includes": map[string]any{
					"users": []any{map[string]any{"id": "1", "username": "alice", "created_at": "2020-01-01T00:00:00.000Z"}},
				},
			}

			_, err := NormalizeTweetsPayloadV2(payload)
			var incomplete *domain.IncompleteIncludesError
			require.ErrorAs(t, err, &incomplete)
			assert.Equal(t, tt.kind, incomplete.Kind)
			assert.Equal(t, tt.key, incomplete.Key)
			assert.ErrorIs(t, err, domain.ErrNormalization)
		})
	}
}

func TestNormalizeTweetsPayloadV2_Shapes(t *testing.T) {
	t.Parallel()

	tweets, err := NormalizeTweetsPayloadV2(map[string]any{"meta": map[string]any{"result_count": float64(0)}})
	require.NoError(t, err)
	assert.Empty(t, tweets)

	_, err = NormalizeTweetsPayloadV2([]any{})
	require.ErrorIs(t, err, domain.ErrNormalization)

	_, err = NormalizeTweetsPayloadV2(map[string]any{"data": "nope"})
	require.ErrorIs(t, err, domain.ErrNormalization)
}
