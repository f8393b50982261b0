package twitter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackmichael/socialnorm/internal/domain"
)

func TestAnonymizeTweet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tweet domain.Record
		text  string
	}{
		{
			name:  "quote",
			tweet: domain.Record{"text": "test « bidule: voilà voilà »", "quoted_id": "12", "retweeted_id": nil},
			text:  "test « voilà voilà »",
		},
		{
			name:  "retweet",
			tweet: domain.Record{"text": "RT @bidule: voilà voilà", "retweeted_id": "12"},
			text:  "RT: voilà voilà",
		},
		{
			name:  "flattened",
			tweet: domain.Record{"text": "RT @bidule: a: b", "retweeted_id": "12", "quoted_id": ""},
			text:  "RT: a: b",
		},
		{
			name:  "plain",
			tweet: domain.Record{"text": "hello « x: y »", "retweeted_id": "", "quoted_id": ""},
			text:  "hello « x: y »",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			AnonymizeTweet(tt.tweet)
			assert.Equal(t, tt.text, tt.tweet["text"])
		})
	}
}

func TestAnonymizeTweet_DeletesFields(t *testing.T) {
	t.Parallel()

	tweet, err := NormalizeTweet(loadFixture(t, "quote.json"))
	if !assert.NoError(t, err) {
		return
	}

	AnonymizeTweet(tweet)

	for _, field := range anonymizedFields {
		assert.NotContains(t, tweet, field)
	}
	assert.Equal(t, "300000000000000001", tweet["id"])
	assert.Equal(t, "look at this « hello world — https://twitter.com/bob/status/200 » #News & more", tweet["text"])
}
