package main

import (
	"github.com/blackmichael/socialnorm/internal/bluesky"
	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/format"
	"github.com/blackmichael/socialnorm/internal/twitter"
)

// normalizeFunc turns one decoded payload into records. With referenced set
// the records found inside the payload come first.
type normalizeFunc func(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error)

// entityKind binds a payload shape to its normalizer and export columns.
type entityKind struct {
	name   string
	short  string
	fields format.FieldSet
	key    func(domain.Record) string
	run    normalizeFunc

	// tweets accept --anonymize.
	tweets bool
}

var (
	tweetKind = entityKind{
		name:   "tweets",
		short:  "Normalize Twitter API v1.1 tweets",
		fields: twitter.TweetFields,
		key:    idKey,
		run: func(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error) {
			tweet, err := asObject(payload)
			if err != nil {
				return nil, err
			}
			if referenced {
				return twitter.NormalizeTweetWithReferenced(tweet, opts...)
			}
			return single(twitter.NormalizeTweet(tweet, opts...))
		},
		tweets: true,
	}

	tweetV2Kind = entityKind{
		name:   "tweets-v2",
		short:  "Normalize Twitter API v2 responses",
		fields: twitter.TweetFields,
		key:    idKey,
		run: func(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error) {
			if referenced {
				return twitter.NormalizeTweetsPayloadV2WithReferenced(payload, opts...)
			}
			return twitter.NormalizeTweetsPayloadV2(payload, opts...)
		},
		tweets: true,
	}

	userKind = entityKind{
		name:   "users",
		short:  "Normalize Twitter API v1.1 users",
		fields: twitter.UserFields,
		key:    idKey,
		run:    userNormalizer(false),
	}

	userV2Kind = entityKind{
		name:   "users-v2",
		short:  "Normalize Twitter API v2 users",
		fields: twitter.UserFields,
		key:    idKey,
		run:    userNormalizer(true),
	}

	postKind = entityKind{
		name:   "posts",
		short:  "Normalize Bluesky post views and feed items",
		fields: bluesky.PostFields,
		key:    bluesky.PostKey,
		run: func(payload any, referenced bool, opts []domain.Option) ([]domain.Record, error) {
			post, err := asObject(payload)
			if err != nil {
				return nil, err
			}
			if referenced {
				return bluesky.NormalizePostWithReferenced(post, opts...)
			}
			return single(bluesky.NormalizePost(post, opts...))
		},
	}

	partialPostKind = entityKind{
		name:   "partial-posts",
		short:  "Normalize bare Bluesky post records and Jetstream commits",
		fields: bluesky.PostFields,
		key:    bluesky.PostKey,
		run: func(payload any, _ bool, opts []domain.Option) ([]domain.Record, error) {
			post, err := asObject(payload)
			if err != nil {
				return nil, err
			}
			return single(bluesky.NormalizePartialPost(post, opts...))
		},
	}

	profileKind = entityKind{
		name:   "profiles",
		short:  "Normalize detailed Bluesky profile views",
		fields: bluesky.ProfileFields,
		key:    didKey,
		run: func(payload any, _ bool, opts []domain.Option) ([]domain.Record, error) {
			profile, err := asObject(payload)
			if err != nil {
				return nil, err
			}
			return single(bluesky.NormalizeProfile(profile, opts...))
		},
	}

	partialProfileKind = entityKind{
		name:   "partial-profiles",
		short:  "Normalize basic Bluesky profile views",
		fields: bluesky.PartialProfileFields,
		key:    didKey,
		run: func(payload any, _ bool, opts []domain.Option) ([]domain.Record, error) {
			profile, err := asObject(payload)
			if err != nil {
				return nil, err
			}
			return single(bluesky.NormalizePartialProfile(profile, opts...))
		},
	}
)

var entityKinds = []entityKind{
	tweetKind,
	tweetV2Kind,
	userKind,
	userV2Kind,
	postKind,
	partialPostKind,
	profileKind,
	partialProfileKind,
}

func kindByName(name string) (entityKind, bool) {
	for _, k := range entityKinds {
		if k.name == name {
			return k, true
		}
	}
	return entityKind{}, false
}

func userNormalizer(v2 bool) normalizeFunc {
	return func(payload any, _ bool, opts []domain.Option) ([]domain.Record, error) {
		user, err := asObject(payload)
		if err != nil {
			return nil, err
		}
		return single(twitter.NormalizeUser(user, v2, opts...))
	}
}

func asObject(payload any) (map[string]any, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, &domain.PayloadError{Reason: "payload is not a JSON object"}
	}
	return obj, nil
}

func single(rec domain.Record, err error) ([]domain.Record, error) {
	if err != nil {
		return nil, err
	}
	return []domain.Record{rec}, nil
}

func idKey(r domain.Record) string  { return r.String("id") }
func didKey(r domain.Record) string { return r.String("did") }
