package bluesky

import (
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

var (
	requiredPostKeys   = []string{"cid", "uri", "author", "record", "replyCount", "repostCount", "likeCount", "quoteCount"}
	requiredRecordKeys = []string{"$type", "createdAt", "text"}
	requiredAuthorKeys = []string{"did", "handle"}
)

// ValidatePostPayload reports whether payload is a hydrated post view, and
// the first problem found otherwise. It never fails.
func ValidatePostPayload(payload any) (bool, string) {
	post, ok := jsonmap.AsObject(payload)
	if !ok {
		return false, "payload is not an object"
	}

	for _, key := range requiredPostKeys {
		if !jsonmap.Has(post, key) {
			return false, "missing key " + key
		}
	}

	record, ok := jsonmap.Obj(post, "record")
	if !ok {
		return false, "record is not an object"
	}
	for _, key := range requiredRecordKeys {
		if !jsonmap.Has(record, key) {
			return false, "missing key record." + key
		}
	}
	if t := jsonmap.Str(record, "$type"); t != CollectionPost {
		return false, "record.$type is " + t + ", not " + CollectionPost
	}

	author, ok := jsonmap.Obj(post, "author")
	if !ok {
		return false, "author is not an object"
	}
	for _, key := range requiredAuthorKeys {
		if !jsonmap.Has(author, key) {
			return false, "missing key author." + key
		}
	}

	return true, ""
}
