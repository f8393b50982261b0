package bluesky

import (
	"net/url"
	"strings"

	"github.com/blackmichael/socialnorm/internal/domain"
)

// Lexicon collections referenced by post payloads.
const (
	CollectionPost        = "app.bsky.feed.post"
	CollectionGenerator   = "app.bsky.feed.generator"
	CollectionList        = "app.bsky.graph.list"
	CollectionStarterPack = "app.bsky.graph.starterpack"
)

// ATURI is a parsed at://{authority}/{collection}/{rkey} URI.
type ATURI struct {
	Authority  string
	Collection string
	RKey       string
}

// ParseATURI splits an at:// URI into its parts.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, &domain.PayloadError{Source: uri, Reason: "not an at:// URI"}
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ATURI{}, &domain.PayloadError{Source: uri, Reason: "at:// URI has no record key"}
	}
	return ATURI{Authority: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// String formats the URI back.
func (u ATURI) String() string {
	return "at://" + u.Authority + "/" + u.Collection + "/" + u.RKey
}

// ParsePostURI returns the author DID and record key of a post URI.
func ParsePostURI(uri string) (userDID, postDID string, err error) {
	parsed, err := ParseATURI(uri)
	if err != nil {
		return "", "", err
	}
	if parsed.Collection != CollectionPost {
		return "", "", &domain.PayloadError{Source: uri, Reason: "not a Bluesky post URI"}
	}
	return parsed.Authority, parsed.RKey, nil
}

// FormatPostURI builds the at:// URI of a post.
func FormatPostURI(userDID, postDID string) string {
	return ATURI{Authority: userDID, Collection: CollectionPost, RKey: postDID}.String()
}

// PostURIFromURL turns a bsky.app post URL into an at:// URI. at:// URIs
// are returned as is. The authority keeps whatever the URL holds, handle or
// DID.
func PostURIFromURL(raw string) (string, error) {
	if strings.HasPrefix(raw, "at://") {
		if _, _, err := ParsePostURI(raw); err != nil {
			return "", err
		}
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "bsky.app" {
		return "", &domain.PayloadError{Source: raw, Reason: "not a Bluesky post URL"}
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "profile" || parts[2] != "post" || parts[1] == "" || parts[3] == "" {
		return "", &domain.PayloadError{Source: raw, Reason: "not a Bluesky post URL"}
	}
	return FormatPostURI(parts[1], parts[3]), nil
}

// FormatPostURL returns the web URL of a post. user may be a handle or a DID.
func FormatPostURL(user, postDID string) string {
	return "https://bsky.app/profile/" + user + "/post/" + postDID
}

// FormatProfileURL returns the web URL of a profile.
func FormatProfileURL(user string) string {
	return "https://bsky.app/profile/" + user
}

const (
	cdnImageURL = "https://cdn.bsky.app/img/"
	videoURL    = "https://video.bsky.app/watch/"
)

// FormatImageURLs returns the full size and thumbnail URLs of an image blob.
func FormatImageURLs(userDID, cid, mimeType string) (full, thumb string) {
	ext := mimeSubtype(mimeType)
	full = cdnImageURL + "feed_fullsize/plain/" + userDID + "/" + cid + "@" + ext
	thumb = cdnImageURL + "feed_thumbnail/plain/" + userDID + "/" + cid + "@" + ext
	return full, thumb
}

// FormatVideoURLs returns the playlist and thumbnail URLs of a video blob.
func FormatVideoURLs(userDID, cid string) (playlist, thumb string) {
	base := videoURL + url.QueryEscape(userDID) + "/" + cid + "/"
	return base + "playlist.m3u8", base + "thumbnail.jpg"
}

func mimeSubtype(mimeType string) string {
	if _, sub, ok := strings.Cut(mimeType, "/"); ok {
		return sub
	}
	return mimeType
}
