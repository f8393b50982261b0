package twitter

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	cleanRTPattern      = regexp.MustCompile(`^RT @[\p{L}\p{N}_]+: `)
	quoteURLNoise       = regexp.MustCompile(`(\?s=\d+|/(video|photo)/\d+)+`)
	hashtagSplitter     = regexp.MustCompile(`[^\p{L}\p{N}_#]+`)
	mentionSplitter     = regexp.MustCompile(`[^\p{L}\p{N}_@]+`)
	sourceAnchorPattern = regexp.MustCompile(`(?s)^\s*<a href="([^"]*)"[^>]*>(.*?)</a>\s*$`)
)

// FormatRTText renders the text of a retweet.
func FormatRTText(user, text string) string {
	return "RT @" + user + ": " + text
}

// FormatQTText inlines a quoted tweet into text. The quote block replaces
// the quoted URL when the text contains it and is appended otherwise. Text
// already holding the block is returned unchanged.
func FormatQTText(user, text, quotedText, url string) string {
	cleanURL := quoteURLNoise.ReplaceAllString(strings.ToLower(url), "")
	quote := fmt.Sprintf("« %s: %s — %s »", user, quotedText, cleanURL)

	if strings.Contains(strings.ToLower(text), strings.ToLower(quote)) {
		return text
	}

	if pos := indexFold(text, url); pos != -1 {
		return strings.TrimSpace(text[:pos] + quote + text[pos+len(url):])
	}

	return text + " " + quote
}

// indexFold is a case-insensitive strings.Index.
func indexFold(s, substr string) int {
	if substr == "" {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// FormatTweetURL returns the web URL of a tweet.
func FormatTweetURL(screenName, tweetID string) string {
	return "https://twitter.com/" + screenName + "/status/" + tweetID
}

// MediaNameFromURL returns the file name of a media URL without its tag
// query suffix.
func MediaNameFromURL(mediaURL string) string {
	if i := strings.LastIndexByte(mediaURL, '/'); i != -1 {
		mediaURL = mediaURL[i+1:]
	}
	name, _, _ := strings.Cut(mediaURL, "?tag=")
	return name
}

// HashtagsFromText extracts lowercased hashtags when entities are missing.
func HashtagsFromText(text string) []string {
	return itemsFromText(text, '#', hashtagSplitter)
}

// MentionsFromText extracts lowercased mentioned names when entities are
// missing.
func MentionsFromText(text string) []string {
	return itemsFromText(text, '@', mentionSplitter)
}

func itemsFromText(text string, marker byte, splitter *regexp.Regexp) []string {
	seen := make(map[string]struct{})
	for _, token := range splitter.Split(cleanRTPattern.ReplaceAllString(text, ""), -1) {
		if token == "" || token[0] != marker {
			continue
		}
		item := strings.ToLower(strings.TrimLeft(token, string(marker)))
		if item == "" {
			continue
		}
		seen[item] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// parseSource splits the HTML anchor of a tweet's source into its URL and
// name.
func parseSource(source string) (url, name any) {
	if m := sourceAnchorPattern.FindStringSubmatch(source); m != nil {
		return m[1], m[2]
	}
	return nil, source
}
