// Package urlnorm canonicalizes shared links and extracts their hostnames.
package urlnorm

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Query parameters added by trackers and share buttons.
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "dclid": {}, "msclkid": {}, "igshid": {},
	"mc_cid": {}, "mc_eid": {}, "_ga": {}, "_gl": {}, "xtor": {},
	"yclid": {}, "twclid": {}, "ttclid": {}, "ref_src": {}, "ref_url": {},
	"__twitter_impression": {}, "at_medium": {}, "at_campaign": {},
}

var trackingPrefixes = []string{"utm_", "pk_", "mtm_"}

// Subdomains carrying no information about the site.
var irrelevantSubdomains = []string{"www", "www1", "www2", "www3", "m", "mobile"}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeURL returns raw with a lowercased scheme and host, without the
// default port and without tracking query parameters. Path, fragment,
// credentials and trailing slash are preserved. Input that does not parse as
// an absolute URL is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if port := u.Port(); port != "" && defaultPorts[u.Scheme] == port {
		u.Host = strings.TrimSuffix(u.Host, ":"+port)
	}

	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false

	return u.String()
}

// stripTracking drops tracking parameters while keeping the order and the
// encoding of the others.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		name, _, _ := strings.Cut(p, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil {
			name = unescaped
		}
		if isTracking(strings.ToLower(name)) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

func isTracking(name string) bool {
	if _, ok := trackingParams[name]; ok {
		return true
	}
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Hostname returns the lowercased, unicode host of raw with irrelevant
// subdomains such as www removed. It returns "" when raw has no host.
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ""
	}
	if decoded, err := idna.ToUnicode(host); err == nil {
		host = decoded
	}

	return stripIrrelevantSubdomains(host)
}

func stripIrrelevantSubdomains(host string) string {
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	for host != registrable {
		label, rest, ok := strings.Cut(host, ".")
		if !ok || !isIrrelevant(label) {
			break
		}
		host = rest
	}
	return host
}

func isIrrelevant(label string) bool {
	for _, s := range irrelevantSubdomains {
		if label == s {
			return true
		}
	}
	return false
}

// IsValidHTTPURL reports whether raw parses as an http(s) URL with a dotted
// host.
func IsValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " \t\n") {
		return false
	}
	dot := strings.LastIndexByte(host, '.')
	return dot > 0 && dot < len(host)-1
}
