package bluesky

import (
	"bytes"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
	"github.com/blackmichael/socialnorm/internal/urlnorm"
)

type facetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag"`
	DID  string `json:"did"`
	URI  string `json:"uri"`
}

type facet struct {
	Index    facetIndex     `json:"index"`
	Features []facetFeature `json:"features"`
}

// Span is a half-open byte range of a post's UTF-8 text.
type Span struct {
	Start, End int
}

// RepairStrategy tries to correct the span a facet claims. It returns false
// when it does not apply.
type RepairStrategy struct {
	Name   string
	Repair func(text []byte, claimed Span) (Span, bool)
}

// MentionStrategies are tried in order on mention facets.
var MentionStrategies = []RepairStrategy{
	{Name: "exact", Repair: mentionExact},
	{Name: "forwardAt", Repair: mentionForwardAt},
	{Name: "doubleShift", Repair: mentionDoubleShift},
}

// LinkStrategies are tried in order on link facets. When none applies the
// claimed span is kept.
var LinkStrategies = []RepairStrategy{
	{Name: "exact", Repair: linkExact},
	{Name: "forwardScheme", Repair: linkForwardScheme},
	{Name: "backwardScheme", Repair: linkBackwardScheme},
	{Name: "personalized", Repair: linkPersonalized},
}

func (s Span) within(text []byte) bool {
	return s.Start >= 0 && s.Start <= s.End && s.End <= len(text)
}

func (s Span) shift(delta int, text []byte) Span {
	return Span{Start: s.Start + delta, End: min(s.End+delta, len(text))}
}

func mentionExact(text []byte, claimed Span) (Span, bool) {
	if claimed.End > claimed.Start+1 && text[claimed.Start] == '@' {
		return claimed, true
	}
	return Span{}, false
}

// mentionForwardAt handles spans starting before the @. An @ found at or
// past the claimed end means the span was shifted twice: its start moves
// back by one and its end forward by one instead.
func mentionForwardAt(text []byte, claimed Span) (Span, bool) {
	i := bytes.IndexByte(text[claimed.Start:], '@')
	if i <= 0 {
		return Span{}, false
	}
	if claimed.Start+i < claimed.End {
		return claimed.shift(i, text), true
	}
	if claimed.Start == 0 {
		return Span{}, false
	}
	return Span{Start: claimed.Start - 1, End: min(claimed.End+1, len(text))}, true
}

// mentionDoubleShift handles spans starting right after the @, whether the
// whole span is shifted or only its start.
func mentionDoubleShift(text []byte, claimed Span) (Span, bool) {
	if claimed.Start == 0 || text[claimed.Start-1] != '@' {
		return Span{}, false
	}
	return Span{Start: claimed.Start - 1, End: min(claimed.End+1, len(text))}, true
}

func linkExact(text []byte, claimed Span) (Span, bool) {
	if bytes.HasPrefix(text[claimed.Start:], []byte("http")) {
		return claimed, true
	}
	return Span{}, false
}

func linkForwardScheme(text []byte, claimed Span) (Span, bool) {
	i := bytes.Index(text[claimed.Start:claimed.End], []byte("http"))
	if i <= 0 {
		return Span{}, false
	}
	return claimed.shift(i, text), true
}

// maxBackwardShift bounds how far before its claimed start a link is looked
// for.
const maxBackwardShift = 3

func linkBackwardScheme(text []byte, claimed Span) (Span, bool) {
	for d := 1; d <= maxBackwardShift && claimed.Start-d >= 0; d++ {
		if bytes.HasPrefix(text[claimed.Start-d:], []byte("http")) {
			return claimed.shift(-d, text), true
		}
	}
	return Span{}, false
}

// linkPersonalized looks around the claimed span for a scheme-less link
// that reads as a URL once prefixed with https://.
func linkPersonalized(text []byte, claimed Span) (Span, bool) {
	for _, d := range []int{0, -1, 1, -2, 2, -3, 3} {
		s := Span{Start: claimed.Start + d, End: claimed.End + d}
		if !s.within(text) || s.Start == s.End {
			continue
		}
		if !boundaryBefore(text, s.Start) || !boundaryAfter(text, s.End) {
			continue
		}
		candidate := text[s.Start:s.End]
		if !utf8.Valid(candidate) || bytes.ContainsAny(candidate, " \t\n") {
			continue
		}
		if urlnorm.IsValidHTTPURL("https://" + string(candidate)) {
			return s, true
		}
	}
	return Span{}, false
}

func boundaryBefore(text []byte, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRune(text[:i])
	return unicode.IsSpace(r) || strings.ContainsRune("([{<\"'«", r)
}

func boundaryAfter(text []byte, i int) bool {
	if i == len(text) {
		return true
	}
	r, _ := utf8.DecodeRune(text[i:])
	return unicode.IsSpace(r) || strings.ContainsRune(".,;:!?)]}>\"'»", r)
}

// RepairSpan applies strategies in order and returns the first repaired
// span with the name of the strategy that produced it.
func RepairSpan(text []byte, claimed Span, strategies []RepairStrategy) (Span, string, bool) {
	if !claimed.within(text) {
		return Span{}, "", false
	}
	for _, s := range strategies {
		if repaired, ok := s.Repair(text, claimed); ok {
			return repaired, s.Name, true
		}
	}
	return Span{}, "", false
}

// ExtendToValidUTF8 grows span one byte at a time until it decodes.
func ExtendToValidUTF8(text []byte, span Span) (Span, bool) {
	for !utf8.Valid(text[span.Start:span.End]) {
		if span.End >= len(text) {
			return Span{}, false
		}
		span.End++
	}
	return span, true
}

// HandleFromSpan reads the handle of a repaired mention span, @ excluded.
func HandleFromSpan(text []byte, span Span) string {
	if span.End <= span.Start+1 {
		return ""
	}
	raw := strings.TrimSpace(string(text[span.Start+1 : span.End]))
	end := strings.IndexFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_'
	})
	if end != -1 {
		raw = raw[:end]
	}
	raw = strings.TrimRight(raw, ".-")
	return norm.NFC.String(strings.ToLower(raw))
}

type splice struct {
	span Span
	uri  string
}

type facetResult struct {
	hashtags       []string
	mentionDIDs    []string
	mentionHandles []string
	links          map[string]struct{}
	splices        []splice
	appended       []string
}

func isPollLink(uri string) bool {
	return strings.HasPrefix(uri, "https://poll.blue/")
}

// extractFacets reads hashtags, mentions and links out of a post record.
// Facets whose span cannot be repaired are dropped.
func extractFacets(record jsonmap.Object, text []byte, source string, o domain.Options) (facetResult, error) {
	res := facetResult{
		hashtags:       []string{},
		mentionDIDs:    []string{},
		mentionHandles: []string{},
		links:          make(map[string]struct{}),
	}

	raw, ok := record["facets"]
	if !ok || raw == nil {
		return res, nil
	}
	var facets []facet
	if err := jsonmap.Decode(raw, &facets); err != nil {
		return res, &domain.PayloadError{Source: source, Reason: "malformed facets: " + err.Error()}
	}

	hashtags := make(map[string]struct{})
	drop := func(kind string, f facet) {
		o.Logger.Debug("bluesky: dropping facet",
			zap.String("uri", source),
			zap.String("kind", kind),
			zap.Int("byte_start", f.Index.ByteStart),
			zap.Int("byte_end", f.Index.ByteEnd))
	}

	for _, f := range facets {
		if len(f.Features) != 1 {
			return res, &domain.PayloadError{Source: source, Reason: "facet does not hold exactly one feature"}
		}
		feat := f.Features[0]
		claimed := Span{Start: f.Index.ByteStart, End: f.Index.ByteEnd}

		switch {
		case strings.HasSuffix(feat.Type, "#tag"):
			tag := norm.NFC.String(strings.ToLower(strings.TrimSpace(feat.Tag)))
			if tag != "" {
				hashtags[tag] = struct{}{}
			}

		case strings.HasSuffix(feat.Type, "#mention"):
			if slices.Contains(res.mentionDIDs, feat.DID) {
				continue
			}
			span, _, ok := RepairSpan(text, claimed, MentionStrategies)
			if ok {
				span, ok = ExtendToValidUTF8(text, span)
			}
			if !ok {
				drop("mention", f)
				continue
			}
			handle := HandleFromSpan(text, span)
			if handle == "" {
				drop("mention", f)
				continue
			}
			res.mentionDIDs = append(res.mentionDIDs, feat.DID)
			res.mentionHandles = append(res.mentionHandles, handle)

		case strings.HasSuffix(feat.Type, "#link"):
			if isPollLink(feat.URI) {
				if strings.HasSuffix(feat.URI, "/0") {
					res.links[urlnorm.NormalizeURL(feat.URI)] = struct{}{}
					res.appended = append(res.appended, feat.URI)
				}
				continue
			}
			res.links[urlnorm.NormalizeURL(feat.URI)] = struct{}{}

			span, _, ok := RepairSpan(text, claimed, LinkStrategies)
			if !ok && claimed.within(text) {
				span, ok = claimed, true
			}
			if ok {
				span, ok = ExtendToValidUTF8(text, span)
			}
			if !ok {
				drop("link", f)
				continue
			}
			res.splices = append(res.splices, splice{span: span, uri: feat.URI})

		case strings.HasSuffix(feat.Type, "#bold"), strings.HasSuffix(feat.Type, "#option"):
			// formatting only

		default:
			return res, &domain.PayloadError{Source: source, Reason: "unrecognized facet feature " + feat.Type}
		}
	}

	for tag := range hashtags {
		res.hashtags = append(res.hashtags, tag)
	}
	slices.Sort(res.hashtags)
	return res, nil
}

// applySplices rewrites link spans with their full URI, last span first.
// Overlapping spans are skipped.
func applySplices(text []byte, splices []splice, source string, o domain.Options) (string, error) {
	sorted := slices.Clone(splices)
	slices.SortStableFunc(sorted, func(a, b splice) int {
		return b.span.Start - a.span.Start
	})

	out := slices.Clone(text)
	limit := len(text)
	for _, s := range sorted {
		if s.span.End > limit {
			o.Logger.Debug("bluesky: skipping overlapping link",
				zap.String("uri", source), zap.String("link", s.uri))
			continue
		}
		out = slices.Concat(out[:s.span.Start], []byte(s.uri), out[s.span.End:])
		limit = s.span.Start
	}

	if !utf8.Valid(out) {
		start, end := 0, len(out)
		if len(sorted) > 0 {
			start, end = sorted[len(sorted)-1].span.Start, sorted[0].span.End
		}
		return "", &domain.DecodeError{Source: source, Start: start, End: end, Raw: out}
	}
	return string(out), nil
}
