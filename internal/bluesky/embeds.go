package bluesky

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/domain"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

type blob struct {
	Ref struct {
		Link string `json:"$link"`
	} `json:"ref"`
	CID      string `json:"cid"`
	MimeType string `json:"mimeType"`
}

// id returns the blob CID, from legacy blobs too.
func (b *blob) id() string {
	if b == nil {
		return ""
	}
	if b.Ref.Link != "" {
		return b.Ref.Link
	}
	return b.CID
}

type imageItem struct {
	Alt   string `json:"alt"`
	Image blob   `json:"image"`
}

type externalCard struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       *blob  `json:"thumb"`
}

type embed struct {
	Type     string         `json:"$type"`
	Images   []imageItem    `json:"images"`
	Video    *blob          `json:"video"`
	Alt      string         `json:"alt"`
	External *externalCard  `json:"external"`
	Record   map[string]any `json:"record"`
	Media    *embed         `json:"media"`
}

type mediaItem struct {
	id, mimeType, alt string
	url, thumb        string
}

// isGif reports whether the item is rendered from its direct URL rather
// than its thumbnail.
func (m mediaItem) isGif() bool {
	return m.mimeType == "image/gif"
}

const tenorPrefix = "https://media.tenor.com/"

// processEmbed reads the record embed of a post, together with its
// hydrated view when the payload carries one.
func (b *postBuilder) processEmbed(record, view jsonmap.Object) error {
	raw, ok := record["embed"]
	if !ok || raw == nil {
		return nil
	}
	var e embed
	if err := jsonmap.Decode(raw, &e); err != nil {
		return &domain.PayloadError{Source: b.uri, Reason: "malformed embed: " + err.Error()}
	}
	embedView, _ := jsonmap.Obj(view, "embed")

	switch {
	case strings.HasSuffix(e.Type, ".recordWithMedia"):
		if e.Media == nil {
			return &domain.PayloadError{Source: b.uri, Reason: "recordWithMedia embed without media"}
		}
		mediaView, _ := jsonmap.Obj(embedView, "media")
		if err := b.processMedia(*e.Media, mediaView); err != nil {
			return err
		}
		ref, _ := jsonmap.Obj(e.Record, "record")
		recordView, _ := jsonmap.Obj(embedView, "record", "record")
		return b.processRecordRef(ref, recordView)

	case strings.HasSuffix(e.Type, ".record"):
		recordView, _ := jsonmap.Obj(embedView, "record")
		return b.processRecordRef(e.Record, recordView)

	default:
		return b.processMedia(e, embedView)
	}
}

// processMedia handles image, video and external embeds.
func (b *postBuilder) processMedia(e embed, view jsonmap.Object) error {
	switch {
	case strings.HasSuffix(e.Type, ".images"):
		for _, img := range e.Images {
			id := img.Image.id()
			full, thumb := FormatImageURLs(b.userDID, id, img.Image.MimeType)
			b.addMedia(mediaItem{id: id, mimeType: img.Image.MimeType, alt: img.Alt, url: full, thumb: thumb})
		}

	case strings.HasSuffix(e.Type, ".video"):
		if e.Video == nil {
			return &domain.PayloadError{Source: b.uri, Reason: "video embed without video"}
		}
		id := e.Video.id()
		playlist, thumb := FormatVideoURLs(b.userDID, id)
		b.addMedia(mediaItem{id: id, mimeType: e.Video.MimeType, alt: e.Alt, url: playlist, thumb: thumb})

	case strings.HasSuffix(e.Type, ".external"):
		if e.External == nil {
			return &domain.PayloadError{Source: b.uri, Reason: "external embed without card"}
		}
		card := e.External
		thumb := jsonmap.Str(view, "external", "thumb")
		if thumb == "" && card.Thumb != nil {
			_, thumb = FormatImageURLs(b.userDID, card.Thumb.id(), card.Thumb.MimeType)
		}

		if strings.HasPrefix(card.URI, tenorPrefix) {
			id, _, _ := strings.Cut(card.URI[strings.LastIndexByte(card.URI, '/')+1:], "?")
			b.addMedia(mediaItem{id: id, mimeType: "image/gif", alt: card.Title, url: card.URI, thumb: thumb})
			return nil
		}

		b.rec["card_link"] = card.URI
		b.rec["card_title"] = card.Title
		b.rec["card_description"] = card.Description
		b.rec["card_thumbnail"] = thumb
		b.addExtraLink(card.URI)

	default:
		return &domain.PayloadError{Source: b.uri, Reason: "unrecognized embed type " + e.Type}
	}
	return nil
}

func (b *postBuilder) addMedia(m mediaItem) {
	if _, ok := b.mediaIDs[m.id]; ok {
		return
	}
	b.mediaIDs[m.id] = struct{}{}

	b.appendList("media_urls", m.url)
	b.appendList("media_thumbnails", m.thumb)
	b.appendList("media_types", m.mimeType)
	b.appendList("media_alt_texts", m.alt)

	if strings.HasPrefix(m.mimeType, "video") {
		b.appendText(m.thumb)
	} else {
		b.appendText(m.url)
	}
}

// processRecordRef handles an embedded record: a quoted post or a feed,
// list or starter pack card.
func (b *postBuilder) processRecordRef(ref, view jsonmap.Object) error {
	uri := jsonmap.Str(ref, "uri")
	at, err := ParseATURI(uri)
	if err != nil {
		return err
	}

	switch at.Collection {
	case CollectionPost:
		return b.processQuote(at, jsonmap.Str(ref, "cid"), view)

	case CollectionStarterPack:
		creator := jsonmap.Str(view, "creator", "handle")
		if creator == "" {
			creator = at.Authority
		}
		b.rec["card_link"] = "https://bsky.app/starter-pack/" + creator + "/" + at.RKey
		b.rec["card_title"] = jsonmap.Str(view, "record", "name")
		b.rec["card_description"] = jsonmap.Str(view, "record", "description")
		b.rec["card_thumbnail"] = "https://ogcard.cdn.bsky.app/start/" + at.Authority + "/" + at.RKey

	case CollectionGenerator:
		b.rec["card_link"] = FormatProfileURL(at.Authority) + "/feed/" + at.RKey
		b.rec["card_title"] = jsonmap.Str(view, "displayName")
		b.rec["card_description"] = jsonmap.Str(view, "description")
		b.rec["card_thumbnail"] = jsonmap.Str(view, "avatar")

	case CollectionList:
		b.rec["card_link"] = FormatProfileURL(at.Authority) + "/lists/" + at.RKey
		b.rec["card_title"] = jsonmap.Str(view, "name")
		b.rec["card_description"] = jsonmap.Str(view, "description")
		b.rec["card_thumbnail"] = jsonmap.Str(view, "avatar")

	default:
		b.o.Logger.Debug("bluesky: ignoring embedded record",
			zap.String("uri", b.uri), zap.String("record", uri))
	}
	return nil
}

func (b *postBuilder) processQuote(at ATURI, cid string, view jsonmap.Object) error {
	b.rec["quoted_cid"] = cid
	b.rec["quoted_uri"] = at.String()
	b.rec["quoted_user_did"] = at.Authority
	b.rec["quoted_did"] = at.RKey
	b.rec["quoted_url"] = FormatPostURL(at.Authority, at.RKey)

	switch {
	case view == nil:
		return nil
	case jsonmap.Has(view, "detached"):
		b.rec["quoted_status"] = "detached"
		return nil
	case jsonmap.Has(view, "notFound"):
		b.rec["quoted_status"] = "notFound"
		return nil
	case jsonmap.Has(view, "blocked"):
		b.rec["quoted_status"] = "blocked"
		return nil
	case !jsonmap.Has(view, "value"):
		return nil
	}

	if viewCID := jsonmap.Str(view, "cid"); viewCID != cid {
		return &domain.InconsistentReferenceError{Source: b.uri, Field: "quoted_cid", Left: cid, Right: viewCID}
	}

	if b.depth+1 > b.o.MaxDepth {
		b.o.Logger.Debug("bluesky: max depth reached, keeping bare quote",
			zap.String("uri", b.uri), zap.String("quoted", at.String()))
		return nil
	}

	quoted, err := quotedPayload(view)
	if err != nil {
		return &domain.PayloadError{Source: at.String(), Reason: err.Error()}
	}
	nested, err := normalizePost(quoted, nil, b.o.Nested(domain.SourceQuote), b.depth+1, false)
	if err != nil {
		return err
	}
	b.referenced = append(b.referenced, nested...)

	q := nested[len(nested)-1]
	b.rec["quoted_user_handle"] = q["user_handle"]
	b.rec["quoted_created_at"] = q["local_time"]
	b.rec["quoted_timestamp_utc"] = q["timestamp_utc"]

	didURL := b.rec.String("quoted_url")
	handleURL := q.String("url")
	b.rec["quoted_url"] = handleURL

	block := fmt.Sprintf("« @%s: %s — %s »", q.String("user_handle"), q.String("text"), handleURL)
	switch {
	case strings.Contains(b.text, handleURL):
		b.text = strings.Replace(b.text, handleURL, block, 1)
	case strings.Contains(b.text, didURL):
		b.text = strings.Replace(b.text, didURL, block, 1)
	default:
		b.appendText(block)
	}
	return nil
}

// quotedPayload turns an embedded record view into a post payload.
func quotedPayload(view jsonmap.Object) (jsonmap.Object, error) {
	quoted := jsonmap.CopyObject(view)
	quoted["record"] = quoted["value"]
	delete(quoted, "value")

	if embeds, ok := quoted["embeds"]; ok {
		list, _ := embeds.([]any)
		switch len(list) {
		case 0:
		case 1:
			quoted["embed"] = list[0]
		default:
			return nil, eris.Errorf("quoted post holds %d embeds", len(list))
		}
		delete(quoted, "embeds")
	}
	return quoted, nil
}
