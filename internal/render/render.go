// Package render decides how a message is displayed without doing any drawing.
// Every message type maps to exactly one Variant kind, and binary payloads
// resolve their source through a fixed fallback chain.
package render

import (
	"encoding/base64"
	"strings"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

type Kind string

const (
	KindText        Kind = "text"
	KindNote        Kind = "note"
	KindAudio       Kind = "audio"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindSticker     Kind = "sticker"
	KindLocation    Kind = "location"
	KindContact     Kind = "contact"
	KindReaction    Kind = "reaction"
	KindInteractive Kind = "interactive"
	KindUnsupported Kind = "unsupported"
	KindHidden      Kind = "hidden"
	KindDeleted     Kind = "deleted"
)

// SourceKind tells the UI where the playable or viewable bytes come from.
type SourceKind string

const (
	SourceNone        SourceKind = ""
	SourceDirect      SourceKind = "direct"
	SourceSynthesized SourceKind = "synthesized"
	SourceDeferred    SourceKind = "deferred"
	SourceUnavailable SourceKind = "unavailable"
)

const DefaultAudioMimeType = "audio/mp4"

type Source struct {
	Kind SourceKind
	// URL is set for direct and synthesized sources.
	URL string
	// MessageID is the gateway id to fetch for deferred sources.
	MessageID string
	MimeType  string
}

type Variant struct {
	Kind      Kind
	Text      string
	Caption   string
	FileName  string
	Duration  int
	Source    Source
	Location  *models.LocationPayload
	Contact   *models.ContactPayload
	Reaction  *models.ReactionPayload
	Options   []string
	Outbound  bool
	Status    models.DeliveryStatus
	Uploading bool
}

// Classify maps a message onto its display variant.
func Classify(m models.Message) Variant {
	v := Variant{
		Outbound:  !m.IsFromContact,
		Uploading: m.Metadata.Uploading,
	}
	if v.Outbound {
		v.Status = m.Status()
	}

	switch {
	case m.IsDeleted:
		v.Kind = KindDeleted
		return v
	case m.IsDeletedByUser:
		v.Kind = KindHidden
		return v
	case m.IsInternalNote:
		v.Kind = KindNote
		v.Text = m.Content
		return v
	}

	switch m.MessageType {
	case models.MessageTypeText:
		v.Kind = KindText
		v.Text = m.Content
	case models.MessageTypeAudio:
		v.Kind = KindAudio
		audio, _ := m.Metadata.Audio()
		v.Duration = audio.Duration
		v.Source = audioSource(m, audio)
	case models.MessageTypeVideo:
		v.Kind = KindVideo
		v.Source = videoSource(m)
		fillMedia(&v, m.Metadata)
	case models.MessageTypeImage:
		v.Kind = KindImage
		v.Source = mediaSource(m)
		fillMedia(&v, m.Metadata)
	case models.MessageTypeDocument:
		v.Kind = KindDocument
		v.Source = mediaSource(m)
		fillMedia(&v, m.Metadata)
	case models.MessageTypeSticker:
		v.Kind = KindSticker
		v.Source = mediaSource(m)
	case models.MessageTypeLocation:
		v.Kind = KindLocation
		if loc, ok := m.Metadata.Location(); ok {
			v.Location = &loc
		}
	case models.MessageTypeContact:
		v.Kind = KindContact
		if c, ok := m.Metadata.Contact(); ok {
			v.Contact = &c
		}
		v.Text = m.Content
	case models.MessageTypeReaction:
		v.Kind = KindReaction
		if r, ok := m.Metadata.Reaction(); ok {
			v.Reaction = &r
		}
	case models.MessageTypePoll, models.MessageTypeButton, models.MessageTypeList, models.MessageTypeTemplate:
		v.Kind = KindInteractive
		v.Text = m.Content
		if i, ok := m.Metadata.Interactive(); ok {
			if v.Text == "" {
				v.Text = i.Title
			}
			v.Options = i.Options
		}
	case models.MessageTypeUnsupported:
		v.Kind = KindUnsupported
		v.Text = m.Content
	default:
		v.Kind = KindUnsupported
	}
	return v
}

func fillMedia(v *Variant, md models.Metadata) {
	if media, ok := md.Media(); ok {
		v.Caption = media.Caption
		v.FileName = media.FileName
	}
}

// audioSource resolves in order: direct URL, data URI or blob URL, data URI built from
// raw base64 content, fetch by gateway id.
func audioSource(m models.Message, audio models.AudioPayload) Source {
	content := strings.TrimSpace(m.Content)
	switch {
	case isDataURI(content) || isBlobURL(content) || isHTTPURL(content):
		return Source{Kind: SourceDirect, URL: content, MimeType: audio.MimeType}
	case content != "" && isBase64(content):
		mime := audio.MimeType
		if mime == "" {
			mime = DefaultAudioMimeType
		}
		return Source{Kind: SourceSynthesized, URL: "data:" + mime + ";base64," + content, MimeType: mime}
	}
	return deferredOrUnavailable(m)
}

// videoSource resolves in order: metadata URL, inline data URI, raw URL
// content, fetch by gateway id.
func videoSource(m models.Message) Source {
	media, _ := m.Metadata.Media()
	content := strings.TrimSpace(m.Content)
	switch {
	case media.URL != "":
		return Source{Kind: SourceDirect, URL: media.URL, MimeType: media.MimeType}
	case isDataURI(content):
		return Source{Kind: SourceDirect, URL: content, MimeType: media.MimeType}
	case isHTTPURL(content):
		return Source{Kind: SourceDirect, URL: content, MimeType: media.MimeType}
	}
	return deferredOrUnavailable(m)
}

func mediaSource(m models.Message) Source {
	media, _ := m.Metadata.Media()
	content := strings.TrimSpace(m.Content)
	switch {
	case media.URL != "":
		return Source{Kind: SourceDirect, URL: media.URL, MimeType: media.MimeType}
	case isDataURI(content) || isHTTPURL(content):
		return Source{Kind: SourceDirect, URL: content, MimeType: media.MimeType}
	}
	return deferredOrUnavailable(m)
}

func deferredOrUnavailable(m models.Message) Source {
	if id := m.GatewayMessageID(); id != "" {
		return Source{Kind: SourceDeferred, MessageID: id}
	}
	return Source{Kind: SourceUnavailable}
}

func isDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

func isBlobURL(s string) bool {
	return strings.HasPrefix(s, "blob:")
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isBase64(s string) bool {
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawStdEncoding.DecodeString(s)
	return err == nil
}
