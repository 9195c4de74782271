package models

import (
	"github.com/spf13/cast"
)

// Payload is the typed, per message type part of the metadata.
// The set of implementations is closed to this package.
type Payload interface {
	payload()
}

type AudioPayload struct {
	MimeType string
	Duration int // whole seconds
}

// MediaPayload describes image, video, document and sticker attachments.
type MediaPayload struct {
	URL      string
	MimeType string
	Caption  string
	FileName string
	Size     int64
}

type LocationPayload struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type ContactPayload struct {
	Name  string
	Phone string
}

type ReactionPayload struct {
	TargetMessageID string
	Emoji           string
}

// InteractivePayload covers poll, button, list and template messages.
type InteractivePayload struct {
	Title   string
	Options []string
}

func (AudioPayload) payload()       {}
func (MediaPayload) payload()       {}
func (LocationPayload) payload()    {}
func (ContactPayload) payload()     {}
func (ReactionPayload) payload()    {}
func (InteractivePayload) payload() {}

// Metadata is the auxiliary data of a message. Gateway identifiers and
// transfer flags are common to every type, Payload depends on the type and
// Extra keeps whatever the gateway sent that nothing here understands.
type Metadata struct {
	MessageID string
	ZaapID    string
	Uploading bool
	Payload   Payload
	Extra     map[string]any
}

func (md Metadata) Audio() (AudioPayload, bool) {
	p, ok := md.Payload.(AudioPayload)
	return p, ok
}

func (md Metadata) Media() (MediaPayload, bool) {
	p, ok := md.Payload.(MediaPayload)
	return p, ok
}

func (md Metadata) Location() (LocationPayload, bool) {
	p, ok := md.Payload.(LocationPayload)
	return p, ok
}

func (md Metadata) Reaction() (ReactionPayload, bool) {
	p, ok := md.Payload.(ReactionPayload)
	return p, ok
}

func (md Metadata) Contact() (ContactPayload, bool) {
	p, ok := md.Payload.(ContactPayload)
	return p, ok
}

func (md Metadata) Interactive() (InteractivePayload, bool) {
	p, ok := md.Payload.(InteractivePayload)
	return p, ok
}

// Caption returns the media caption, empty for non media types.
func (md Metadata) Caption() string {
	if p, ok := md.Media(); ok {
		return p.Caption
	}
	return ""
}

// wire keys of the flat metadata bag
const (
	keyMessageID       = "messageId"
	keyZaapID          = "zaapId"
	keyUploading       = "uploading"
	keyMimeType        = "mimeType"
	keyDuration        = "duration"
	keyURL             = "url"
	keyFileURL         = "fileUrl"
	keyMediaURL        = "mediaUrl"
	keyCaption         = "caption"
	keyFileName        = "fileName"
	keyFileSize        = "fileSize"
	keyLatitude        = "latitude"
	keyLongitude       = "longitude"
	keyName            = "name"
	keyAddress         = "address"
	keyPhone           = "phone"
	keyTargetMessageID = "targetMessageId"
	keyReferenceID     = "referenceMessageId"
	keyEmoji           = "emoji"
	keyReaction        = "reaction"
	keyTitle           = "title"
	keyOptions         = "options"
)

// DecodeMetadata reads the flat bag the backend stores into typed metadata.
// Numbers that arrive as strings are accepted.
func DecodeMetadata(t MessageType, bag map[string]any) Metadata {
	rest := make(map[string]any, len(bag))
	for k, v := range bag {
		rest[k] = v
	}
	take := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := rest[k]; ok && v != nil {
				delete(rest, k)
				return v
			}
		}
		return nil
	}

	md := Metadata{
		MessageID: cast.ToString(take(keyMessageID)),
		ZaapID:    cast.ToString(take(keyZaapID)),
		Uploading: cast.ToBool(take(keyUploading)),
	}

	switch t {
	case MessageTypeAudio:
		md.Payload = AudioPayload{
			MimeType: cast.ToString(take(keyMimeType)),
			Duration: cast.ToInt(take(keyDuration)),
		}
	case MessageTypeImage, MessageTypeVideo, MessageTypeDocument, MessageTypeSticker:
		md.Payload = MediaPayload{
			URL:      cast.ToString(take(keyURL, string(t)+"Url", keyFileURL, keyMediaURL)),
			MimeType: cast.ToString(take(keyMimeType)),
			Caption:  cast.ToString(take(keyCaption)),
			FileName: cast.ToString(take(keyFileName)),
			Size:     cast.ToInt64(take(keyFileSize)),
		}
	case MessageTypeLocation:
		md.Payload = LocationPayload{
			Latitude:  cast.ToFloat64(take(keyLatitude)),
			Longitude: cast.ToFloat64(take(keyLongitude)),
			Name:      cast.ToString(take(keyName)),
			Address:   cast.ToString(take(keyAddress)),
		}
	case MessageTypeContact:
		md.Payload = ContactPayload{
			Name:  cast.ToString(take(keyName)),
			Phone: cast.ToString(take(keyPhone)),
		}
	case MessageTypeReaction:
		md.Payload = ReactionPayload{
			TargetMessageID: cast.ToString(take(keyTargetMessageID, keyReferenceID)),
			Emoji:           cast.ToString(take(keyEmoji, keyReaction)),
		}
	case MessageTypePoll, MessageTypeButton, MessageTypeList, MessageTypeTemplate:
		md.Payload = InteractivePayload{
			Title:   cast.ToString(take(keyTitle)),
			Options: cast.ToStringSlice(take(keyOptions)),
		}
	}

	if len(rest) > 0 {
		md.Extra = rest
	}
	return md
}

// Flatten is the inverse of DecodeMetadata.
func (md Metadata) Flatten() map[string]any {
	bag := make(map[string]any, len(md.Extra)+6)
	for k, v := range md.Extra {
		bag[k] = v
	}
	put := func(k string, v any) {
		switch x := v.(type) {
		case string:
			if x == "" {
				return
			}
		case int:
			if x == 0 {
				return
			}
		case int64:
			if x == 0 {
				return
			}
		case bool:
			if !x {
				return
			}
		case []string:
			if len(x) == 0 {
				return
			}
		}
		bag[k] = v
	}

	put(keyMessageID, md.MessageID)
	put(keyZaapID, md.ZaapID)
	put(keyUploading, md.Uploading)

	switch p := md.Payload.(type) {
	case AudioPayload:
		put(keyMimeType, p.MimeType)
		put(keyDuration, p.Duration)
	case MediaPayload:
		put(keyURL, p.URL)
		put(keyMimeType, p.MimeType)
		put(keyCaption, p.Caption)
		put(keyFileName, p.FileName)
		put(keyFileSize, p.Size)
	case LocationPayload:
		bag[keyLatitude] = p.Latitude
		bag[keyLongitude] = p.Longitude
		put(keyName, p.Name)
		put(keyAddress, p.Address)
	case ContactPayload:
		put(keyName, p.Name)
		put(keyPhone, p.Phone)
	case ReactionPayload:
		put(keyTargetMessageID, p.TargetMessageID)
		put(keyEmoji, p.Emoji)
	case InteractivePayload:
		put(keyTitle, p.Title)
		put(keyOptions, p.Options)
	}
	return bag
}
