package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	for _, mt := range MessageTypes {
		assert.Equal(t, mt, ParseMessageType(string(mt)))
	}
	assert.Equal(t, MessageTypeUnsupported, ParseMessageType("carousel"))
	assert.Equal(t, MessageTypeUnsupported, ParseMessageType(""))
}

func TestMessageStatus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		msg  Message
		want DeliveryStatus
	}{
		{"composing", Message{}, DeliveryStatusComposing},
		{"sent", Message{SentAt: &now}, DeliveryStatusSent},
		{"delivered", Message{SentAt: &now, DeliveredAt: &now}, DeliveryStatusDelivered},
		{"read", Message{SentAt: &now, DeliveredAt: &now, ReadAt: &now}, DeliveryStatusRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Status())
		})
	}
}

func TestNormalizeDelivery(t *testing.T) {
	read := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := Message{ReadAt: &read}
	m.NormalizeDelivery()

	require.NotNil(t, m.DeliveredAt)
	require.NotNil(t, m.SentAt)
	assert.True(t, m.DeliveredAt.Equal(read))
	assert.True(t, m.SentAt.Equal(read))
}

func TestOrderingTime(t *testing.T) {
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	delivered := sent.Add(time.Second)
	received := sent.Add(time.Minute)

	assert.Equal(t, sent, Message{SentAt: &sent, DeliveredAt: &delivered}.OrderingTime(received))
	assert.Equal(t, delivered, Message{DeliveredAt: &delivered}.OrderingTime(received))
	assert.Equal(t, received, Message{}.OrderingTime(received))
}

func TestMessageJSON(t *testing.T) {
	raw := `{
		"id": "m1",
		"conversationId": "42",
		"isFromContact": true,
		"messageType": "audio",
		"content": "",
		"metadata": {"messageId": "3EB0", "mimeType": "audio/ogg", "duration": "12", "chatLid": "x@lid"},
		"sentAt": "2024-05-01T10:00:00Z"
	}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, MessageTypeAudio, m.MessageType)
	assert.Equal(t, "3EB0", m.GatewayMessageID())

	audio, ok := m.Metadata.Audio()
	require.True(t, ok)
	assert.Equal(t, "audio/ogg", audio.MimeType)
	assert.Equal(t, 12, audio.Duration)
	assert.Equal(t, map[string]any{"chatLid": "x@lid"}, m.Metadata.Extra)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "audio", back["messageType"])
	md := back["metadata"].(map[string]any)
	assert.Equal(t, "3EB0", md["messageId"])
	assert.Equal(t, "x@lid", md["chatLid"])
	assert.EqualValues(t, 12, md["duration"])
}

func TestMessageJSONUnknownType(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","messageType":"carousel","metadata":{"title":"x"}}`), &m))
	assert.Equal(t, MessageTypeUnsupported, m.MessageType)
	assert.Nil(t, m.Metadata.Payload)
	assert.Equal(t, "x", m.Metadata.Extra["title"])
}

func TestDecodeMetadata(t *testing.T) {
	t.Run("media url aliases", func(t *testing.T) {
		md := DecodeMetadata(MessageTypeVideo, map[string]any{"videoUrl": "https://cdn/v.mp4", "caption": "hi", "fileSize": "2048"})
		media, ok := md.Media()
		require.True(t, ok)
		assert.Equal(t, "https://cdn/v.mp4", media.URL)
		assert.Equal(t, "hi", md.Caption())
		assert.Equal(t, int64(2048), media.Size)
		assert.Nil(t, md.Extra)
	})

	t.Run("reaction reference id", func(t *testing.T) {
		md := DecodeMetadata(MessageTypeReaction, map[string]any{"referenceMessageId": "abc", "reaction": "👍"})
		r, ok := md.Reaction()
		require.True(t, ok)
		assert.Equal(t, ReactionPayload{TargetMessageID: "abc", Emoji: "👍"}, r)
	})

	t.Run("location numbers as strings", func(t *testing.T) {
		md := DecodeMetadata(MessageTypeLocation, map[string]any{"latitude": "-23.5", "longitude": -46.6})
		loc, ok := md.Location()
		require.True(t, ok)
		assert.InDelta(t, -23.5, loc.Latitude, 1e-9)
		assert.InDelta(t, -46.6, loc.Longitude, 1e-9)
	})

	t.Run("flatten inverse", func(t *testing.T) {
		md := Metadata{MessageID: "g1", Payload: MediaPayload{URL: "https://x/y.png", Caption: "Confira"}}
		back := DecodeMetadata(MessageTypeImage, md.Flatten())
		assert.Equal(t, md, back)
	})
}

func TestUserMessage(t *testing.T) {
	errs := []error{
		&PermissionError{Reason: PermissionDenied},
		&PermissionError{Reason: PermissionNoDevice},
		&PermissionError{Reason: PermissionOther},
		&TransferError{Kind: TransferTimeout},
		&TransferError{Kind: TransferNetworkFailure},
		&TransferError{Kind: TransferServerRejected, Status: 500},
		&TransferError{Kind: TransferUnacceptable, Detail: "file exceeds 16 MiB"},
		NewPreconditionError("send_reaction", "contact phone is missing"),
		&SendError{Step: SendStepSecondary, Partial: true, Err: errors.New("boom")},
		ErrNotFound,
		ErrInvalidState,
	}

	seen := map[string]bool{}
	for _, err := range errs {
		msg := UserMessage(fmt.Errorf("wrapped: %w", err))
		assert.NotEmpty(t, msg)
		assert.False(t, seen[msg], "duplicate message %q", msg)
		seen[msg] = true
	}
	assert.Empty(t, UserMessage(nil))
}

func TestSendErrorUnwrap(t *testing.T) {
	inner := &TransferError{Kind: TransferTimeout, Op: "upload_image"}
	err := fmt.Errorf("quick reply: %w", &SendError{Step: SendStepPrimary, Err: inner})

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, TransferTimeout, te.Kind)
	assert.Contains(t, err.Error(), "primary")
}
