package audio

import (
	"context"
	"errors"
)

// Device errors, returned (possibly wrapped) by MediaDevices implementations.
var (
	ErrDeviceDenied   = errors.New("microphone permission denied")
	ErrDeviceNotFound = errors.New("no microphone found")
)

type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
}

// MediaDevices grants access to the microphone.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live, encoding capture. Chunks delivers encoded container
// fragments in capture order and is closed once Stop has flushed the last one.
type Stream interface {
	Chunks() <-chan []byte
	MimeType() string
	Stop() error
}

// ObjectURLs creates and revokes local handles for in-memory blobs.
type ObjectURLs interface {
	Create(data []byte, mimeType string) string
	Revoke(url string)
}

type Player interface {
	Play(url string) error
	Pause() error
}
