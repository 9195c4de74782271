package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

const (
	DefaultMimeType    = "audio/webm;codecs=opus"
	DefaultMaxDuration = 300
)

type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePreview   State = "preview"
)

// EncodedAudio is a finished recording.
type EncodedAudio struct {
	Data     []byte
	MimeType string
	Duration int // whole seconds
}

type Options struct {
	// MaxDuration in seconds, recording stops by itself once reached.
	MaxDuration int
	// TickInterval drives Tick from a goroutine while recording. Zero disables
	// the ticker and leaves ticking to the caller.
	TickInterval time.Duration
}

// Engine owns the single recording of a client session.
type Engine struct {
	devices MediaDevices
	urls    ObjectURLs
	player  Player
	opts    Options
	log     *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	stream    Stream
	collected chan [][]byte
	elapsed   int
	preview   *Preview
	stopTick  chan struct{}
}

var recordings = util.MustCounterVec("audio_recordings_total", "outcome")

func NewEngine(devices MediaDevices, urls ObjectURLs, player Player, opts Options) *Engine {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	return &Engine{
		devices: devices,
		urls:    urls,
		player:  player,
		opts:    opts,
		log:     logger.MustNamed("audio"),
		state:   StateInactive,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Elapsed returns the recorded whole seconds.
func (e *Engine) Elapsed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

// Start acquires the microphone and begins a new recording. Any recording
// already in progress or in preview is discarded first.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.releaseLocked()
	e.mu.Unlock()

	stream, err := e.devices.GetUserMedia(ctx, Constraints{EchoCancellation: true, NoiseSuppression: true})
	if err != nil {
		return toPermissionError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInactive {
		// a concurrent Start won the race
		e.releaseLocked()
	}

	collected := make(chan [][]byte, 1)
	go collect(stream.Chunks(), collected)

	e.stream = stream
	e.collected = collected
	e.elapsed = 0
	e.state = StateRecording
	if e.opts.TickInterval > 0 {
		e.stopTick = make(chan struct{})
		go e.tickLoop(e.opts.TickInterval, e.stopTick)
	}
	recordings.WithLabelValues("started").Inc()
	return nil
}

func collect(chunks <-chan []byte, out chan<- [][]byte) {
	var all [][]byte
	for c := range chunks {
		if len(c) > 0 {
			all = append(all, c)
		}
	}
	out <- all
}

func (e *Engine) tickLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances the recording by one second and stops it at the cap.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRecording {
		return
	}
	e.elapsed++
	if e.elapsed >= e.opts.MaxDuration {
		if _, err := e.stopLocked(); err != nil {
			e.log.Warnw("auto stop failed", "error", err)
		}
	}
}

// Stop ends the recording and moves it to preview.
func (e *Engine) Stop() (*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRecording {
		return nil, fmt.Errorf("stop in state %s: %w", e.state, models.ErrInvalidState)
	}
	return e.stopLocked()
}

func (e *Engine) stopLocked() (*EncodedAudio, error) {
	e.haltTickLocked()
	stopErr := e.stream.Stop()
	chunks := <-e.collected

	rec := &EncodedAudio{
		Data:     bytes.Join(chunks, nil),
		MimeType: e.stream.MimeType(),
		Duration: e.elapsed,
	}
	if rec.MimeType == "" {
		rec.MimeType = DefaultMimeType
	}
	e.stream = nil
	e.collected = nil
	e.state = StatePreview
	e.preview = &Preview{
		audio:  rec,
		url:    e.urls.Create(rec.Data, rec.MimeType),
		player: e.player,
	}
	if stopErr != nil {
		e.log.Warnw("stream stop failed", "error", stopErr)
	}
	return rec, nil
}

// Preview returns the playable preview, nil unless in preview state.
func (e *Engine) Preview() *Preview {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preview
}

// Take hands the preview recording over for sending and returns the engine to inactive.
func (e *Engine) Take() (*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePreview {
		return nil, fmt.Errorf("take in state %s: %w", e.state, models.ErrInvalidState)
	}
	rec := e.preview.audio
	e.releaseLocked()
	recordings.WithLabelValues("sent").Inc()
	return rec, nil
}

// Cancel discards the current recording or preview.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateInactive {
		return
	}
	e.releaseLocked()
	recordings.WithLabelValues("cancelled").Inc()
}

// Close releases every handle. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

func (e *Engine) releaseLocked() {
	e.haltTickLocked()
	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			e.log.Warnw("stream stop failed", "error", err)
		}
		<-e.collected
		e.stream = nil
		e.collected = nil
	}
	if e.preview != nil {
		_ = e.preview.Pause()
		e.urls.Revoke(e.preview.url)
		e.preview = nil
	}
	e.elapsed = 0
	e.state = StateInactive
}

func (e *Engine) haltTickLocked() {
	if e.stopTick != nil {
		close(e.stopTick)
		e.stopTick = nil
	}
}

func toPermissionError(err error) error {
	var perr *models.PermissionError
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, ErrDeviceDenied):
		return &models.PermissionError{Reason: models.PermissionDenied, Err: err}
	case errors.Is(err, ErrDeviceNotFound):
		return &models.PermissionError{Reason: models.PermissionNoDevice, Err: err}
	}
	return &models.PermissionError{Reason: models.PermissionOther, Err: err}
}

// Preview plays a finished recording locally. Nothing leaves the client.
type Preview struct {
	audio  *EncodedAudio
	url    string
	player Player

	mu      sync.Mutex
	playing bool
}

func (p *Preview) URL() string {
	return p.url
}

func (p *Preview) Audio() *EncodedAudio {
	return p.audio
}

func (p *Preview) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Preview) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return nil
	}
	if err := p.player.Play(p.url); err != nil {
		return fmt.Errorf("play preview: %w", err)
	}
	p.playing = true
	return nil
}

func (p *Preview) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.playing = false
	return p.player.Pause()
}
