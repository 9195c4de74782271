package usecase

import (
	"sync"
	"time"
)

const DefaultTypingIdle = 2 * time.Second

// TypingEmitter is the realtime side of the typing indicator.
type TypingEmitter interface {
	SendTyping(conversationID string, typing bool)
}

// Typing turns keystrokes into start and stop events for the active
// conversation. Starts and stops strictly alternate.
type Typing struct {
	emitter TypingEmitter
	idle    time.Duration

	mu     sync.Mutex
	convID string
	typing bool
	timer  *time.Timer
	gen    uint64
}

func NewTyping(emitter TypingEmitter, idle time.Duration) *Typing {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &Typing{emitter: emitter, idle: idle}
}

// Keystroke emits typing-start if needed and restarts the idle timer.
func (t *Typing) Keystroke(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conversationID != t.convID {
		t.stopLocked()
		t.convID = conversationID
	}
	if !t.typing {
		t.typing = true
		t.emitter.SendTyping(conversationID, true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
}

func (t *Typing) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.stopLocked()
}

// Stop ends typing, called on send, switch and teardown.
func (t *Typing) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Typing) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

func (t *Typing) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if t.typing {
		t.typing = false
		t.emitter.SendTyping(t.convID, false)
	}
}
