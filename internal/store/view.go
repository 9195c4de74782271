package store

import (
	"slices"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

// View is a read-only copy of one conversation.
type View struct {
	Conversation models.Conversation
	Messages     []models.Message
	Pending      []models.PendingSend
	Typing       []string
	Version      uint64
}

func (s *Store) View(convID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return View{}, false
	}
	return viewOf(c), true
}

func viewOf(c *conversation) View {
	typing := make([]string, 0, len(c.typing))
	for u := range c.typing {
		typing = append(typing, u)
	}
	slices.Sort(typing)
	return View{
		Conversation: c.conv,
		Messages:     messagesOf(c),
		Pending:      slices.Clone(c.pending),
		Typing:       typing,
		Version:      c.version,
	}
}

// Subscribe streams views of a conversation, starting with the current one.
// A slow reader only ever sees the latest view.
func (s *Store) Subscribe(convID string) (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(convID)
	sub := &subscriber{convID: convID, ch: make(chan View, 1)}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.ch <- viewOf(c)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// changed bumps the version and publishes. Callers hold s.mu.
func (s *Store) changed(c *conversation) {
	c.version++
	var v *View
	for _, sub := range s.subs {
		if sub.convID != c.conv.ID {
			continue
		}
		if v == nil {
			vv := viewOf(c)
			v = &vv
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- *v:
		default:
		}
	}
}
