// Package store holds the canonical message list of every open conversation.
// It is the only writer of message state; everything else reads views.
package store

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

const DefaultDeleteWindow = 7 * time.Minute

type Options struct {
	DeleteWindow time.Duration
	Now          func() time.Time
}

type entry struct {
	msg        models.Message
	seq        uint64
	receivedAt time.Time
}

func (e *entry) key() time.Time {
	return e.msg.OrderingTime(e.receivedAt)
}

func less(a, b *entry) bool {
	ka, kb := a.key(), b.key()
	if ka.Equal(kb) {
		return a.seq < b.seq
	}
	return ka.Before(kb)
}

type conversation struct {
	conv    models.Conversation
	entries []*entry
	byID    map[string]*entry
	pending []models.PendingSend
	typing  map[string]bool
	version uint64
}

type subscriber struct {
	convID string
	ch     chan View
}

// Store is constructed once per agent session.
type Store struct {
	opts Options
	log  *zap.SugaredLogger

	mu       sync.Mutex
	convs    map[string]*conversation
	presence map[string]string
	seq      uint64
	subs     map[int]*subscriber
	nextSub  int
}

var mergedMessages = util.MustCounterVec("store_merged_messages_total", "source", "result")

func New(opts Options) *Store {
	if opts.DeleteWindow <= 0 {
		opts.DeleteWindow = DefaultDeleteWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:     opts,
		log:      logger.MustNamed("store"),
		convs:    make(map[string]*conversation),
		presence: make(map[string]string),
		subs:     make(map[int]*subscriber),
	}
}

func (s *Store) get(convID string) *conversation {
	c, ok := s.convs[convID]
	if !ok {
		c = &conversation{
			conv:   models.Conversation{ID: convID, Status: models.ConversationStatusOpen},
			byID:   make(map[string]*entry),
			typing: make(map[string]bool),
		}
		s.convs[convID] = c
	}
	return c
}

// UpsertConversation replaces the conversation attributes. Messages are kept.
func (s *Store) UpsertConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(conv.ID)
	if conv.LastMessageAt == nil {
		conv.LastMessageAt = c.conv.LastMessageAt
	}
	c.conv = conv
	s.changed(c)
}

func (s *Store) Conversation(convID string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return models.Conversation{}, false
	}
	return c.conv, true
}

// MergePage upserts a page of history fetched over REST. The page may come
// in any order, the ordering key decides the final position.
func (s *Store) MergePage(convID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(convID)
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = convID
		}
		if m.ConversationID != convID {
			s.log.Warnw("dropping message of another conversation", "conversation_id", convID, "message_id", m.ID, "owner", m.ConversationID)
			continue
		}
		s.merge(c, m, "rest")
	}
	s.changed(c)
}

// ApplyEvent merges one push event.
func (s *Store) ApplyEvent(ev models.Event) error {
	switch ev.Type {
	case models.EventMessageCreated, models.EventMessageUpdated:
		if ev.Message == nil || ev.Message.ID == "" {
			return fmt.Errorf("%s event without message", ev.Type)
		}
		m := *ev.Message
		if m.ConversationID == "" {
			m.ConversationID = ev.ConversationID
		}
		if m.CorrelationID == "" {
			m.CorrelationID = ev.CorrelationID
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		c := s.get(m.ConversationID)
		isNew := s.merge(c, m, "push")
		if isNew && ev.Type == models.EventMessageCreated && m.IsFromContact && !m.IsInternalNote {
			c.conv.UnreadCount++
		}
		s.changed(c)
		return nil
	case models.EventTyping:
		s.SetTyping(ev.ConversationID, ev.UserID, ev.IsTyping)
		return nil
	case models.EventPresence:
		s.SetPresence(ev.UserID, ev.Presence)
		return nil
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// merge upserts m and reports whether it was new.
func (s *Store) merge(c *conversation, m models.Message, source string) bool {
	if m.ID == "" {
		mergedMessages.WithLabelValues(source, "invalid").Inc()
		return false
	}
	m.NormalizeDelivery()

	if m.CorrelationID != "" {
		c.pending = slices.DeleteFunc(c.pending, func(p models.PendingSend) bool {
			return p.TempID == m.CorrelationID
		})
	}

	if e, ok := c.byID[m.ID]; ok {
		before := e.key()
		e.msg = mergeMessage(e.msg, m)
		if !e.key().Equal(before) {
			s.resort(c)
		}
		s.touch(c, e)
		mergedMessages.WithLabelValues(source, "updated").Inc()
		return false
	}

	s.seq++
	e := &entry{msg: m, seq: s.seq, receivedAt: s.opts.Now()}
	c.byID[m.ID] = e
	c.entries = append(c.entries, e)
	if n := len(c.entries); n > 1 && less(e, c.entries[n-2]) {
		s.resort(c)
	}
	s.touch(c, e)
	mergedMessages.WithLabelValues(source, "inserted").Inc()
	return true
}

func (s *Store) resort(c *conversation) {
	sort.SliceStable(c.entries, func(i, j int) bool {
		return less(c.entries[i], c.entries[j])
	})
}

func (s *Store) touch(c *conversation, e *entry) {
	k := e.key()
	if c.conv.LastMessageAt == nil || k.After(*c.conv.LastMessageAt) {
		c.conv.LastMessageAt = &k
	}
}

// mergeMessage applies incoming over current. Content, metadata and
// attributes are last write wins. Delivery timestamps only move forward and
// delete flags never reset.
func mergeMessage(current, incoming models.Message) models.Message {
	out := incoming
	if out.SentAt == nil {
		out.SentAt = current.SentAt
	}
	if out.DeliveredAt == nil {
		out.DeliveredAt = current.DeliveredAt
	}
	if out.ReadAt == nil {
		out.ReadAt = current.ReadAt
	}
	out.IsDeleted = current.IsDeleted || incoming.IsDeleted
	out.IsDeletedByUser = current.IsDeletedByUser || incoming.IsDeletedByUser
	if out.CorrelationID == "" {
		out.CorrelationID = current.CorrelationID
	}
	out.NormalizeDelivery()
	return out
}

// AddPending registers an optimistic send. Pending sends keep issuance order.
func (s *Store) AddPending(p models.PendingSend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(p.ConversationID)
	if p.State == "" {
		p.State = models.PendingStateUploading
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.opts.Now()
	}
	c.pending = append(c.pending, p)
	s.changed(c)
}

// MarkPendingSent flags that the backend accepted the send and the
// confirmed message is awaited.
func (s *Store) MarkPendingSent(convID, tempID string) {
	s.updatePending(convID, tempID, func(p *models.PendingSend) {
		p.State = models.PendingStateSent
	})
}

func (s *Store) FailPending(convID, tempID string, cause error) {
	s.updatePending(convID, tempID, func(p *models.PendingSend) {
		p.State = models.PendingStateFailed
		if cause != nil {
			p.Error = models.UserMessage(cause)
		}
	})
}

func (s *Store) updatePending(convID, tempID string, fn func(p *models.PendingSend)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return
	}
	for i := range c.pending {
		if c.pending[i].TempID == tempID {
			fn(&c.pending[i])
			s.changed(c)
			return
		}
	}
}

// ResolvePending removes a pending send, usually done by merging the
// confirmed message carrying its correlation id.
func (s *Store) ResolvePending(convID, tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return
	}
	n := len(c.pending)
	c.pending = slices.DeleteFunc(c.pending, func(p models.PendingSend) bool { return p.TempID == tempID })
	if len(c.pending) != n {
		s.changed(c)
	}
}

func (s *Store) Pending(convID string) []models.PendingSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil
	}
	return slices.Clone(c.pending)
}

// MarkAsRead clears the unread counter. It reports whether anything changed.
func (s *Store) MarkAsRead(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok || c.conv.UnreadCount == 0 {
		return false
	}
	c.conv.UnreadCount = 0
	s.changed(c)
	return true
}

func (s *Store) Message(convID, msgID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(convID, msgID)
	if err != nil {
		return models.Message{}, err
	}
	return e.msg, nil
}

func (s *Store) lookup(convID, msgID string) (*entry, error) {
	c, ok := s.convs[convID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", convID, models.ErrNotFound)
	}
	e, ok := c.byID[msgID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
	}
	return e, nil
}

// ApplyStatus records a delivery status report for a known message. msgID may
// be the CRM id or the gateway id. The first report of each status wins.
func (s *Store) ApplyStatus(convID, msgID string, status models.DeliveryStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(convID, msgID)
	if err != nil {
		e = s.lookupGateway(convID, msgID)
		if e == nil {
			return err
		}
	}

	update := e.msg
	switch status {
	case models.DeliveryStatusSent:
		if update.SentAt != nil {
			return nil
		}
		update.SentAt = &at
	case models.DeliveryStatusDelivered:
		if update.DeliveredAt != nil {
			return nil
		}
		update.DeliveredAt = &at
	case models.DeliveryStatusRead:
		if update.ReadAt != nil {
			return nil
		}
		update.ReadAt = &at
	default:
		return fmt.Errorf("unsupported status %q", status)
	}

	before := e.key()
	e.msg = mergeMessage(e.msg, update)
	if !e.key().Equal(before) {
		s.resort(s.convs[convID])
	}
	mergedMessages.WithLabelValues("status", "updated").Inc()
	s.changed(s.convs[convID])
	return nil
}

func (s *Store) lookupGateway(convID, gatewayID string) *entry {
	c, ok := s.convs[convID]
	if !ok || gatewayID == "" {
		return nil
	}
	for _, e := range c.entries {
		if e.msg.GatewayMessageID() == gatewayID {
			return e
		}
	}
	return nil
}

// HideMessage hides a message for this agent only. Content is untouched.
func (s *Store) HideMessage(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(convID, msgID)
	if err != nil {
		return err
	}
	if !e.msg.IsDeletedByUser {
		e.msg.IsDeletedByUser = true
		s.changed(s.convs[convID])
	}
	return nil
}

// CheckDeleteForEveryone returns the message when it may still be revoked
// at now: it was sent by us, at most DeleteWindow ago, and the gateway knows it.
func (s *Store) CheckDeleteForEveryone(convID, msgID string, now time.Time) (models.Message, error) {
	const op = "delete_for_everyone"
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(convID, msgID)
	if err != nil {
		return models.Message{}, err
	}
	m := e.msg
	if m.IsFromContact {
		return models.Message{}, models.NewPreconditionError(op, "only messages sent by the team can be deleted for everyone")
	}
	if m.IsDeleted {
		return models.Message{}, models.NewPreconditionError(op, "message is already deleted")
	}
	ref := m.SentAt
	if ref == nil {
		ref = m.DeliveredAt
	}
	if ref == nil {
		return models.Message{}, models.NewPreconditionError(op, "message has not been sent yet")
	}
	if now.Sub(*ref) > s.opts.DeleteWindow {
		return models.Message{}, models.NewPreconditionError(op, fmt.Sprintf("messages can only be deleted within %s of sending", s.opts.DeleteWindow))
	}
	if m.GatewayMessageID() == "" {
		return models.Message{}, models.NewPreconditionError(op, "message has no gateway id")
	}
	return m, nil
}

// MarkDeleted applies a confirmed delete for everyone.
func (s *Store) MarkDeleted(convID, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(convID, msgID)
	if err != nil {
		return err
	}
	if !e.msg.IsDeleted {
		e.msg.IsDeleted = true
		s.changed(s.convs[convID])
	}
	return nil
}

func (s *Store) SetTyping(convID, userID string, typing bool) {
	if convID == "" || userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(convID)
	if c.typing[userID] == typing {
		return
	}
	if typing {
		c.typing[userID] = true
	} else {
		delete(c.typing, userID)
	}
	s.changed(c)
}

func (s *Store) SetPresence(userID, status string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = status
}

func (s *Store) Presence(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}

// Snapshot captures the reconciled messages of a conversation.
func (s *Store) Snapshot(convID string) (models.ConversationSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return models.ConversationSnapshot{}, false
	}
	return models.ConversationSnapshot{
		Conversation: c.conv,
		Messages:     messagesOf(c),
		SavedAt:      s.opts.Now(),
	}, true
}

// Restore merges a saved snapshot. Live data merged earlier wins on conflicts
// only through the usual monotonic rules, so restore is safe at any time.
func (s *Store) Restore(snap models.ConversationSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(snap.Conversation.ID)
	if c.version == 0 {
		c.conv = snap.Conversation
	}
	for _, m := range snap.Messages {
		if _, ok := c.byID[m.ID]; ok {
			continue
		}
		s.merge(c, m, "snapshot")
	}
	s.changed(c)
}

func messagesOf(c *conversation) []models.Message {
	out := make([]models.Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg
	}
	return out
}
