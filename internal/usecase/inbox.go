package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/crmapi"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

// Rooms is the realtime room membership used by the session.
type Rooms interface {
	JoinConversation(id string)
	LeaveConversation(id string)
}

// SnapshotRepository persists reconciled conversations. Optional.
type SnapshotRepository interface {
	Save(ctx context.Context, snap models.ConversationSnapshot) error
	Get(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error)
}

type Inbox interface {
	Open(ctx context.Context, conversationID string) (store.View, error)
	Switch(ctx context.Context, conversationID string) (store.View, error)
	Refetch(ctx context.Context, conversationIDs []string) error
	MarkAsRead(ctx context.Context, conversationID string) bool
	Active() string
	Close(ctx context.Context) error
}

type inbox struct {
	crm         crmapi.Client
	store       *store.Store
	rooms       Rooms
	typing      *Typing
	snapshots   SnapshotRepository
	pageSize    int
	parallelism int

	mu     sync.Mutex
	active string
	opened map[string]bool
}

func NewInbox(conf *config.Config, crm crmapi.Client, st *store.Store, rooms Rooms, typing *Typing, snapshots SnapshotRepository) Inbox {
	pageSize := conf.CRM.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	parallelism := conf.Realtime.RefetchParallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &inbox{
		crm:         crm,
		store:       st,
		rooms:       rooms,
		typing:      typing,
		snapshots:   snapshots,
		pageSize:    pageSize,
		parallelism: parallelism,
		opened:      make(map[string]bool),
	}
}

// Open joins the room and loads the latest page. When the CRM is unreachable
// a saved snapshot is used instead.
func (i *inbox) Open(ctx context.Context, conversationID string) (store.View, error) {
	if conversationID == "" {
		return store.View{}, models.NewPreconditionError("open_conversation", "conversation is missing")
	}
	ctx = log.WithValues(ctx, "conversation_id", conversationID)
	i.rooms.JoinConversation(conversationID)

	i.mu.Lock()
	i.active = conversationID
	i.opened[conversationID] = true
	i.mu.Unlock()

	if err := i.load(ctx, conversationID); err != nil {
		if !i.restore(ctx, conversationID) {
			return store.View{}, fmt.Errorf("open conversation: %w", err)
		}
		log.Warnw(ctx, "crm unavailable, using snapshot", "error", err)
	}

	v, _ := i.store.View(conversationID)
	return v, nil
}

func (i *inbox) load(ctx context.Context, conversationID string) error {
	conv, err := i.crm.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	i.store.UpsertConversation(*conv)
	return i.fetchPage(ctx, conversationID)
}

func (i *inbox) fetchPage(ctx context.Context, conversationID string) error {
	msgs, err := i.crm.ListMessages(ctx, conversationID, i.pageSize)
	if err != nil {
		return err
	}
	i.store.MergePage(conversationID, msgs)
	return nil
}

func (i *inbox) restore(ctx context.Context, conversationID string) bool {
	if i.snapshots == nil {
		return false
	}
	snap, err := i.snapshots.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Warnw(ctx, "load snapshot failed", "error", err)
		}
		return false
	}
	i.store.Restore(*snap)
	return true
}

// Switch stops typing in the current conversation, leaves it and opens the next.
func (i *inbox) Switch(ctx context.Context, conversationID string) (store.View, error) {
	i.mu.Lock()
	prev := i.active
	i.mu.Unlock()

	if prev == conversationID {
		return i.Open(ctx, conversationID)
	}
	i.typing.Stop()
	if prev != "" {
		i.rooms.LeaveConversation(prev)
		i.save(ctx, prev)
		i.mu.Lock()
		delete(i.opened, prev)
		i.mu.Unlock()
	}
	return i.Open(ctx, conversationID)
}

// Refetch reloads the latest page of each conversation concurrently.
func (i *inbox) Refetch(ctx context.Context, conversationIDs []string) error {
	var g errgroup.Group
	g.SetLimit(i.parallelism)
	for _, id := range conversationIDs {
		g.Go(func() error {
			if err := i.fetchPage(ctx, id); err != nil {
				return fmt.Errorf("refetch %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (i *inbox) MarkAsRead(ctx context.Context, conversationID string) bool {
	changed := i.store.MarkAsRead(conversationID)
	if changed {
		log.Debugw(ctx, "conversation marked as read", "conversation_id", conversationID)
	}
	return changed
}

func (i *inbox) Active() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Close stops typing, leaves every room and saves snapshots.
func (i *inbox) Close(ctx context.Context) error {
	i.typing.Stop()

	i.mu.Lock()
	ids := make([]string, 0, len(i.opened))
	for id := range i.opened {
		ids = append(ids, id)
	}
	i.opened = make(map[string]bool)
	i.active = ""
	i.mu.Unlock()

	for _, id := range ids {
		i.rooms.LeaveConversation(id)
		i.save(ctx, id)
	}
	return nil
}

func (i *inbox) save(ctx context.Context, conversationID string) {
	if i.snapshots == nil {
		return
	}
	snap, ok := i.store.Snapshot(conversationID)
	if !ok {
		return
	}
	if err := i.snapshots.Save(ctx, snap); err != nil {
		log.Warnw(ctx, "save snapshot failed", "conversation_id", conversationID, "error", err)
	}
}
