package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/quickreply"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/crmapi"
)

const quickReplyTTL = time.Minute

type QuickReplies interface {
	Search(ctx context.Context, term string) ([]models.QuickReply, error)
	Get(ctx context.Context, id string) (models.QuickReply, error)
}

type quickReplies struct {
	crm    crmapi.Client
	flight singleflight.Group
	now    func() time.Time

	mu        sync.Mutex
	items     []models.QuickReply
	fetchedAt time.Time
}

func NewQuickReplies(crm crmapi.Client) QuickReplies {
	return &quickReplies{crm: crm, now: time.Now}
}

func (q *quickReplies) list(ctx context.Context) ([]models.QuickReply, error) {
	q.mu.Lock()
	if q.items != nil && q.now().Sub(q.fetchedAt) < quickReplyTTL {
		items := q.items
		q.mu.Unlock()
		return items, nil
	}
	q.mu.Unlock()

	v, err, _ := q.flight.Do("all", func() (any, error) {
		items, err := q.crm.ListQuickReplies(ctx)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []models.QuickReply{}
		}
		q.mu.Lock()
		q.items = items
		q.fetchedAt = q.now()
		q.mu.Unlock()
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list quick replies: %w", err)
	}
	return v.([]models.QuickReply), nil
}

func (q *quickReplies) Search(ctx context.Context, term string) ([]models.QuickReply, error) {
	items, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	return quickreply.Filter(items, term), nil
}

func (q *quickReplies) Get(ctx context.Context, id string) (models.QuickReply, error) {
	items, err := q.list(ctx)
	if err != nil {
		return models.QuickReply{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return models.QuickReply{}, fmt.Errorf("quick reply %s: %w", id, models.ErrNotFound)
}
