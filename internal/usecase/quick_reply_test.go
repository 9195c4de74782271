package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

type quickReplyCRM struct {
	*fakeCRM
	calls int
	items []models.QuickReply
}

func (f *quickReplyCRM) ListQuickReplies(context.Context) ([]models.QuickReply, error) {
	f.calls++
	return f.items, nil
}

func TestQuickReplies(t *testing.T) {
	crm := &quickReplyCRM{fakeCRM: newFakeCRM(), items: []models.QuickReply{
		{ID: "1", Title: "Preço", Content: "R$ 10"},
		{ID: "2", Title: "Horário", Content: "9h", Category: "Suporte"},
	}}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := NewQuickReplies(crm).(*quickReplies)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := q.Search(ctx, "suporte")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	qr, err := q.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Preço", qr.Title)
	assert.Equal(t, 1, crm.calls)

	_, err = q.Get(ctx, "9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	now = now.Add(2 * time.Minute)
	_, err = q.Search(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, crm.calls)
}
