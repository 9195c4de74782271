package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

type ConversationSnapshotRepository interface {
	Save(ctx context.Context, snap models.ConversationSnapshot) error
	Get(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error)
	EnsureIndexes(ctx context.Context) error
	Prune(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type snapshotDoc struct {
	ID           string              `bson:"_id"`
	Conversation models.Conversation `bson:"conversation"`
	Messages     []messageDoc        `bson:"messages"`
	SavedAt      time.Time           `bson:"saved_at"`
}

func (snapshotDoc) CollectionName() string { return "conversation_snapshots" }

func (d snapshotDoc) GetID() string { return d.ID }

// messageDoc stores the typed metadata as the flat bag the CRM uses.
type messageDoc struct {
	models.Message `bson:",inline"`
	Metadata       map[string]any `bson:"metadata,omitempty"`
}

type conversationSnapshotRepo struct {
	baseRepo[snapshotDoc]
}

func NewConversationSnapshotRepository(db *DB) ConversationSnapshotRepository {
	return &conversationSnapshotRepo{
		baseRepo: newBaseRepo[snapshotDoc](db.Database),
	}
}

func (r *conversationSnapshotRepo) Save(ctx context.Context, snap models.ConversationSnapshot) error {
	if snap.Conversation.ID == "" {
		return fmt.Errorf("snapshot without conversation id")
	}
	if err := r.ReplaceByID(ctx, toSnapshotDoc(snap)); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Conversation.ID, err)
	}
	return nil
}

func (r *conversationSnapshotRepo) Get(ctx context.Context, conversationID string) (*models.ConversationSnapshot, error) {
	doc, err := r.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	snap := fromSnapshotDoc(*doc)
	return &snap, nil
}

// EnsureIndexes creates the saved_at index Prune scans.
func (r *conversationSnapshotRepo) EnsureIndexes(ctx context.Context) error {
	return r.baseRepo.EnsureIndexes(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "saved_at", Value: 1}},
		Options: options.Index().SetName("saved_at_1"),
	})
}

func (r *conversationSnapshotRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	return r.DeleteMany(ctx, bson.M{"saved_at": bson.M{"$lt": before}})
}

func (r *conversationSnapshotRepo) Count(ctx context.Context) (int64, error) {
	return r.baseRepo.Count(ctx, bson.M{})
}

func toSnapshotDoc(snap models.ConversationSnapshot) snapshotDoc {
	msgs := make([]messageDoc, len(snap.Messages))
	for i, m := range snap.Messages {
		msgs[i] = messageDoc{Message: m, Metadata: m.Metadata.Flatten()}
	}
	return snapshotDoc{
		ID:           snap.Conversation.ID,
		Conversation: snap.Conversation,
		Messages:     msgs,
		SavedAt:      snap.SavedAt,
	}
}

func fromSnapshotDoc(doc snapshotDoc) models.ConversationSnapshot {
	msgs := make([]models.Message, len(doc.Messages))
	for i, d := range doc.Messages {
		m := d.Message
		bag, _ := plain(d.Metadata).(map[string]any)
		m.Metadata = models.DecodeMetadata(m.MessageType, bag)
		msgs[i] = m
	}
	return models.ConversationSnapshot{
		Conversation: doc.Conversation,
		Messages:     msgs,
		SavedAt:      doc.SavedAt,
	}
}

// plain turns the driver's decoded document types back into maps and slices.
func plain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.M:
		return plain(map[string]any(x))
	case primitive.D:
		return plain(map[string]any(x.Map()))
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
