package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
)

// DB is the snapshot database. Snapshots are small and written on session
// close, so the pool stays small.
type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewConnection(ctx context.Context, conf config.DatabaseConfig) (*DB, error) {
	if conf.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	opts := options.Client().
		ApplyURI(conf.URI).
		SetAppName("omni-inbox").
		SetMaxPoolSize(4).
		SetMaxConnIdleTime(time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &DB{Client: client, Database: client.Database(conf.Database)}, nil
}

func (db *DB) Close(ctx context.Context) error {
	return db.Client.Disconnect(ctx)
}
