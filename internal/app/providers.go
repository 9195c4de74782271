package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/omni-inbox/internal/usecase"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

// newSnapshotRepository returns nil when the database is disabled, which
// turns snapshots off.
func newSnapshotRepository(lc fx.Lifecycle, cfg *config.Config) (usecase.SnapshotRepository, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := mongodb.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init mongo: %w", err)
	}
	repo := mongodb.NewConversationSnapshotRepository(db)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.EnsureIndexes(ctx); err != nil {
				return err
			}
			if cfg.Database.SnapshotRetention > 0 {
				pruned, err := repo.Prune(ctx, time.Now().Add(-cfg.Database.SnapshotRetention))
				if err != nil {
					return fmt.Errorf("prune snapshots: %w", err)
				}
				kept, err := repo.Count(ctx)
				if err != nil {
					return fmt.Errorf("count snapshots: %w", err)
				}
				log.Infow(ctx, "snapshots ready", "pruned", pruned, "kept", kept)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return db.Close(ctx)
		},
	})
	return repo, nil
}
