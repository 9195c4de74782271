package kafka

import (
	"context"

	"go.uber.org/fx"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

// StartConsumeMessages runs the gateway webhook feed for the lifetime of the
// app. A consumer that dies on its own shuts the app down.
func StartConsumeMessages(
	sd fx.Shutdowner,
	lc fx.Lifecycle,
	conf *config.Config,
	st *store.Store,
) error {
	if !conf.Kafka.Enabled {
		log.Warnf(context.Background(), "Kafka consumer is disabled in configuration")
		return nil
	}

	consumer, err := NewConsumer(&conf.Kafka, NewWebhookHandler(st))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := consumer.Start(ctx); err != nil {
					log.Errorw(ctx, "Kafka consumer stopped", "error", err)
				}
				if ctx.Err() == nil {
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			err := consumer.Stop(stopCtx)
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return err
		},
	})
	return nil
}
