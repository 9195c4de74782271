package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/realtime"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/crmapi"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/gateway"
	"github.com/nguyentranbao-ct/omni-inbox/internal/server"
	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	"github.com/nguyentranbao-ct/omni-inbox/internal/usecase"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newConfig,
			newStore,
			newRealtimeClient,
			newTyping,
			newSnapshotRepository,

			crmapi.NewClient,
			gateway.NewAdapter,

			usecase.NewComposer,
			usecase.NewQuickReplies,
			newInbox,

			server.NewHandler,
			server.NewStreamHandler,
		),
		fx.Invoke(StartRealtime),
		fx.Invoke(funcs...),
	)
}

func newConfig() (*config.Config, error) {
	conf, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.MustNamed("app").Debugw("config loaded",
		"server", conf.Server.Addr(),
		"crm", conf.CRM.BaseURL,
		"gateway", conf.Gateway.BaseURL,
		"realtime", conf.Realtime.URL,
		"database", conf.Database.Enabled,
		"kafka", conf.Kafka.Enabled,
	)
	return conf, nil
}

func newStore(conf *config.Config) *store.Store {
	return store.New(store.Options{DeleteWindow: conf.Composer.DeleteWindow})
}

func newRealtimeClient(conf *config.Config, st *store.Store) *realtime.Client {
	return realtime.NewClient(conf, st)
}

func newTyping(conf *config.Config, rt *realtime.Client) *usecase.Typing {
	return usecase.NewTyping(rt, conf.Composer.TypingIdle)
}

func newInbox(
	conf *config.Config,
	crm crmapi.Client,
	st *store.Store,
	rt *realtime.Client,
	typing *usecase.Typing,
	snapshots usecase.SnapshotRepository,
) usecase.Inbox {
	return usecase.NewInbox(conf, crm, st, rt, typing, snapshots)
}

// StartRealtime keeps the push connection up while the app runs. On stop the
// session leaves its rooms and saves snapshots before the socket closes.
func StartRealtime(lc fx.Lifecycle, rt *realtime.Client, inbox usecase.Inbox) {
	rt.SetRefetcher(inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = rt.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			err := inbox.Close(stopCtx)
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return err
		},
	})
}
