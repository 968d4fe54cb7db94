// Package daemon composes the sync engine's components into a running
// process.
package daemon

import (
	"context"

	"github.com/paychat-app/paychat/internal/api"
	"github.com/paychat-app/paychat/internal/bus"
	"github.com/paychat-app/paychat/internal/config"
	"github.com/paychat-app/paychat/internal/delivery"
	"github.com/paychat-app/paychat/internal/live"
	"github.com/paychat-app/paychat/internal/lock"
	"github.com/paychat-app/paychat/internal/logging"
	"github.com/paychat-app/paychat/internal/opqueue"
	"github.com/paychat-app/paychat/internal/profile"
	"github.com/paychat-app/paychat/internal/push"
	"github.com/paychat-app/paychat/internal/remote"
	"github.com/paychat-app/paychat/internal/sender"
	intsync "github.com/paychat-app/paychat/internal/sync"
	"github.com/paychat-app/paychat/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx
// module.
type Params struct {
	ProfileName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideDB,
			provideStore,
			provideClient,
			provideListener,
			provideProjections,
			provideTracker,
			provideUpdater,
			providePuller,
			provideSender,
			provideDrainer,
			provideCoordinator,
			provideTimelineService,
			provideTransactionService,
			provideOperationService,
			provideProfileService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideDB(p Params, logger *zap.Logger) (*timeline.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := timeline.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *timeline.DB, b *bus.Bus, logger *zap.Logger) *timeline.Store {
	return timeline.NewStore(db, b, logger)
}

func provideClient(p Params) *remote.Client {
	return remote.New(p.Config.Server.BaseURL, p.Config.Server.Token)
}

func provideListener(p Params, b *bus.Bus, logger *zap.Logger) *push.Listener {
	return push.NewListener(p.Config.Server.PushURL, p.Config.Server.Token, b, logger)
}

func provideProjections(p Params) *live.Projections {
	return live.NewProjections(p.Config.Sync.WindowSize)
}

func provideTracker(p Params, s *timeline.Store, client *remote.Client, logger *zap.Logger) *delivery.Tracker {
	return delivery.NewTracker(s, client, p.Config.Debounce(), logger)
}

func provideUpdater(s *timeline.Store, proj *live.Projections, b *bus.Bus, tracker *delivery.Tracker, logger *zap.Logger) *live.Updater {
	return live.NewUpdater(s, proj, b, tracker, logger)
}

func providePuller(p Params, s *timeline.Store, client *remote.Client, b *bus.Bus, logger *zap.Logger) *intsync.Puller {
	return intsync.NewPuller(s, client, b, logger, p.Config.Interval(), p.Config.Sync.PageLimit)
}

func provideSender(p Params, s *timeline.Store, client *remote.Client, logger *zap.Logger) *sender.Sender {
	return sender.New(s, client, p.Config.Sync.MaxRetries, logger)
}

func provideDrainer(s *timeline.Store, client *remote.Client, logger *zap.Logger) *opqueue.Drainer {
	return opqueue.New(s, client, logger)
}

func provideCoordinator(b *bus.Bus, s *timeline.Store, logger *zap.Logger,
	puller *intsync.Puller, upd *live.Updater, tracker *delivery.Tracker,
	snd *sender.Sender, drainer *opqueue.Drainer) *profile.Coordinator {
	c := profile.NewCoordinator(b, s, logger)
	c.Register(puller, upd, tracker, snd, drainer)
	return c
}

func provideTimelineService(s *timeline.Store, proj *live.Projections, tracker *delivery.Tracker, puller *intsync.Puller, coord *profile.Coordinator) *api.TimelineService {
	return api.NewTimelineService(s, proj, tracker, puller, coord.Current)
}

func provideTransactionService(s *timeline.Store, coord *profile.Coordinator) *api.TransactionService {
	return api.NewTransactionService(s, coord.Current)
}

func provideOperationService(s *timeline.Store, coord *profile.Coordinator) *api.OperationService {
	return api.NewOperationService(s, coord.Current)
}

func provideProfileService(coord *profile.Coordinator) *api.ProfileService {
	return api.NewProfileService(coord)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *timeline.DB,
	listener *push.Listener, upd *live.Updater, puller *intsync.Puller,
	snd *sender.Sender, drainer *opqueue.Drainer, tracker *delivery.Tracker,
	coord *profile.Coordinator, logger *zap.Logger,
	_ *api.TimelineService, _ *api.TransactionService, _ *api.OperationService, _ *api.ProfileService) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := coord.Activate(p.ProfileName); err != nil {
				return err
			}

			// Updater first so nothing pushed is dropped, then the
			// transports and drain loops.
			upd.Start(context.Background())
			listener.Start(context.Background())
			puller.Start(context.Background())
			snd.Start(context.Background())
			drainer.Start(context.Background())

			logger.Info("daemon started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			drainer.Stop()
			snd.Stop()
			puller.Stop()
			listener.Stop()
			upd.Stop()
			tracker.Flush(ctx)
			tracker.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
