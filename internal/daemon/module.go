package daemon

import (
	"context"
	"time"

	"github.com/voxline/inboxd/internal/backend"
	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/config"
	"github.com/voxline/inboxd/internal/draft"
	"github.com/voxline/inboxd/internal/engine"
	"github.com/voxline/inboxd/internal/lock"
	"github.com/voxline/inboxd/internal/logging"
	"github.com/voxline/inboxd/internal/overrides"
	"github.com/voxline/inboxd/internal/session"
	"github.com/voxline/inboxd/internal/status"
	"github.com/voxline/inboxd/internal/store"
	"github.com/voxline/inboxd/internal/stream"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// draftDebounce delays the opportunistic draft flush after the last
// keystroke. Edge triggers (switching conversations, blur, teardown)
// flush regardless.
const draftDebounce = 2 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the sync daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideLocalDB,
			provideHiddenSet,
			provideStore,
			provideBackend,
			provideDrafts,
			provideStream,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("path", path),
		zap.Int("instances", len(cfg.Instances)))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideLocalDB(p Params, logger *zap.Logger) (*overrides.DB, error) {
	dbPath := session.LocalDBPath(p.SessionName)
	db, err := overrides.OpenDB(dbPath)
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
	logger.Info("local db initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHiddenSet(db *overrides.DB, logger *zap.Logger) (*overrides.Set, error) {
	return overrides.Load(db, logger)
}

func provideStore(logger *zap.Logger) *store.Store {
	return store.New(logger)
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.BackendURL, cfg.Token, logger)
}

func provideDrafts(client *backend.Client, b *bus.Bus, logger *zap.Logger) *draft.Manager {
	return draft.NewManager(client, b, logger, draftDebounce)
}

func provideStream(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *stream.Client {
	return stream.New(cfg.PushURL, cfg.Token, b, m, logger)
}

func provideEngine(st *store.Store, drafts *draft.Manager, hidden *overrides.Set, client *backend.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *engine.Engine {
	return engine.New(st, drafts, hidden, client, b, logger, cfg.RefreshInterval())
}

func registerLifecycle(lc fx.Lifecycle, e *engine.Engine, sc *stream.Client, drafts *draft.Manager, db *overrides.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first so the initial burst of push events has a consumer.
			e.Start(context.Background())
			sc.Start(context.Background())

			// Initial snapshot in the background; the daemon serves
			// its (empty) view immediately and fills in as rows land.
			go e.Refresh(context.Background())

			return nil
		},
		OnStop: func(ctx context.Context) error {
			flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			drafts.FlushAll(flushCtx)
			cancel()

			sc.Close()
			e.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing local db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
