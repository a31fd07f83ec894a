package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/gigline/internal/api"
	"github.com/matheus3301/gigline/internal/auth"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/chat"
	"github.com/matheus3301/gigline/internal/config"
	"github.com/matheus3301/gigline/internal/history"
	"github.com/matheus3301/gigline/internal/lock"
	"github.com/matheus3301/gigline/internal/logging"
	"github.com/matheus3301/gigline/internal/presence"
	"github.com/matheus3301/gigline/internal/profile"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/store"
	intsync "github.com/matheus3301/gigline/internal/sync"
	"github.com/matheus3301/gigline/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	// Dialer replaces the websocket dialer, for tests.
	Dialer transport.Dialer
	// Logger replaces the file logger, for tests.
	Logger *zap.Logger
}

// Providers supplies every component of the agent without lifecycle hooks.
func Providers(p Params) fx.Option {
	return fx.Options(
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokens,
			provideTransport,
			provideHistory,
			provideChatManager,
			providePresence,
			provideCacheEngine,
			provideAgentService,
			NewHealthReporter,
			NewServer,
		),
	)
}

// Module returns the fx module for the agent, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		Providers(p),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so a second agent never opens the cache.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	path := profile.CacheDBPath(p.Profile)
	db, result, err := store.OpenAndMigrate(path)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", path))
	return db, nil
}

func provideTokens(p Params) *auth.FileSource {
	return auth.NewFileSource(profile.TokenPath(p.Profile))
}

func provideTransport(p Params, cfg *config.Config, tokens *auth.FileSource, m *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Transport {
	t := cfg.Transport
	return transport.New(transport.Options{
		URL:                  cfg.Server.SocketURL,
		Tokens:               tokens,
		Dialer:               p.Dialer,
		ReconnectBaseDelay:   t.ReconnectBaseDelay.Duration,
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		RequestTimeout:       t.RequestTimeout.Duration,
		PingPeriod:           t.PingPeriod.Duration,
		PongWait:             t.PongWait.Duration,
		WriteWait:            t.WriteWait.Duration,
	}, m, b, logger)
}

type historyResult struct {
	fx.Out

	Source   chat.HistorySource
	Uploader chat.Uploader
}

// provideHistory uses the REST endpoint when one is configured and the local
// cache otherwise. Media uploads need the endpoint.
func provideHistory(cfg *config.Config, tokens *auth.FileSource, db *store.DB, logger *zap.Logger) (historyResult, error) {
	if cfg.Server.HistoryURL == "" {
		logger.Info("no history url configured, serving history from the cache")
		return historyResult{Source: db}, nil
	}
	c, err := history.New(cfg.Server.HistoryURL, tokens, history.WithLogger(logger.Named("history")))
	if err != nil {
		return historyResult{}, err
	}
	return historyResult{Source: c, Uploader: c}, nil
}

func provideChatManager(cfg *config.Config, tokens *auth.FileSource, tr *transport.Transport, hs chat.HistorySource, up chat.Uploader, b *bus.Bus, logger *zap.Logger) *chat.Manager {
	selfID := cfg.UserID
	if selfID == "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sub, err := tokens.Subject(ctx)
		if err != nil {
			logger.Warn("user id unknown, own messages will not be recognised", zap.Error(err))
		}
		selfID = sub
	}
	return chat.NewManager(tr, hs, up, b, logger.Named("chat"), chat.Options{
		SelfID:   selfID,
		PageSize: cfg.Chat.PageSize,
	})
}

func providePresence(cfg *config.Config, tr *transport.Transport, b *bus.Bus, logger *zap.Logger) *presence.Controller {
	pc := cfg.Presence
	return presence.NewController(tr, b, logger.Named("presence"), presence.Options{
		HeartbeatInterval:   pc.HeartbeatInterval.Duration,
		ActivityMinInterval: pc.ActivityMinInterval.Duration,
		TypingIdle:          pc.TypingIdle.Duration,
	})
}

func provideCacheEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("cache"))
}

func provideAgentService(p Params, cfg *config.Config, tr *transport.Transport, m *status.Machine, mgr *chat.Manager, ctl *presence.Controller, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.AgentService {
	return api.NewAgentService(api.Deps{
		Profile:  p.Profile,
		PageSize: cfg.Chat.PageSize,
		Conn:     tr,
		Machine:  m,
		Chats:    mgr,
		Presence: ctl,
		DB:       db,
		Bus:      b,
		Logger:   logger.Named("api"),
	})
}

type lifecycleParams struct {
	fx.In

	Config   *config.Config
	Server   *Server
	Health   *HealthReporter
	Lock     *lock.Lock
	DB       *store.DB
	Engine   *intsync.Engine
	Chats    *chat.Manager
	Presence *presence.Controller
	Conn     *transport.Transport
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	var watchers []*presence.Watcher

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			lp.Engine.Start(ctx)
			lp.Health.Start(ctx)
			lp.Chats.Start(ctx)
			lp.Presence.Start(ctx)

			go func() {
				if err := lp.Conn.Connect(ctx); err != nil && ctx.Err() == nil {
					lp.Logger.Error("connect failed", zap.Error(err))
				}
			}()

			for _, id := range lp.Config.Presence.Watch {
				watchers = append(watchers, lp.Presence.Watch(ctx, id, presence.WatchOptions{}))
			}
			if len(watchers) > 0 {
				lp.Logger.Info("watching users", zap.Strings("user_ids", lp.Config.Presence.Watch))
			}

			go func() {
				if err := lp.Server.Start(); err != nil {
					lp.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			lp.Server.Stop(stopCtx)
			for _, w := range watchers {
				w.Close()
			}
			lp.Chats.Stop()
			lp.Presence.Stop()
			lp.Conn.Disconnect()
			cancel()
			lp.Health.Stop()
			lp.Engine.Stop()
			if err := lp.DB.Close(); err != nil {
				lp.Logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				lp.Logger.Warn("error releasing lock", zap.Error(err))
			}
			lp.Logger.Info("agent stopped")
			return nil
		},
	})
}
