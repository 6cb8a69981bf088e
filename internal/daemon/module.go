package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/backend"
	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/config"
	"github.com/matheus3301/golaco/internal/connectivity"
	"github.com/matheus3301/golaco/internal/lock"
	"github.com/matheus3301/golaco/internal/logging"
	"github.com/matheus3301/golaco/internal/notify"
	"github.com/matheus3301/golaco/internal/outbox"
	"github.com/matheus3301/golaco/internal/presence"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/session"
	"github.com/matheus3301/golaco/internal/store"
	"github.com/matheus3301/golaco/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default

	// Config skips loading config.toml when set.
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAuth,
			provideBackend,
			provideLookup,
			provideMonitor,
			provideProber,
			provideRealtime,
			providePresence,
			provideTyping,
			notify.NewRouteTracker,
			provideListener,
			provideDispatcher,
			provideSyncer,
			provideOutboxService,
			providePresenceService,
			provideSessionService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		loaded, err := config.LoadOrDefault(session.ConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
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

// provideStore takes the lock so the queue is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.QueueDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	if n, err := db.PendingCount(); err == nil {
		logger.Info("store initialized", zap.String("path", dbPath), zap.Int("pending", n))
	}
	return db, nil
}

func provideAuth(cfg *config.Config, logger *zap.Logger) *auth.Store {
	s := auth.NewStore()
	if cfg.Auth.AccessToken == "" {
		logger.Info("no access token configured, waiting for SetSession")
		return s
	}
	id, err := s.Set(cfg.Auth.AccessToken)
	if err != nil {
		logger.Warn("configured access token rejected", zap.Error(err))
		return s
	}
	logger.Info("session restored", zap.String("user_id", id.UserID))
	return s
}

func provideBackend(lc fx.Lifecycle, cfg *config.Config, a *auth.Store, logger *zap.Logger) (backend.Backend, error) {
	if cfg.Backend.Mode != config.ModePostgres {
		logger.Info("using REST backend", zap.String("url", cfg.Backend.URL))
		return backend.NewREST(cfg.Backend.URL, cfg.Backend.AnonKey, a.Token, cfg.Backend.RequestTimeout.Duration), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.RequestTimeout.Duration)
	defer cancel()
	pg, err := backend.OpenPostgres(ctx, cfg.Backend.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres backend")
	lc.Append(fx.StopHook(pg.Close))
	return pg, nil
}

// provideLookup puts the profile cache in front of the backend for the
// notification dispatcher.
func provideLookup(lc fx.Lifecycle, cfg *config.Config, be backend.Backend, logger *zap.Logger) (notify.Lookup, error) {
	ttl := cfg.Cache.ProfileTTL.Duration
	if cfg.Cache.RedisURL == "" {
		return backend.WithProfileCache(be, backend.NewMemoryCache(ttl)), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.RequestTimeout.Duration)
	defer cancel()
	rc, err := backend.NewRedisCache(ctx, cfg.Cache.RedisURL, ttl)
	if err != nil {
		return nil, err
	}
	logger.Info("profile cache backed by redis")
	lc.Append(fx.StopHook(rc.Close))
	return backend.WithProfileCache(be, rc), nil
}

// provideMonitor starts offline; the first successful probe flips it.
func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(false, cfg.Connectivity.Debounce.Duration, b, logger)
}

func provideProber(be backend.Backend, m *connectivity.Monitor, cfg *config.Config, logger *zap.Logger) *connectivity.Prober {
	return connectivity.NewProber(be, m, cfg.Connectivity.ProbeInterval.Duration, cfg.Connectivity.ProbeTimeout.Duration, logger)
}

func provideRealtime(cfg *config.Config, a *auth.Store, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(realtime.Config{
		URL:                cfg.RealtimeURL(),
		APIKey:             cfg.Backend.AnonKey,
		Token:              a.Token,
		HeartbeatInterval:  cfg.Realtime.HeartbeatInterval.Duration,
		JoinTimeout:        cfg.Realtime.JoinTimeout.Duration,
		ReconnectBaseDelay: cfg.Realtime.ReconnectBaseDelay.Duration,
		ReconnectMaxDelay:  cfg.Realtime.ReconnectMaxDelay.Duration,
		Logger:             logger.Named("realtime"),
	})
}

func providePresence(rt *realtime.Client, b *bus.Bus, logger *zap.Logger) *presence.Aggregator {
	return presence.New(rt.Open, b, logger.Named("presence"))
}

func provideTyping(rt *realtime.Client, a *auth.Store, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *typing.Registry {
	identity := func() (typing.Self, bool) {
		id, ok := a.Current()
		return typing.Self{UserID: id.UserID, Username: id.Username}, ok
	}
	return typing.NewRegistry(rt.Open, identity, cfg.Typing.StaleAfter.Duration, b, logger.Named("typing"))
}

func provideListener(rt *realtime.Client, b *bus.Bus, logger *zap.Logger) *notify.Listener {
	open := func(name string, opts realtime.ChannelOptions) notify.ChangeChannel {
		return rt.Channel(name, opts)
	}
	return notify.NewListener(open, b, logger.Named("notify"))
}

func provideDispatcher(b *bus.Bus, lookup notify.Lookup, a *auth.Store, routes *notify.RouteTracker, cfg *config.Config, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(b, lookup, a.UserID, routes, notify.NewBusSurface(b), notify.Config{
		LookupTimeout: cfg.Notifications.LookupTimeout.Duration,
		RoutePrefix:   cfg.Notifications.RoutePrefix,
	}, logger.Named("notify"))
}

func provideSyncer(db *store.DB, be backend.Backend, a *auth.Store, m *connectivity.Monitor, b *bus.Bus, logger *zap.Logger) *outbox.Syncer {
	return outbox.NewSyncer(db, be, a, m, b, logger.Named("outbox"))
}

func provideOutboxService(s *outbox.Syncer, db *store.DB) *api.OutboxService {
	return api.NewOutboxService(s, db)
}

func providePresenceService(p *presence.Aggregator, t *typing.Registry, routes *notify.RouteTracker) *api.PresenceService {
	return api.NewPresenceService(p, t, routes)
}

func provideSessionService(p Params, a *auth.Store, m *connectivity.Monitor, rt *realtime.Client, b *bus.Bus) *api.SessionService {
	return api.NewSessionService(p.SessionName, a, m, rt, b)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	a *auth.Store,
	monitor *connectivity.Monitor,
	prober *connectivity.Prober,
	rt *realtime.Client,
	agg *presence.Aggregator,
	reg *typing.Registry,
	listener *notify.Listener,
	dispatcher *notify.Dispatcher,
	syncer *outbox.Syncer,
	logger *zap.Logger,
) {
	sessions := newSessionWatcher(a, rt, agg, reg, syncer, logger)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			prober.Start()
			rt.Start()
			listener.Start()
			sessions.start()
			dispatcher.Start(context.Background())
			syncer.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			syncer.Stop()
			dispatcher.Stop()
			sessions.stop()
			listener.Stop()
			if err := rt.Close(); err != nil {
				logger.Warn("error closing realtime client", zap.Error(err))
			}
			prober.Stop()
			monitor.Stop()
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
