package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/taptoon/taptoon-fe/internal/api"
	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chat"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/config"
	"github.com/taptoon/taptoon-fe/internal/identity"
	"github.com/taptoon/taptoon-fe/internal/lock"
	"github.com/taptoon/taptoon-fe/internal/logging"
	"github.com/taptoon/taptoon-fe/internal/profile"
	"github.com/taptoon/taptoon-fe/internal/rest"
	"github.com/taptoon/taptoon-fe/internal/rooms"
	"github.com/taptoon/taptoon-fe/internal/socket"
	"github.com/taptoon/taptoon-fe/internal/store"
	intsync "github.com/taptoon/taptoon-fe/internal/sync"
	"github.com/taptoon/taptoon-fe/internal/upload"
	"github.com/taptoon/taptoon-fe/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideIdentity,
			provideStore,
			provideRESTClient,
			provideAggregator,
			provideSyncEngine,
			provideDialer,
			provideNotifications,
			provideHub,
			provideForms,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.Debug)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	path := profile.ConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("path", path),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("ws_base_url", cfg.WSBaseURL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.LockPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideIdentity(p Params, logger *zap.Logger) (identity.Identity, error) {
	id, err := profile.LoadIdentity(p.ProfileName)
	if err != nil {
		return identity.Identity{}, err
	}
	logger.Info("identity loaded", zap.String("user_id", id.UserID))
	return id, nil
}

// provideStore opens the cache. It depends on the lock so two daemons never
// migrate the same file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	schema, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if schema.Changed() {
		logger.Info("cache schema migrated", zap.Uint("from", schema.From), zap.Uint("to", schema.To))
	}
	logger.Info("cache opened", zap.String("path", dbPath), zap.Uint("schema", schema.To))
	return db, nil
}

func provideRESTClient(cfg *config.Config, id identity.Identity, logger *zap.Logger) *rest.Client {
	return rest.New(rest.Options{
		BaseURL: cfg.APIBaseURL,
		UploadDirectories: map[string]string{
			string(upload.ScopePost):      cfg.Attachments.PostDirectory,
			string(upload.ScopePortfolio): cfg.Attachments.PortfolioDirectory,
		},
		ImageFileType: cfg.Attachments.ImageFileType,
	}, id, logger.Named("rest"))
}

func provideAggregator(client *rest.Client, b *bus.Bus, logger *zap.Logger) *rooms.Aggregator {
	return rooms.NewAggregator(client, b, logger.Named("rooms"))
}

func provideSyncEngine(db *store.DB, agg *rooms.Aggregator, id identity.Identity, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	n := wire.NewNormalizer(id.UserID, "notifications", logger)
	return intsync.NewEngine(db, agg, n, b, logger.Named("sync"))
}

func provideDialer() socket.Dialer {
	return socket.NewWebsocketDialer(10 * time.Second)
}

func policy(cfg *config.Config) socket.Policy {
	return socket.Policy{
		BaseDelay:  time.Duration(cfg.Reconnect.BaseDelay),
		CapDelay:   time.Duration(cfg.Reconnect.CapDelay),
		MaxRetries: cfg.Reconnect.MaxRetries,
	}
}

func provideNotifications(cfg *config.Config, engine *intsync.Engine, dialer socket.Dialer, b *bus.Bus, logger *zap.Logger) *socket.Manager {
	return socket.NewManager(socket.Notifications(cfg.WSBaseURL), engine.HandleNotification, socket.Options{
		Policy: policy(cfg),
		Dialer: dialer,
		Bus:    b,
	}, logger)
}

func limits(cfg *config.Config) upload.Limits {
	return upload.Limits{
		Chat:      cfg.Attachments.ChatLimit,
		Post:      cfg.Attachments.PostLimit,
		Portfolio: cfg.Attachments.PortfolioLimit,
	}
}

func provideForms(cfg *config.Config, client *rest.Client, b *bus.Bus, logger *zap.Logger) *upload.Forms {
	return upload.NewForms(limits(cfg), client, b, logger.Named("forms"))
}

func provideHub(cfg *config.Config, id identity.Identity, client *rest.Client, agg *rooms.Aggregator, dialer socket.Dialer, b *bus.Bus, logger *zap.Logger) *chat.Hub {
	return chat.NewHub(id, client, agg, chat.Options{
		WSBase:    cfg.WSBaseURL,
		Policy:    policy(cfg),
		ChatLimit: limits(cfg).For(upload.ScopeChat),
		Dialer:    dialer,
	}, b, logger)
}

func provideService(p Params, id identity.Identity, agg *rooms.Aggregator, hub *chat.Hub, forms *upload.Forms, engine *intsync.Engine, notifications *socket.Manager, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		Profile:       p.ProfileName,
		Identity:      id,
		Rooms:         agg,
		Hub:           hub,
		Engine:        engine,
		Notifications: notifications,
		Forms:         forms,
		Bus:           b,
		Logger:        logger.Named("api"),
	})
}

// lifecycleParams are built in field order: the lock is held before the
// socket file is touched.
type lifecycleParams struct {
	fx.In

	Lock          *lock.Lock
	Identity      identity.Identity
	DB            *store.DB
	Engine        *intsync.Engine
	Rooms         *rooms.Aggregator
	Notifications *socket.Manager
	Hub           *chat.Hub
	Server        *Server
	Metrics       *MetricsServer
	Logger        *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	// bg outlives OnStart; it is cancelled on stop.
	bg, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := p.Metrics.Start(); err != nil {
				return err
			}

			if n, err := p.Engine.WarmStart(p.Identity.UserID); err != nil {
				logger.Warn("warm start from cache failed", zap.Error(err))
			} else {
				logger.Info("room list seeded from cache", zap.Int("rooms", n))
			}

			// Start sync engine (mirrors room.* and rooms.* into the cache).
			p.Engine.Start(bg)

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := p.Notifications.Connect(bg, p.Identity); err != nil {
				var authErr *chaterr.AuthRequiredError
				if errors.As(err, &authErr) {
					logger.Error("credential rejected, run chatctl login", zap.Error(err))
				} else {
					logger.Warn("notification socket not open yet", zap.Error(err))
				}
			}

			go func() {
				if err := p.Rooms.Refresh(bg); err != nil {
					logger.Warn("initial room refresh failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			p.Hub.CloseAll()
			p.Notifications.Disconnect()
			p.Notifications.Wait()
			p.Engine.Stop()
			p.Server.Stop(ctx)
			p.Metrics.Stop(ctx)
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
