package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studysync/internal/api"
	"studysync/internal/auth"
	"studysync/internal/config"
	"studysync/internal/database"
	"studysync/internal/fanout"
	"studysync/internal/hub"
	"studysync/internal/metrics"
	"studysync/internal/passage"
	"studysync/internal/presence"
	"studysync/internal/router"
	"studysync/internal/session"
	"studysync/internal/validation"
	"studysync/internal/websocket"
	"studysync/pkg/interfaces"
)

const limiterCleanupInterval = 5 * time.Minute

// Application owns every component and their lifecycle.
// Initialization order: store -> passages -> sessions -> hub -> router ->
// gateway -> API -> HTTP. Shutdown runs in reverse.
type Application struct {
	config      *config.Config
	logger      *zap.Logger
	store       interfaces.StudyStore
	redis       *redis.Client
	metrics     *metrics.Metrics
	sessions    *session.Manager
	rooms       *hub.Registry
	connections *websocket.Registry
	router      *router.Router
	apiServer   *api.Server
	httpServer  *http.Server
}

func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize verifier: %w", err)
	}

	store, err := database.Open(cfg.Database, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize study store: %w", err)
	}

	a := &Application{
		config:      cfg,
		logger:      logger,
		store:       store,
		metrics:     metrics.New(),
		connections: websocket.NewRegistry(),
	}

	cache, err := a.passageCache()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	passages := passage.NewClient(passage.Options{
		BaseURL:  cfg.Passage.BaseURL,
		Timeout:  cfg.Passage.Timeout,
		Cache:    cache,
		Observer: a.metrics,
		Logger:   logger.Named("passage"),
	})

	a.sessions = session.NewManager(store, passages, logger.Named("session"))

	fan := fanout.New(logger.Named("fanout"), a.metrics)
	validator := validation.New()
	a.rooms = hub.NewRegistry(hub.Deps{
		Loader:    a.sessions,
		Store:     a.sessions,
		Fanout:    fan,
		Presence:  presence.NewTracker(fan, logger.Named("presence")),
		Validator: validator,
		Observer:  a.metrics,
		Logger:    logger.Named("hub"),
	})

	a.router = router.NewRouter(a.rooms, router.Options{
		Passages:  passages,
		Validator: validator,
		Limiter:   router.NewRateLimiter(cfg.WebSocket.RateLimitPerMinute),
		Fanout:    fan,
		Logger:    logger.Named("router"),
	})

	ws := websocket.NewHandler(websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, verifier, a.router, a.connections, a.metrics, logger.Named("websocket"))

	a.apiServer = api.NewServer(api.Deps{
		Studies:     a.sessions,
		Rooms:       a.rooms,
		Connections: a.connections,
		Store:       store,
		Verifier:    verifier,
		WebSocket:   ws.Serve,
		Metrics:     a.metrics.Handler(),
		Logger:      logger.Named("api"),
	})

	a.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.apiServer,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

// passageCache picks redis when an address is configured and the
// in-process LRU otherwise.
func (a *Application) passageCache() (passage.Cache, error) {
	pc := a.config.Passage
	if pc.RedisAddr == "" {
		return passage.NewLRUCache(pc.CacheSize, pc.CacheTTL), nil
	}
	client, err := passage.NewRedisClient(context.Background(), pc.RedisAddr, pc.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to connect passage cache: %w", err)
	}
	a.redis = client
	return passage.NewRedisCache(client, pc.CacheTTL), nil
}

// Handler is the full HTTP surface, for embedding in tests.
func (a *Application) Handler() http.Handler {
	return a.apiServer
}

// Sessions exposes study management for the CLI.
func (a *Application) Sessions() *session.Manager {
	return a.sessions
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("studysync listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := a.router.Limiter().Cleanup(); n > 0 {
					a.logger.Debug("rate limiter cleanup", zap.Int("removed", n))
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts down in reverse dependency order: HTTP, sockets, rooms, store.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down studysync")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	a.connections.CloseAll()
	if err := a.rooms.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session registry shutdown: %w", err))
	}

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("study store close: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	a.logger.Info("studysync shutdown complete")
	return errors.Join(errs...)
}
