package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/config"
	"github.com/mcoot/bunker/internal/dependencies/clock"
	"github.com/mcoot/bunker/internal/dependencies/ids"
	"github.com/mcoot/bunker/internal/dependencies/random"
	"github.com/mcoot/bunker/internal/feed"
	amqpfeed "github.com/mcoot/bunker/internal/feed/amqp"
	memoryfeed "github.com/mcoot/bunker/internal/feed/memory"
	pgfeed "github.com/mcoot/bunker/internal/feed/postgres"
	redisfeed "github.com/mcoot/bunker/internal/feed/redis"
	"github.com/mcoot/bunker/internal/realtime/sse"
	"github.com/mcoot/bunker/internal/services/auth"
	"github.com/mcoot/bunker/internal/services/lobby"
	"github.com/mcoot/bunker/internal/storage"
	"github.com/mcoot/bunker/internal/storage/memory"
	redisstorage "github.com/mcoot/bunker/internal/storage/redis"
	sqlstorage "github.com/mcoot/bunker/internal/storage/sql"
	"github.com/mcoot/bunker/internal/traits"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Feed type constants
const (
	FeedTypeMemory   = "memory"
	FeedTypeRedis    = "redis"
	FeedTypePostgres = "postgres"
	FeedTypeAMQP     = "amqp"
)

// App contains all wired application components
type App struct {
	// Backends
	Storage storage.Storage
	Feed    feed.Feed

	// External dependencies
	Clock  clock.Clock
	IDs    ids.Generator
	Random random.Random

	// Domain
	Pool  *traits.Pool
	Cache *cache.LobbyCache

	// Services
	LobbyController *lobby.Controller
	AuthService     *auth.Service
	HubManager      *sse.HubManager

	closers []io.Closer
}

// Config holds configuration for the application factory
type Config struct {
	// AuthConfig holds configuration for the auth service (optional)
	AuthConfig auth.Config
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger

	// StorageType selects the store: memory, redis, postgres or sqlite.
	// Defaults to memory.
	StorageType string
	// RedisConfig is required for redis storage or the redis feed
	RedisConfig *redisstorage.Config
	// SQLConfig is required for postgres and sqlite storage
	SQLConfig *sqlstorage.Config

	// FeedType selects the change feed: memory, redis, postgres or amqp.
	// Defaults to memory.
	FeedType string
	// PostgresDSN is required for the postgres feed
	PostgresDSN string
	// AMQPURL is required for the amqp feed
	AMQPURL string

	// Pool overrides the built-in trait templates
	Pool *traits.Pool
}

// New creates a new application with all dependencies wired. On error
// anything already opened is closed again.
func New(ctx context.Context, cfg Config) (app *App, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			err = multierr.Append(err, closeAll(closers))
		}
	}()

	store, redisClient, storeCloser, err := newStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	if storeCloser != nil {
		closers = append(closers, storeCloser)
	}

	changes, extra, err := newFeed(ctx, cfg, redisClient, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, extra...)
	closers = append(closers, changes)

	pool := cfg.Pool
	if pool == nil {
		pool = traits.DefaultPool()
	}

	app = newWithDependencies(store, changes, clock.New(), ids.New(), random.New(), pool, cfg.AuthConfig, logger)
	app.closers = closers
	logger.Info("application wired",
		slog.String("storage", storageTypeOrDefault(cfg.StorageType)),
		slog.String("feed", feedTypeOrDefault(cfg.FeedType)))
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	changes feed.Feed,
	clk clock.Clock,
	gen ids.Generator,
	rnd random.Random,
	pool *traits.Pool,
	authCfg auth.Config,
	logger *slog.Logger,
) *App {
	lobbyCache := cache.New()
	lobbyController := lobby.NewController(store, changes, pool, lobbyCache, clk, gen, logger)
	authService := auth.New(store, clk, gen, rnd, authCfg)
	hubManager := sse.NewHubManager(changes, logger)

	return &App{
		Storage:         store,
		Feed:            changes,
		Clock:           clk,
		IDs:             gen,
		Random:          rnd,
		Pool:            pool,
		Cache:           lobbyCache,
		LobbyController: lobbyController,
		AuthService:     authService,
		HubManager:      hubManager,
	}
}

// Close stops the SSE hubs, then closes the feed and storage in reverse
// order of opening, returning every error encountered
func (a *App) Close() error {
	a.HubManager.Close()
	return closeAll(a.closers)
}

func closeAll(closers []io.Closer) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i].Close())
	}
	return err
}

func storageTypeOrDefault(t string) string {
	if t == "" {
		return StorageTypeMemory
	}
	return t
}

func feedTypeOrDefault(t string) string {
	if t == "" {
		return FeedTypeMemory
	}
	return t
}

// newStorage opens the configured store. For redis it also returns the
// client so the redis feed can share the connection pool.
func newStorage(cfg Config, logger *slog.Logger) (storage.Storage, *goredis.Client, io.Closer, error) {
	switch storageTypeOrDefault(cfg.StorageType) {
	case StorageTypeMemory:
		return memory.New(), nil, nil, nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, nil, nil, errors.New("RedisConfig required when StorageType is redis")
		}
		s, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis storage: %w", err)
		}
		return s, s.Client(), s, nil
	case StorageTypePostgres, StorageTypeSQLite:
		if cfg.SQLConfig == nil {
			return nil, nil, nil, fmt.Errorf("SQLConfig required when StorageType is %s", cfg.StorageType)
		}
		s, err := sqlstorage.New(*cfg.SQLConfig, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s storage: %w", cfg.StorageType, err)
		}
		return s, nil, s, nil
	default:
		return nil, nil, nil, fmt.Errorf("invalid StorageType %q: must be memory, redis, postgres or sqlite", cfg.StorageType)
	}
}

// newFeed opens the configured change feed. Extra closers cover
// connections the feed uses but does not own.
func newFeed(ctx context.Context, cfg Config, shared *goredis.Client, logger *slog.Logger) (feed.Feed, []io.Closer, error) {
	switch feedTypeOrDefault(cfg.FeedType) {
	case FeedTypeMemory:
		return memoryfeed.New(logger), nil, nil
	case FeedTypeRedis:
		if shared != nil {
			return redisfeed.New(shared, logger), nil, nil
		}
		if cfg.RedisConfig == nil {
			return nil, nil, errors.New("RedisConfig required when FeedType is redis")
		}
		opts, err := goredis.ParseURL(cfg.RedisConfig.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis feed: %w", err)
		}
		return redisfeed.New(client, logger), []io.Closer{client}, nil
	case FeedTypePostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("PostgresDSN required when FeedType is postgres")
		}
		f, err := pgfeed.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres feed: %w", err)
		}
		return f, nil, nil
	case FeedTypeAMQP:
		if cfg.AMQPURL == "" {
			return nil, nil, errors.New("AMQPURL required when FeedType is amqp")
		}
		f, err := amqpfeed.New(cfg.AMQPURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid FeedType %q: must be memory, redis, postgres or amqp", cfg.FeedType)
	}
}

// ConfigFrom maps loaded server settings onto a factory Config. A
// TemplatesPath that fails to load is an error rather than a silent
// fallback to the defaults.
func ConfigFrom(c *config.Config, logger *slog.Logger) (Config, error) {
	cfg := Config{
		Logger:      logger,
		StorageType: c.StorageType,
		FeedType:    c.FeedType,
		PostgresDSN: c.DatabaseURL,
		AMQPURL:     c.AMQPURL,
		AuthConfig: auth.Config{
			Secret:   []byte(c.JWTSecret),
			Issuer:   auth.DefaultConfig().Issuer,
			TokenTTL: c.TokenTTL,
		},
	}

	if c.StorageType == StorageTypeRedis || c.FeedType == FeedTypeRedis {
		rc := redisstorage.DefaultConfig()
		rc.URL = c.RedisURL
		cfg.RedisConfig = &rc
	}

	switch c.StorageType {
	case StorageTypePostgres:
		sc := sqlstorage.DefaultConfig()
		sc.DSN = c.DatabaseURL
		cfg.SQLConfig = &sc
	case StorageTypeSQLite:
		sc := sqlstorage.DefaultConfig()
		sc.Driver = sqlstorage.DriverSQLite
		sc.DSN = c.SQLitePath
		cfg.SQLConfig = &sc
	}

	if c.TemplatesPath != "" {
		pool, err := traits.LoadPool(c.TemplatesPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Pool = pool
	}
	return cfg, nil
}
