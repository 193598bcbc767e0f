// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	authredis "github.com/holomush/gatekeeper/internal/auth/redis"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/gate"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConnectDB opens the PostgreSQL pool.
	// Default: store.Connect with store.DefaultConnectOptions
	ConnectDB func(ctx context.Context, url string) (*pgxpool.Pool, error)

	// Migrate applies schema migrations before serving when auto_migrate is set.
	// Default: store.NewMigrator(url).Up
	Migrate func(url string) error

	// RedisClient creates the client for the redis session store.
	// Default: goredis.NewClient pinged with backoff
	RedisClient func(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Listen binds the HTTP API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)

	// OnReady is called with the bound API address once requests are accepted.
	OnReady func(addr string)
}

// ObservabilityServer wraps the methods serve uses from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ConnectDB == nil {
		out.ConnectDB = func(ctx context.Context, url string) (*pgxpool.Pool, error) {
			return store.Connect(ctx, url, store.DefaultConnectOptions())
		}
	}
	if out.Migrate == nil {
		out.Migrate = migrateUp
	}
	if out.RedisClient == nil {
		out.RedisClient = connectRedis
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			srv := observability.NewServer(addr, ready, gate.RegisterMetrics)
			srv.SetLogger(logger)
			return srv
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}

func migrateUp(url string) error {
	m, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

// connectRedis creates a client and waits for the server to answer PING.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	return client, nil
}

// components are the wired domain objects behind the API.
type components struct {
	service *auth.Service
	gate    *gate.Gate
	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// buildComponents wires repositories, the auth service and the gate from cfg.
func buildComponents(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *ServeDeps) (_ *components, err error) {
	deps = deps.withDefaults()
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		if cfg.Storage.AutoMigrate {
			if err := deps.Migrate(cfg.Storage.DatabaseURL); err != nil {
				return nil, oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
			}
			logger.Info("database migrations applied")
		}
		pool, err = deps.ConnectDB(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		logger.Info("connected to database")
	}

	var users auth.UserRepository
	switch cfg.Storage.Users {
	case config.StorePostgres:
		users = authpg.NewUserRepository(pool)
	default:
		users = memory.NewUserRepository()
	}

	var sessions auth.SessionRepository
	switch cfg.Storage.Sessions {
	case config.StoreMemory:
		sessions = memory.NewSessionRepository()
	case config.StorePostgres:
		sessions = authpg.NewSessionRepository(pool)
	case config.StoreRedis:
		client, err := deps.RedisClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		sessions = authredis.NewSessionRepository(client,
			authredis.WithPrefix(cfg.Storage.Redis.Prefix),
			authredis.WithKeyTTL(cfg.Storage.Redis.KeyTTL.Std()),
		)
		logger.Info("connected to redis", "addr", cfg.Storage.Redis.Addr)
	}

	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Auth.Argon2)
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{auth.WithLogger(logger)}
	if sessions != nil {
		opts = append(opts, auth.WithSessionRepository(sessions))
	}
	c.service, err = auth.NewAuthService(users, hasher, auth.NewUUIDTokenIssuer(), opts...)
	if err != nil {
		return nil, err
	}

	mode, err := cfg.GateMode()
	if err != nil {
		return nil, err
	}
	strategy, err := gate.NewStrategy(mode, gate.Deps{
		Service: c.service,
		Cookie:  cfg.Auth.SessionName,
		TTL:     cfg.Auth.SessionDuration.Std(),
	})
	if err != nil {
		return nil, err
	}
	c.gate, err = gate.New(strategy, cfg.Auth.ExcludedPaths,
		gate.WithLogger(logger),
		gate.WithSessionCookie(cfg.Auth.SessionName),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}
