package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"

	"github.com/redis/go-redis/v9"

	"resourceapi/internal/config"
	"resourceapi/internal/database"
	"resourceapi/internal/database/migration"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/memory"
	"resourceapi/internal/repository/objectstore"
	"resourceapi/internal/repository/redisstore"
	"resourceapi/internal/repository/sqlstore"
	"resourceapi/internal/storage"
)

// backend is one storage connection shared by every resource.
type backend struct {
	kind string
	// target names the connection in logs.
	target string
	open   func(d declaration) (repository.Repository, error)
	ping   func(context.Context) error
	close  func() error

	// db and dialect are set for relational backends only.
	db      *sql.DB
	dialect sqlstore.Dialect
}

func openBackend(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{
			kind:   cfg.Backend,
			target: "memory",
			open: func(declaration) (repository.Repository, error) {
				return memory.New(), nil
			},
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil

	case config.BackendPostgres:
		db, err := database.Retry(ctx, log, cfg.Backend, cfg.ConnectRetries, func() (*sql.DB, error) {
			return database.NewPostgres(cfg.Database)
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return sqlBackend(cfg.Backend, cfg.Database.Host, db, sqlstore.Postgres), nil

	case config.BackendSQLite:
		db, err := database.NewSQLite(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlBackend(cfg.Backend, cfg.SQLite.Path, db, sqlstore.SQLite), nil

	case config.BackendRedis:
		client, err := database.Retry(ctx, log, cfg.Backend, cfg.ConnectRetries, func() (*redis.Client, error) {
			return database.NewRedis(ctx, cfg.Redis)
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &backend{
			kind:   cfg.Backend,
			target: cfg.Redis.Addr,
			open: func(d declaration) (repository.Repository, error) {
				return redisstore.New(client, d.schema, cfg.Redis.Prefix+":"+d.name.Plural), nil
			},
			ping:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close: client.Close,
		}, nil

	case config.BackendMinIO:
		bucket, err := database.Retry(ctx, log, cfg.Backend, cfg.ConnectRetries, func() (storage.Storage, error) {
			return storage.NewMinIO(ctx, cfg.MinIO)
		})
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		return objectBackend(cfg.Backend, cfg.MinIO.Endpoint, bucket, cfg.MinIO.Prefix), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func sqlBackend(kind, target string, db *sql.DB, d sqlstore.Dialect) *backend {
	return &backend{
		kind:   kind,
		target: target,
		open: func(decl declaration) (repository.Repository, error) {
			return sqlstore.New(db, d, decl.schema, decl.name.Plural)
		},
		ping:    db.PingContext,
		close:   db.Close,
		db:      db,
		dialect: d,
	}
}

func objectBackend(kind, target string, bucket storage.Storage, prefix string) *backend {
	return &backend{
		kind:   kind,
		target: target,
		open: func(d declaration) (repository.Repository, error) {
			return objectstore.New(bucket, d.schema, path.Join(prefix, d.name.Plural)), nil
		},
		ping:  bucket.Ping,
		close: func() error { return nil },
	}
}

// migrations returns one create-table step per declaration. Backends
// without a schema return none.
func (b *backend) migrations(decls []declaration) ([]migration.Step, error) {
	if b.db == nil {
		return nil, nil
	}
	steps := make([]migration.Step, 0, len(decls))
	for _, d := range decls {
		store, err := sqlstore.New(b.db, b.dialect, d.schema, d.name.Plural)
		if err != nil {
			return nil, err
		}
		steps = append(steps, migration.CreateTable(store.Table(), store.DDL()))
	}
	return steps, nil
}

// migrate creates the tables of decls on relational backends.
func (b *backend) migrate(ctx context.Context, log *slog.Logger, decls []declaration) error {
	steps, err := b.migrations(decls)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		log.Info("no migrations for backend", "component", "database", "backend", b.kind)
		return nil
	}
	return migration.EnsureMigrated(ctx, b.db, log, b.target, steps)
}
