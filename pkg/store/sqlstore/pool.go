// Package sqlstore is a store.Store backed by database/sql, adapted from the
// teacher's HikariCP-style pool (pkg/db): fail-fast config validation, a
// bounded connection pool, and the same Query/QueryRow/Exec/Begin surface,
// now driving document CRUD instead of generic SQL access.
//
// It is driver-agnostic: pass "pgx" with a Postgres DSN, or "sqlite3" with a
// file or ":memory:" DSN. Placeholder style ($1 vs ?) is chosen from
// DriverName.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/fluxorio/docpipe/pkg/core"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// PoolConfig configures the connection pool (mirrors HikariConfig knobs).
type PoolConfig struct {
	DSN             string
	DriverName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns HikariCP-like defaults for dsn/driverName.
func DefaultPoolConfig(dsn, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

type pool struct {
	db     *sql.DB
	config PoolConfig
}

// newPool opens and fail-fast validates a connection pool.
func newPool(config PoolConfig) (*pool, error) {
	if config.DSN == "" {
		return nil, core.NewError(core.CodeInvalidInput, "DSN cannot be empty")
	}
	if config.DriverName == "" {
		return nil, core.NewError(core.CodeInvalidInput, "DriverName cannot be empty")
	}
	if config.MaxOpenConns <= 0 {
		return nil, core.NewError(core.CodeInvalidInput, "MaxOpenConns must be positive")
	}
	if config.MaxIdleConns < 0 {
		return nil, core.NewError(core.CodeInvalidInput, "MaxIdleConns cannot be negative")
	}
	if config.MaxIdleConns > config.MaxOpenConns {
		return nil, core.NewError(core.CodeInvalidInput, "MaxIdleConns cannot exceed MaxOpenConns")
	}
	if config.ConnMaxLifetime < 0 {
		return nil, core.NewError(core.CodeInvalidInput, "ConnMaxLifetime cannot be negative")
	}
	if config.ConnMaxIdleTime < 0 {
		return nil, core.NewError(core.CodeInvalidInput, "ConnMaxIdleTime cannot be negative")
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "opening database", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, core.Wrap(core.CodeInvalidInput, "pinging database", err)
	}

	return &pool{db: db, config: config}, nil
}

func (p *pool) Close() error { return p.db.Close() }

func (p *pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

func (p *pool) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p *pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

func (p *pool) Begin(ctx context.Context) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, nil)
}

func (p *pool) Stats() sql.DBStats { return p.db.Stats() }
