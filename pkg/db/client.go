package db

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pastor-macsagun/drouple-sync/pkg/config"
	pkgerrors "github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
	"github.com/pastor-macsagun/drouple-sync/pkg/migrate"
)

// Tables lists every persisted table in reset order (children first).
var Tables = []string{
	"outbox_entries",
	"sync_states",
	"attendance_records",
	"announcements",
	"events",
	"members",
}

// Client wraps the on-device SQLite store. Construction is cheap;
// Init opens the file, enforces foreign keys, and applies pending
// schema migrations exactly once.
type Client struct {
	cfg  config.StoreConfig
	logg *logger.Logger

	mu      sync.Mutex
	conn    *gorm.DB
	ready   bool
	initErr error
}

// New builds an uninitialized client. No I/O happens until Init.
func New(cfg config.StoreConfig, logg *logger.Logger) *Client {
	return &Client{cfg: cfg, logg: logg}
}

// Init bootstraps the store. Concurrent callers collapse into a single
// initialization: the second caller blocks on the first and observes
// its result. A failure is sticky — the store is unusable and every
// subsequent call returns the same error.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready || c.initErr != nil {
		return c.initErr
	}
	c.initErr = c.bootstrap(ctx)
	if c.initErr == nil {
		c.ready = true
		if c.logg != nil {
			c.logg.Info(ctx, "local store initialized")
		}
	}
	return c.initErr
}

func (c *Client) bootstrap(ctx context.Context) error {
	if c.cfg.Path == "" {
		return pkgerrors.New(pkgerrors.CodeStorage, "store path is required")
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", c.cfg.Path, c.cfg.BusyTimeout.Milliseconds())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "opening store")
	}

	if err := conn.WithContext(ctx).Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "enabling foreign keys")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "getting sql db handle")
	}
	// Single-writer discipline: one connection, transactions queue
	// instead of interleaving.
	sqlDB.SetMaxOpenConns(1)

	if err := migrate.Up(ctx, sqlDB); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "applying migrations")
	}

	c.conn = conn
	return nil
}

// DB returns the underlying GORM connection. Panics if the store has
// not been initialized; callers wire Init before anything else.
func (c *Client) DB() *gorm.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		panic("db: store used before Init")
	}
	return c.conn
}

// Ping verifies the store file is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
// Nested calls are disallowed: fn receives the transaction handle and
// must not begin another.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.DB().WithContext(ctx).Begin()
	if tx.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, tx.Error, "begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "commit transaction")
	}
	return nil
}

// ClearAll removes every row from every table. Used by test harnesses
// and explicit user-triggered resets only.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.WithTx(ctx, func(tx *gorm.DB) error {
		for _, table := range Tables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "clearing "+table)
			}
		}
		return nil
	})
}

// Close shuts down the store connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	c.ready = false
	c.conn = nil
	return sqlDB.Close()
}
