package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// connectPolicy covers a database that is still starting next to the daemon.
var connectPolicy = retry.Policy{Attempts: 5, Base: time.Second, Max: 10 * time.Second, Timeout: 5 * time.Second}

func Open(cfg config.DBConfig) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("db.dsn is empty")
	}
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), gcfg)
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(positive(cfg.MaxOpenConns, 20))
	sqldb.SetMaxIdleConns(positive(cfg.MaxIdleConns, 5))
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	err = retry.Do(context.Background(), connectPolicy, func(ctx context.Context) error {
		return sqldb.PingContext(ctx)
	})
	if err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db unreachable: %w", err)
	}
	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("db not open")
	}
	return db.SQL.PingContext(ctx)
}

// SetTimezone sets the session time zone. Only IANA names known to the
// local zoneinfo are accepted.
func SetTimezone(db *DB, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" || db == nil || db.SQL == nil {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("db.timezone %q: %w", tz, err)
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + strings.ReplaceAll(tz, "'", "") + "'")
	return err
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
