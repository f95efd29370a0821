/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/robobs/internal/config"
)

// slowQuery is the threshold above which gorm reports a statement as slow.
const slowQuery = 250 * time.Millisecond

// Connect opens the catalog database, sizes its pool and installs the
// metrics callbacks.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.DBBackend, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(cfg.Environment),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.DBBackend, err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBBackend == config.DatabaseSQLite {
		// one writer at a time, and in-memory databases live per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetMaxOpenConns(16)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := RegisterCallbacks(database); err != nil {
		return nil, fmt.Errorf("register callbacks: %w", err)
	}
	return database, nil
}

func dialectorFor(backend config.DatabaseBackend, dsn string) (gorm.Dialector, error) {
	switch backend {
	case config.DatabasePostgres:
		return postgres.Open(dsn), nil
	case config.DatabaseMySQL:
		return mysql.Open(dsn), nil
	case config.DatabaseSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unknown database backend: %s", backend)
}

// zerologWriter routes gorm's log lines into the process logger.
type zerologWriter struct{ logger zerolog.Logger }

func (w zerologWriter) Printf(format string, args ...any) {
	w.logger.Info().Msgf(format, args...)
}

func newGormLogger(environment string) gormlogger.Interface {
	level := gormlogger.Warn
	if environment == "development" {
		level = gormlogger.Info
	}
	return gormlogger.New(
		zerologWriter{logger: log.Logger.With().Str("component", "gorm").Logger()},
		gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Ping checks the database answers within ctx.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases database resources.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
