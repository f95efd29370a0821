/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/robobs/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "robobs:start_time"

// RegisterCallbacks times every query, create, update, delete and raw statement and counts failures.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		hook string
		err  error
	}{
		{"before_query", cb.Query().Before("gorm:query").Register("telemetry:before_query", markStart)},
		{"after_query", cb.Query().After("gorm:query").Register("telemetry:after_query", observe("query"))},
		{"before_create", cb.Create().Before("gorm:create").Register("telemetry:before_create", markStart)},
		{"after_create", cb.Create().After("gorm:create").Register("telemetry:after_create", observe("create"))},
		{"before_update", cb.Update().Before("gorm:update").Register("telemetry:before_update", markStart)},
		{"after_update", cb.Update().After("gorm:update").Register("telemetry:after_update", observe("update"))},
		{"before_delete", cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", markStart)},
		{"after_delete", cb.Delete().After("gorm:delete").Register("telemetry:after_delete", observe("delete"))},
		{"before_raw", cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", markStart)},
		{"after_raw", cb.Raw().After("gorm:raw").Register("telemetry:after_raw", observe("raw"))},
	}
	for _, step := range steps {
		if step.err != nil {
			return fmt.Errorf("register %s: %w", step.hook, step.err)
		}
	}
	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		started, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics samples the connection pool. The server calls it periodically.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
