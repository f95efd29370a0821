/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/obslog"
	"github.com/friendsincode/robobs/internal/storage"
)

var exportNight string

var exportLogCmd = &cobra.Command{
	Use:   "export-log",
	Short: "Export one night of the observing log as CSV",
	Long: `Write the observing log of the night starting on --night (noon to noon) as
CSV. The file goes to the S3 bucket when ROBOBS_S3_BUCKET is set, otherwise
under ROBOBS_EXPORT_DIR.

Examples:
  robobs export-log --night 2026-03-01
`,
	RunE: runExportLog,
}

func init() {
	exportLogCmd.Flags().StringVar(&exportNight, "night", "", "Night to export (YYYY-MM-DD, default: last night)")
	rootCmd.AddCommand(exportLogCmd)
}

func runExportLog(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	night := time.Now().UTC().Add(-24 * time.Hour)
	if exportNight != "" {
		var err error
		if night, err = time.Parse("2006-01-02", exportNight); err != nil {
			return fmt.Errorf("--night: %w", err)
		}
	}

	var objects storage.ObjectStore
	if cfg.ExportToS3() {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return err
		}
		objects = s3
	} else {
		objects = storage.NewFilesystem(cfg.ExportDir, logger)
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	location, err := obslog.NewService(database, events.NewBus(), logger).Export(ctx, objects, night)
	if err != nil {
		return err
	}
	fmt.Println(location)
	return nil
}
