/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/robobs/internal/catalog"
	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/eventbus"
	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/store"
)

var (
	importFile   string
	importDryRun bool
	resetForce   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the program store schema",
	RunE:  runMigrate,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import observing programs from a YAML catalog",
	Long: `Import targets, constraint sets, blocks and programs from a YAML catalog.

Targets, constraint sets and blocks are matched by name, so re-importing a
catalog updates them in place. Programs are always added.

Examples:
  robobs import -f night.yaml
  robobs import -f night.yaml --dry-run
`,
	RunE: runImport,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark every program pending again and clear strategy history",
	Long: `Clear the finished flag of every program and forget which targets each
strategy has observed. The catalog itself is kept.

WARNING: the record of what was already observed is lost.
`,
	RunE: runReset,
}

func init() {
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Catalog file (YAML)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the catalog without storing it")
	_ = importCmd.MarkFlagRequired("file")

	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")

	rootCmd.AddCommand(migrateCmd, importCmd, resetCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer db.Close(database)

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("schema up to date")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	programs, err := catalog.Load(importFile)
	if err != nil {
		return err
	}
	if importDryRun {
		fmt.Printf("%s: %d programs, catalog valid\n", importFile, len(programs))
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	n, err := store.New(database, logger).Import(cmd.Context(), programs)
	if err != nil {
		return fmt.Errorf("import %s: %w", importFile, err)
	}
	fmt.Printf("imported %d programs from %s\n", n, importFile)
	announce(events.EventCatalogImported, events.Payload{"programs": n, "file": importFile})
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Print("This marks every program pending again and clears strategy history.\nType 'reset' to continue: ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(answer) != "reset" {
			fmt.Println("aborted")
			return nil
		}
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	n, err := store.New(database, logger).ResetFinished(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%d programs pending again\n", n)
	announce(events.EventCatalogReset, events.Payload{"programs": n})
	return nil
}

// announce mirrors a catalog change to the observatory bus so a running
// controller can tell its event stream clients. An unreachable bus only warns.
func announce(eventType events.EventType, payload events.Payload) {
	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Token = cfg.NATSToken
	natsCfg.Name = "robobs-catalog"
	natsCfg.MaxReconnects = 0
	nc, err := eventbus.Connect(natsCfg, logger)
	if err != nil {
		logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("catalog change not announced")
		return
	}
	defer nc.Close()

	eventbus.NewMirror(events.NewBus(), nc, natsCfg.SubjectPrefix, logger).Publish(eventType, payload)
	if err := nc.Flush(); err != nil {
		logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("catalog change not announced")
	}
}
