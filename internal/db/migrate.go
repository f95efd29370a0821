/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/robobs/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Catalog
		&models.Target{},
		&models.BlockPar{},
		&models.ObsBlock{},
		&models.Action{},
		&models.Program{},

		// Records
		&models.ObservingLog{},
		&models.ObservationRecord{},
	); err != nil {
		return err
	}

	return applyPostgresFinishedGuard(database)
}

// applyPostgresFinishedGuard refuses any update that would turn a finished
// program back into a pending one.
func applyPostgresFinishedGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_program_unfinish()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF OLD.finished AND NOT NEW.finished AND current_setting('robobs.allow_reset', true) IS DISTINCT FROM 'on' THEN
    RAISE EXCEPTION 'program % is already finished', OLD.id
      USING ERRCODE = '23514';
  END IF;
  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_program_unfinish ON programs;
CREATE TRIGGER trg_prevent_program_unfinish
BEFORE UPDATE ON programs
FOR EACH ROW EXECUTE FUNCTION prevent_program_unfinish();
`
	return database.Exec(stmt).Error
}
