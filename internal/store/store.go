/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the persistent program store backed by gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/robobs/internal/models"
)

var (
	ErrProgramNotFound = errors.New("program not found")
	ErrNegativeTier    = errors.New("priority tier must not be negative")
)

// Store reads and updates programs and their observation history.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a program store.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying handle for components sharing the connection.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) programs(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Target").
		Preload("BlockPar").
		Preload("ObsBlock").
		Preload("ObsBlock.Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		})
}

// Tiers returns the distinct priority tiers of unfinished programs, most urgent first.
func (s *Store) Tiers(ctx context.Context) ([]int, error) {
	var tiers []int
	err := s.db.WithContext(ctx).
		Model(&models.Program{}).
		Where("finished = ?", false).
		Distinct("priority").
		Order("priority ASC").
		Pluck("priority", &tiers).Error
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	return tiers, nil
}

// Unfinished returns the unfinished programs of a tier, unset slew-at first then
// earliest slew-at.
func (s *Store) Unfinished(ctx context.Context, tier int) ([]models.Program, error) {
	var programs []models.Program
	err := s.programs(ctx).
		Where("priority = ? AND finished = ?", tier, false).
		Order("slew_at IS NOT NULL").
		Order("slew_at ASC").
		Order("created_at ASC").
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("query tier %d: %w", tier, err)
	}
	return programs, nil
}

// Get loads a single program with its associations.
func (s *Store) Get(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	err := s.programs(ctx).First(&program, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	return &program, nil
}

// ListFilters narrows List.
type ListFilters struct {
	Tier     *int
	Finished *bool
	PI       string
	Limit    int
	Offset   int
}

// List returns programs ordered by tier and start time, plus the unpaginated total.
func (s *Store) List(ctx context.Context, filters ListFilters) ([]models.Program, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Program{})
	if filters.Tier != nil {
		query = query.Where("priority = ?", *filters.Tier)
	}
	if filters.Finished != nil {
		query = query.Where("finished = ?", *filters.Finished)
	}
	if filters.PI != "" {
		query = query.Where("pi = ?", filters.PI)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	var programs []models.Program
	err := query.
		Preload("Target").
		Preload("BlockPar").
		Order("priority ASC").
		Order("slew_at IS NOT NULL").
		Order("slew_at ASC").
		Limit(limit).
		Offset(filters.Offset).
		Find(&programs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}
	return programs, total, nil
}

// AdvanceSlewAt moves a pending program's earliest start. Finished programs are left alone.
func (s *Store) AdvanceSlewAt(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).
		Model(&models.Program{}).
		Where("id = ? AND finished = ?", id, false).
		Update("slew_at", &at)
	if res.Error != nil {
		return fmt.Errorf("advance slew time: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProgramNotFound
	}

	s.logger.Debug().Str("program_id", id).Time("slew_at", at).Msg("slew time advanced")
	return nil
}

// MarkFinished flips the finished flag. It reports false when the program was already finished.
func (s *Store) MarkFinished(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Program{}).
		Where("id = ? AND finished = ?", id, false).
		Update("finished", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark finished: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Program{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, fmt.Errorf("mark finished: %w", err)
		}
		if count == 0 {
			return false, ErrProgramNotFound
		}
		return false, nil
	}

	s.logger.Info().Str("program_id", id).Msg("program finished")
	return true, nil
}

// Import stores programs together with their target, constraint set and block.
// Shared targets, constraint sets and blocks are matched by name.
func (s *Store) Import(ctx context.Context, programs []models.Program) (int, error) {
	for _, p := range programs {
		if p.Priority < 0 {
			return 0, fmt.Errorf("program %q: %w", p.Name, ErrNegativeTier)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := map[string]string{}
		pars := map[string]string{}
		blocks := map[string]string{}

		for i := range programs {
			p := &programs[i]

			targetID, err := upsertByName(tx, targets, &p.Target, p.Target.Name, &p.Target.ID)
			if err != nil {
				return fmt.Errorf("target %q: %w", p.Target.Name, err)
			}
			parID, err := upsertByName(tx, pars, &p.BlockPar, p.BlockPar.Name, &p.BlockPar.ID)
			if err != nil {
				return fmt.Errorf("block parameters %q: %w", p.BlockPar.Name, err)
			}

			blockID, ok := blocks[p.ObsBlock.Name]
			if !ok {
				if err := replaceBlock(tx, &p.ObsBlock); err != nil {
					return fmt.Errorf("block %q: %w", p.ObsBlock.Name, err)
				}
				blockID = p.ObsBlock.ID
				blocks[p.ObsBlock.Name] = blockID
			}

			row := models.Program{
				ID:         p.ID,
				Name:       p.Name,
				PI:         p.PI,
				Priority:   p.Priority,
				TargetID:   targetID,
				BlockParID: parID,
				ObsBlockID: blockID,
				Finished:   p.Finished,
			}
			if p.HasSlewAt() {
				at := p.SlewAt.UTC()
				row.SlewAt = &at
			}
			if row.ID == "" {
				row.ID = uuid.NewString()
			}
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				return fmt.Errorf("program %q: %w", p.Name, err)
			}
			p.ID = row.ID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Int("count", len(programs)).Msg("programs imported")
	return len(programs), nil
}

// upsertByName creates or updates a named catalog row and returns its id.
func upsertByName(tx *gorm.DB, seen map[string]string, row interface{ TableName() string }, name string, id *string) (string, error) {
	if existing, ok := seen[name]; ok {
		return existing, nil
	}

	var ids []string
	if err := tx.Table(row.TableName()).Where("name = ?", name).Limit(1).Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	if len(ids) > 0 {
		*id = ids[0]
		if err := tx.Omit(clause.Associations, "CreatedAt").Save(row).Error; err != nil {
			return "", err
		}
	} else {
		if *id == "" {
			*id = uuid.NewString()
		}
		if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
			return "", err
		}
	}

	seen[name] = *id
	return *id, nil
}

// replaceBlock stores a block, replacing the action list of an existing block with the same name.
func replaceBlock(tx *gorm.DB, block *models.ObsBlock) error {
	var existing models.ObsBlock
	err := tx.Where("name = ?", block.Name).Take(&existing).Error
	switch {
	case err == nil:
		block.ID = existing.ID
		if err := tx.Where("obs_block_id = ?", block.ID).Delete(&models.Action{}).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if block.ID == "" {
			block.ID = uuid.NewString()
		}
		if err := tx.Omit(clause.Associations).Create(block).Error; err != nil {
			return err
		}
	default:
		return err
	}

	for i := range block.Actions {
		act := &block.Actions[i]
		act.ObsBlockID = block.ID
		act.Seq = i
		if act.ID == "" {
			act.ID = uuid.NewString()
		}
	}
	if len(block.Actions) == 0 {
		return nil
	}
	return tx.Create(&block.Actions).Error
}

// ResetFinished makes every program pending again and clears the strategy history.
// It is an operator action; the scheduler never calls it.
func (s *Store) ResetFinished(ctx context.Context) (int64, error) {
	var reset int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SET LOCAL robobs.allow_reset = 'on'").Error; err != nil {
				return err
			}
		}
		res := tx.Model(&models.Program{}).Where("finished = ?", true).Update("finished", false)
		if res.Error != nil {
			return res.Error
		}
		reset = res.RowsAffected
		return tx.Where("1 = 1").Delete(&models.ObservationRecord{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("reset programs: %w", err)
	}

	s.logger.Warn().Int64("count", reset).Msg("finished flags cleared")
	return reset, nil
}
