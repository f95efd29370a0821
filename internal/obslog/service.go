/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package obslog persists the observing log, the append-only record of what the
// telescope did during a night.
package obslog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/models"
)

// Service writes and queries observing log entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new observing log service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "obslog").Logger(),
	}
}

// Start records operator-driven controller changes until ctx is done. Program
// begin and end entries are written by the controller itself.
func (s *Service) Start(ctx context.Context) {
	robState := s.bus.Subscribe(events.EventRobState)
	reset := s.bus.Subscribe(events.EventReset)
	park := s.bus.Subscribe(events.EventPark)
	defer func() {
		s.bus.Unsubscribe(events.EventRobState, robState)
		s.bus.Unsubscribe(events.EventReset, reset)
		s.bus.Unsubscribe(events.EventPark, park)
	}()

	s.logger.Info().Msg("observing log service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("observing log service stopping")
			return

		case payload := <-robState:
			action := models.LogRobStateOff
			if on, _ := payload["on"].(bool); on {
				action = models.LogRobStateOn
			}
			s.logEvent(ctx, action, payload)

		case payload := <-reset:
			s.logEvent(ctx, models.LogReset, payload)

		case payload := <-park:
			s.logEvent(ctx, models.LogSafetyPark, payload)
		}
	}
}

func (s *Service) logEvent(ctx context.Context, action string, payload events.Payload) {
	entry := &models.ObservingLog{Action: action, Name: "ROBOBS", Priority: 1}
	if at, ok := payload["time"].(time.Time); ok {
		entry.Time = at
	}
	if name, ok := payload["program"].(string); ok && name != "" {
		entry.Name = name
	}
	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to write observing log entry")
	}
}

// Log appends an entry.
func (s *Service) Log(ctx context.Context, entry *models.ObservingLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	entry.Time = entry.Time.UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", entry.Action).
		Str("name", entry.Name).
		Msg("observing log entry written")
	return nil
}

// QueryFilters defines filters for querying the observing log.
type QueryFilters struct {
	TargetID  *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves entries, most recent first, plus the unpaginated total.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.ObservingLog, int64, error) {
	var logs []models.ObservingLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.ObservingLog{})

	if filters.TargetID != nil {
		query = query.Where("target_id = ?", *filters.TargetID)
	}
	if filters.StartTime != nil {
		query = query.Where("logged_at >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("logged_at < ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("logged_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// Night returns every entry written between local noon of the given date and noon
// of the next day, oldest first.
func (s *Service) Night(ctx context.Context, date time.Time) ([]models.ObservingLog, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, date.Location())
	end := start.Add(24 * time.Hour)

	var logs []models.ObservingLog
	err := s.db.WithContext(ctx).
		Where("logged_at >= ? AND logged_at < ?", start.UTC(), end.UTC()).
		Order("logged_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
