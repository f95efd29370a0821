/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/robobs/internal/models"
)

// RecordObservation appends a strategy history record.
func (s *Store) RecordObservation(ctx context.Context, rec *models.ObservationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// LastObserved returns, per target, the most recent observation made by a strategy.
// Targets never observed are absent from the map.
func (s *Store) LastObserved(ctx context.Context, strategy string, targetIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}

	var recs []models.ObservationRecord
	err := s.db.WithContext(ctx).
		Where("strategy = ? AND target_id IN ?", strategy, targetIDs).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	for _, r := range recs {
		if last, ok := out[r.TargetID]; !ok || r.ObservedAt.After(last) {
			out[r.TargetID] = r.ObservedAt
		}
	}
	return out, nil
}

// ExposureByPI sums the recorded exposure seconds per PI for a strategy.
func (s *Store) ExposureByPI(ctx context.Context, strategy string) (map[string]float64, error) {
	var rows []struct {
		PI    string
		Total float64
	}
	err := s.db.WithContext(ctx).
		Model(&models.ObservationRecord{}).
		Select("pi, SUM(exposure) AS total").
		Where("strategy = ?", strategy).
		Group("pi").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum exposure: %w", err)
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.PI] = r.Total
	}
	return out, nil
}
