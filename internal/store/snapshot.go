package store

import (
	"context"
	"fmt"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm/clause"
)

// InsertSnapshot appends a closed-cycle snapshot. It reports false when a snapshot for the same
// (app, cycle start) already exists, so concurrent rollovers record exactly one row.
func (s *Store) InsertSnapshot(ctx context.Context, snap *models.UsageSnapshot) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "cycle_start"}},
		DoNothing: true,
	}).Create(snap)
	if res.Error != nil {
		return false, fmt.Errorf("store: insert snapshot: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListSnapshots returns the snapshots of an application, newest first.
func (s *Store) ListSnapshots(ctx context.Context, appID string, limit int) ([]models.UsageSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.UsageSnapshot
	if err := s.db.WithContext(ctx).
		Where("app_id = ?", appID).
		Order("cycle_start DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	return rows, nil
}
