package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mimic/internal/store"
	"mimic/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type checkpointRepo struct {
	db *gorm.DB
}

func (r checkpointRepo) Get(ctx context.Context, tradingDate string) (time.Time, bool, error) {
	var m model.IngestCheckpointModel
	err := r.db.WithContext(ctx).Where("trading_date = ?", tradingDate).First(&m).Error
	if err != nil {
		if errors.Is(notFound(err), store.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.UnixMilli(m.LastProcessedUnix), true, nil
}

func (r checkpointRepo) Advance(ctx context.Context, tradingDate string, ts time.Time, now time.Time) error {
	m := model.IngestCheckpointModel{
		TradingDate:       tradingDate,
		LastProcessedUnix: ts.UnixMilli(),
		UpdatedAtUnix:     now.UnixMilli(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "trading_date"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_processed_timestamp": gorm.Expr("MAX(ingest_checkpoint.last_processed_timestamp, excluded.last_processed_timestamp)"),
				"updated_at":               gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", tradingDate, err)
	}
	return nil
}

func (r checkpointRepo) ListRecent(ctx context.Context, limit int) ([]model.IngestCheckpointModel, error) {
	var out []model.IngestCheckpointModel
	err := r.db.WithContext(ctx).
		Order("trading_date DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}
