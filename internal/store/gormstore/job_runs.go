package gormstore

import (
	"context"
	"fmt"
	"time"

	"mimic/internal/store"
	"mimic/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobRunRepo struct {
	db *gorm.DB
}

func (r jobRunRepo) Claim(ctx context.Context, jobType, tradingDate string, now time.Time, staleAfter time.Duration) (store.ClaimResult, error) {
	run := model.JobRunModel{
		Type:          jobType,
		TradingDate:   tradingDate,
		Status:        model.JobStatusStarted,
		Attempt:       1,
		StartedAtUnix: now.UnixMilli(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "trading_date"}},
			DoNothing: true,
		}).
		Create(&run)
	if res.Error != nil {
		return store.ClaimResult{}, fmt.Errorf("job run %s/%s: claim: %w", jobType, tradingDate, res.Error)
	}
	if res.RowsAffected > 0 {
		return store.ClaimResult{Claimed: true, Run: run}, nil
	}

	// The row exists: take it over only if it failed or its owner went silent.
	q := r.db.WithContext(ctx).Model(&model.JobRunModel{}).
		Where("type = ? AND trading_date = ?", jobType, tradingDate)
	if staleAfter > 0 {
		cutoff := now.Add(-staleAfter).UnixMilli()
		q = q.Where("status = ? OR (status = ? AND MAX(started_at, COALESCE(heartbeat_at, 0)) < ?)",
			model.JobStatusFailed, model.JobStatusStarted, cutoff)
	} else {
		q = q.Where("status = ?", model.JobStatusFailed)
	}
	res = q.Updates(map[string]interface{}{
		"status":       model.JobStatusStarted,
		"attempt":      gorm.Expr("attempt + 1"),
		"started_at":   now.UnixMilli(),
		"heartbeat_at": nil,
		"finished_at":  nil,
		"error":        "",
	})
	if res.Error != nil {
		return store.ClaimResult{}, fmt.Errorf("job run %s/%s: reclaim: %w", jobType, tradingDate, res.Error)
	}
	existing, err := r.Get(ctx, jobType, tradingDate)
	if err != nil {
		return store.ClaimResult{}, err
	}
	if res.RowsAffected > 0 {
		return store.ClaimResult{Claimed: true, Reclaimed: true, Run: *existing}, nil
	}
	return store.ClaimResult{Run: *existing}, nil
}

func (r jobRunRepo) Get(ctx context.Context, jobType, tradingDate string) (*model.JobRunModel, error) {
	var m model.JobRunModel
	err := r.db.WithContext(ctx).
		Where("type = ? AND trading_date = ?", jobType, tradingDate).
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r jobRunRepo) Heartbeat(ctx context.Context, id int64, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.JobRunModel{}).
		Where("id = ? AND status = ?", id, model.JobStatusStarted).
		Update("heartbeat_at", now.UnixMilli())
	if res.Error != nil {
		return fmt.Errorf("job run %d: heartbeat: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r jobRunRepo) Finish(ctx context.Context, id int64, status model.JobStatus, summary []byte, errMsg string, now time.Time) error {
	if status != model.JobStatusSuccess && status != model.JobStatusFailed {
		return fmt.Errorf("job run %d: cannot finish as %q", id, status)
	}
	updates := map[string]interface{}{
		"status":      status,
		"error":       errMsg,
		"finished_at": now.UnixMilli(),
	}
	if len(summary) > 0 {
		updates["summary_json"] = datatypes.JSON(summary)
	}
	res := r.db.WithContext(ctx).Model(&model.JobRunModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("job run %d: finish: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r jobRunRepo) ListRecent(ctx context.Context, limit int) ([]model.JobRunModel, error) {
	var out []model.JobRunModel
	err := r.db.WithContext(ctx).
		Order("trading_date DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}
