package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mimic/internal/store"
	"mimic/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type feedRecordRepo struct {
	db *gorm.DB
}

func (r feedRecordRepo) Create(ctx context.Context, rec *model.FeedRecordModel) (store.CreateOutcome, *model.FeedRecordModel, error) {
	if rec == nil || strings.TrimSpace(rec.SourceHash) == "" {
		return 0, nil, fmt.Errorf("feed record: source hash is required")
	}
	if rec.CreatedAtUnix == 0 {
		rec.CreatedAtUnix = time.Now().UnixMilli()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return 0, nil, fmt.Errorf("feed record %s: %w", rec.SourceHash, res.Error)
	}
	if res.RowsAffected > 0 {
		return store.Created, rec, nil
	}
	existing, err := r.Get(ctx, rec.SourceHash)
	if err != nil {
		return 0, nil, fmt.Errorf("feed record %s: reread: %w", rec.SourceHash, err)
	}
	return store.AlreadyExists, existing, nil
}

func (r feedRecordRepo) Get(ctx context.Context, sourceHash string) (*model.FeedRecordModel, error) {
	var m model.FeedRecordModel
	if err := r.db.WithContext(ctx).Where("id = ?", sourceHash).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r feedRecordRepo) ListRecent(ctx context.Context, limit int) ([]model.FeedRecordModel, error) {
	var out []model.FeedRecordModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	return out, err
}
