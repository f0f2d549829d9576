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

type tradeRepo struct {
	db *gorm.DB
}

var terminalStatuses = []string{
	string(model.TradeStatusFilled),
	string(model.TradeStatusCanceled),
	string(model.TradeStatusRejected),
	string(model.TradeStatusFailed),
}

func (r tradeRepo) Create(ctx context.Context, t *model.TradeModel) (store.CreateOutcome, *model.TradeModel, error) {
	if t == nil || strings.TrimSpace(t.SourceHash) == "" {
		return 0, nil, fmt.Errorf("trade: source hash is required")
	}
	now := time.Now().UnixMilli()
	if t.CreatedAtUnix == 0 {
		t.CreatedAtUnix = now
	}
	if t.UpdatedAtUnix == 0 {
		t.UpdatedAtUnix = t.CreatedAtUnix
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_hash"}}, DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return 0, nil, fmt.Errorf("trade %s: %w", t.SourceHash, res.Error)
	}
	if res.RowsAffected > 0 {
		return store.Created, t, nil
	}
	existing, err := r.GetBySourceHash(ctx, t.SourceHash)
	if err != nil {
		return 0, nil, fmt.Errorf("trade %s: reread: %w", t.SourceHash, err)
	}
	return store.AlreadyExists, existing, nil
}

func (r tradeRepo) Get(ctx context.Context, id int64) (*model.TradeModel, error) {
	var m model.TradeModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r tradeRepo) GetBySourceHash(ctx context.Context, sourceHash string) (*model.TradeModel, error) {
	var m model.TradeModel
	if err := r.db.WithContext(ctx).Where("source_hash = ?", sourceHash).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r tradeRepo) ApplyUpdate(ctx context.Context, id int64, upd model.TradeUpdate) (bool, error) {
	if upd.Status == "" {
		return false, fmt.Errorf("trade %d: update without status", id)
	}
	at := upd.AtUnix
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	updates := map[string]interface{}{
		"status":     string(upd.Status),
		"filled_qty": upd.FilledQty,
		"updated_at": at,
	}
	if upd.VenueStatus != "" {
		updates["venue_status"] = upd.VenueStatus
	}
	if upd.VenueOrderID != "" {
		updates["venue_order_id"] = upd.VenueOrderID
	}
	if upd.FilledAvgPrice != nil {
		updates["filled_avg_price"] = *upd.FilledAvgPrice
	}
	if upd.Reason != "" {
		updates["reason"] = upd.Reason
	}
	if col := model.StatusColumn(upd.Status); col != "" {
		// first entry into a status wins
		updates[col] = gorm.Expr("COALESCE("+col+", ?)", at)
	}
	res := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("trade %d: update: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r tradeRepo) ListOpen(ctx context.Context) ([]model.TradeModel, error) {
	open := make([]string, 0, len(model.OpenTradeStatuses))
	for _, s := range model.OpenTradeStatuses {
		open = append(open, string(s))
	}
	var out []model.TradeModel
	err := r.db.WithContext(ctx).Where("status IN ?", open).Order("id ASC").Find(&out).Error
	return out, err
}

func (r tradeRepo) ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error) {
	var out []model.TradeModel
	err := r.db.WithContext(ctx).Order("id DESC").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

func (r tradeRepo) CountOccupying(ctx context.Context, tradingDate string) (int, map[string]int, error) {
	type symbolCount struct {
		Symbol string
		N      int
	}
	var rows []symbolCount
	err := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Select("symbol, COUNT(*) AS n").
		Where("trading_date = ? AND status NOT IN ?", tradingDate,
			[]string{string(model.TradeStatusFailed), string(model.TradeStatusRejected)}).
		Group("symbol").
		Scan(&rows).Error
	if err != nil {
		return 0, nil, err
	}
	total := 0
	perSymbol := make(map[string]int, len(rows))
	for _, c := range rows {
		perSymbol[c.Symbol] = c.N
		total += c.N
	}
	return total, perSymbol, nil
}
