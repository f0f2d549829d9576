// Package statushttp serves job runs, trades, checkpoints, feed records and
// venue positions as JSON.
package statushttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mimic/internal/logger"
	"mimic/internal/store"
	"mimic/internal/store/model"

	"github.com/gin-gonic/gin"
)

type Router struct {
	store     store.Store
	watchlist WatchlistSource
	positions PositionSource
}

// NewRouter builds the API routes. wl and positions may be nil; their routes
// are then not registered.
func NewRouter(s store.Store, wl WatchlistSource, positions PositionSource) *Router {
	return &Router{store: s, watchlist: wl, positions: positions}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/job-runs", r.handleJobRuns)
	group.GET("/trades", r.handleTrades)
	group.GET("/trades/:hash", r.handleTrade)
	group.GET("/checkpoints", r.handleCheckpoints)
	group.GET("/feed-records", r.handleFeedRecords)
	if r.watchlist != nil {
		group.GET("/watchlist", r.handleWatchlist)
	}
	if r.positions != nil {
		group.GET("/positions", r.handlePositions)
	}
}

func limitParam(c *gin.Context) int {
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if n <= 0 {
		n = 100
	}
	if n > 500 {
		n = 500
	}
	return n
}

func internalError(c *gin.Context, what string, err error) {
	logger.Errorf("status api %s: %v", what, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": what + " unavailable"})
}

type jobRunView struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	TradingDate string          `json:"trading_date"`
	Status      model.JobStatus `json:"status"`
	Attempt     int             `json:"attempt"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
}

func (r *Router) handleJobRuns(c *gin.Context) {
	runs, err := r.store.JobRuns().ListRecent(c.Request.Context(), limitParam(c))
	if err != nil {
		internalError(c, "job runs", err)
		return
	}
	out := make([]jobRunView, 0, len(runs))
	for _, run := range runs {
		v := jobRunView{
			ID:          run.ID,
			Type:        run.Type,
			TradingDate: run.TradingDate,
			Status:      run.Status,
			Attempt:     run.Attempt,
			Error:       run.Error,
			StartedAt:   millis(&run.StartedAtUnix),
			FinishedAt:  millis(run.FinishedAtUnix),
		}
		if len(run.SummaryJSON) > 0 && json.Valid(run.SummaryJSON) {
			v.Summary = json.RawMessage(run.SummaryJSON)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"job_runs": out})
}

type tradeView struct {
	ID                int64             `json:"id"`
	SourceHash        string            `json:"source_hash"`
	Symbol            string            `json:"symbol"`
	TradingDate       string            `json:"trading_date"`
	Status            model.TradeStatus `json:"status"`
	VenueStatus       string            `json:"venue_status,omitempty"`
	OrderShape        string            `json:"order_shape,omitempty"`
	FallbackUsed      bool              `json:"fallback_used"`
	NotionalSubmitted *float64          `json:"notional_submitted,omitempty"`
	QtySubmitted      *float64          `json:"qty_submitted,omitempty"`
	FilledQty         float64           `json:"filled_qty"`
	FilledAvgPrice    *float64          `json:"filled_avg_price,omitempty"`
	VenueOrderID      string            `json:"venue_order_id,omitempty"`
	ClientOrderID     string            `json:"client_order_id,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	SubmittedAt       *time.Time        `json:"submitted_at,omitempty"`
	PartiallyFilledAt *time.Time        `json:"partially_filled_at,omitempty"`
	FilledAt          *time.Time        `json:"filled_at,omitempty"`
	CanceledAt        *time.Time        `json:"canceled_at,omitempty"`
	RejectedAt        *time.Time        `json:"rejected_at,omitempty"`
	FailedAt          *time.Time        `json:"failed_at,omitempty"`
}

func toTradeView(t model.TradeModel) tradeView {
	return tradeView{
		ID:                t.ID,
		SourceHash:        t.SourceHash,
		Symbol:            t.Symbol,
		TradingDate:       t.TradingDate,
		Status:            t.Status,
		VenueStatus:       t.VenueStatus,
		OrderShape:        t.OrderShape,
		FallbackUsed:      t.FallbackUsed,
		NotionalSubmitted: t.NotionalSubmitted,
		QtySubmitted:      t.QtySubmitted,
		FilledQty:         t.FilledQty,
		FilledAvgPrice:    t.FilledAvgPrice,
		VenueOrderID:      t.VenueOrderID,
		ClientOrderID:     t.ClientOrderID,
		Reason:            t.Reason,
		SubmittedAt:       millis(t.SubmittedAtUnix),
		PartiallyFilledAt: millis(t.PartiallyFilledAtUnix),
		FilledAt:          millis(t.FilledAtUnix),
		CanceledAt:        millis(t.CanceledAtUnix),
		RejectedAt:        millis(t.RejectedAtUnix),
		FailedAt:          millis(t.FailedAtUnix),
	}
}

// handleTrades lists recent trades; ?status=open narrows to non-terminal ones.
func (r *Router) handleTrades(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		trades []model.TradeModel
		err    error
	)
	if strings.EqualFold(strings.TrimSpace(c.Query("status")), "open") {
		trades, err = r.store.Trades().ListOpen(ctx)
	} else {
		trades, err = r.store.Trades().ListRecent(ctx, limitParam(c))
	}
	if err != nil {
		internalError(c, "trades", err)
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeView(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (r *Router) handleTrade(c *gin.Context) {
	hash := strings.TrimSpace(c.Param("hash"))
	t, err := r.store.Trades().GetBySourceHash(c.Request.Context(), hash)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		return
	}
	if err != nil {
		internalError(c, "trade", err)
		return
	}
	resp := gin.H{"trade": toTradeView(*t)}
	if rec, err := r.store.FeedRecords().Get(c.Request.Context(), hash); err == nil {
		resp["feed_record"] = toFeedRecordView(*rec)
	}
	c.JSON(http.StatusOK, resp)
}

type checkpointView struct {
	TradingDate   string    `json:"trading_date"`
	LastProcessed time.Time `json:"last_processed_timestamp"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r *Router) handleCheckpoints(c *gin.Context) {
	cps, err := r.store.Checkpoints().ListRecent(c.Request.Context(), limitParam(c))
	if err != nil {
		internalError(c, "checkpoints", err)
		return
	}
	out := make([]checkpointView, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpointView{
			TradingDate:   cp.TradingDate,
			LastProcessed: time.UnixMilli(cp.LastProcessedUnix).UTC(),
			UpdatedAt:     time.UnixMilli(cp.UpdatedAtUnix).UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": out})
}

type feedRecordView struct {
	SourceHash  string          `json:"source_hash"`
	Ticker      string          `json:"ticker"`
	PartyName   string          `json:"party_name"`
	Affiliation string          `json:"affiliation,omitempty"`
	Transaction string          `json:"transaction"`
	Amount      string          `json:"amount,omitempty"`
	TradeDate   string          `json:"trade_date,omitempty"`
	FilingDate  string          `json:"filing_date"`
	FiledAt     time.Time       `json:"filed_at"`
	SeenOn      string          `json:"seen_on"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func toFeedRecordView(m model.FeedRecordModel) feedRecordView {
	v := feedRecordView{
		SourceHash:  m.SourceHash,
		Ticker:      m.Ticker,
		PartyName:   m.PartyName,
		Affiliation: m.Affiliation,
		Transaction: m.Transaction,
		Amount:      m.Amount,
		TradeDate:   m.TradeDate,
		FilingDate:  m.FilingDate,
		FiledAt:     time.UnixMilli(m.FiledAtUnix).UTC(),
		SeenOn:      m.SeenOn,
	}
	if len(m.RawJSON) > 0 && json.Valid(m.RawJSON) {
		v.Raw = json.RawMessage(m.RawJSON)
	}
	return v
}

func (r *Router) handleFeedRecords(c *gin.Context) {
	recs, err := r.store.FeedRecords().ListRecent(c.Request.Context(), limitParam(c))
	if err != nil {
		internalError(c, "feed records", err)
		return
	}
	out := make([]feedRecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toFeedRecordView(rec))
	}
	c.JSON(http.StatusOK, gin.H{"feed_records": out})
}

func (r *Router) handleWatchlist(c *gin.Context) {
	snap := r.watchlist.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"parties":   snap.Parties,
	})
}

type positionView struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side,omitempty"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
}

// handlePositions proxies the venue's open positions; venue failures are 502.
func (r *Router) handlePositions(c *gin.Context) {
	positions, err := r.positions.ListPositions(c.Request.Context())
	if err != nil {
		logger.Warnf("status api positions: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "positions unavailable"})
		return
	}
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Qty:           p.Qty.String(),
			AvgEntryPrice: p.AvgEntryPrice.String(),
			MarketValue:   p.MarketValue.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func millis(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.UnixMilli(*v).UTC()
	return &t
}
