// Package model holds the persisted row shapes. Fields suffixed Unix store
// Unix milliseconds.
package model

import (
	"time"

	"gorm.io/datatypes"
)

type TradeStatus string

const (
	TradeStatusSubmitted       TradeStatus = "submitted"
	TradeStatusPartiallyFilled TradeStatus = "partially_filled"
	TradeStatusFilled          TradeStatus = "filled"
	TradeStatusCanceled        TradeStatus = "canceled"
	TradeStatusRejected        TradeStatus = "rejected"
	TradeStatusFailed          TradeStatus = "failed"
)

// Terminal reports whether no further venue transition is expected.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusFilled, TradeStatusCanceled, TradeStatusRejected, TradeStatusFailed:
		return true
	default:
		return false
	}
}

// Occupying reports whether the trade counts against the daily guardrail caps.
func (s TradeStatus) Occupying() bool {
	return s != TradeStatusFailed && s != TradeStatusRejected
}

var OpenTradeStatuses = []TradeStatus{TradeStatusSubmitted, TradeStatusPartiallyFilled}

type JobStatus string

const (
	JobStatusStarted JobStatus = "started"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

const JobTypeDailyTrade = "daily_trade"

// FeedRecordModel is one unique disclosed filing, keyed by its source hash.
type FeedRecordModel struct {
	SourceHash    string         `gorm:"column:id;primaryKey"`
	Ticker        string         `gorm:"column:ticker;index"`
	PartyName     string         `gorm:"column:party_name"`
	Affiliation   string         `gorm:"column:affiliation"`
	Transaction   string         `gorm:"column:transaction"`
	Amount        string         `gorm:"column:amount"`
	TradeDate     string         `gorm:"column:trade_date"`
	FilingDate    string         `gorm:"column:filing_date"`
	FiledAtUnix   int64          `gorm:"column:filed_at"`
	SeenOn        string         `gorm:"column:seen_on;index"`
	RawJSON       datatypes.JSON `gorm:"column:raw_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (FeedRecordModel) TableName() string { return "feed_record" }

// TradeModel is the single execution attempt for a source hash.
type TradeModel struct {
	ID                int64       `gorm:"column:id;primaryKey;autoIncrement"`
	SourceHash        string      `gorm:"column:source_hash;uniqueIndex"`
	Symbol            string      `gorm:"column:symbol;index"`
	TradingDate       string      `gorm:"column:trading_date;index"`
	Status            TradeStatus `gorm:"column:status;index"`
	VenueStatus       string      `gorm:"column:venue_status"`
	OrderShape        string      `gorm:"column:order_shape"`
	FallbackUsed      bool        `gorm:"column:fallback_used"`
	NotionalSubmitted *float64    `gorm:"column:notional_submitted"`
	QtySubmitted      *float64    `gorm:"column:qty_submitted"`
	FilledQty         float64     `gorm:"column:filled_qty"`
	FilledAvgPrice    *float64    `gorm:"column:filled_avg_price"`
	VenueOrderID      string      `gorm:"column:venue_order_id;index"`
	ClientOrderID     string      `gorm:"column:client_order_id"`
	Reason            string      `gorm:"column:reason"`

	SubmittedAtUnix       *int64 `gorm:"column:submitted_at"`
	PartiallyFilledAtUnix *int64 `gorm:"column:partially_filled_at"`
	FilledAtUnix          *int64 `gorm:"column:filled_at"`
	CanceledAtUnix        *int64 `gorm:"column:canceled_at"`
	RejectedAtUnix        *int64 `gorm:"column:rejected_at"`
	FailedAtUnix          *int64 `gorm:"column:failed_at"`
	CreatedAtUnix         int64  `gorm:"column:created_at"`
	UpdatedAtUnix         int64  `gorm:"column:updated_at"`
}

func (TradeModel) TableName() string { return "trade" }

// TradeUpdate is a venue observation applied atomically to a trade row.
type TradeUpdate struct {
	Status         TradeStatus
	VenueStatus    string
	// VenueOrderID is set once, when an unconfirmed order is found by client order id.
	VenueOrderID   string
	FilledQty      float64
	FilledAvgPrice *float64
	Reason         string
	AtUnix         int64
}

// StatusColumn names the timestamp column recording entry into s.
func StatusColumn(s TradeStatus) string {
	switch s {
	case TradeStatusSubmitted:
		return "submitted_at"
	case TradeStatusPartiallyFilled:
		return "partially_filled_at"
	case TradeStatusFilled:
		return "filled_at"
	case TradeStatusCanceled:
		return "canceled_at"
	case TradeStatusRejected:
		return "rejected_at"
	case TradeStatusFailed:
		return "failed_at"
	default:
		return ""
	}
}

type JobRunModel struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Type           string         `gorm:"column:type;uniqueIndex:idx_job_run_day,priority:1"`
	TradingDate    string         `gorm:"column:trading_date;uniqueIndex:idx_job_run_day,priority:2"`
	Status         JobStatus      `gorm:"column:status"`
	Attempt        int            `gorm:"column:attempt"`
	SummaryJSON    datatypes.JSON `gorm:"column:summary_json;type:TEXT"`
	Error          string         `gorm:"column:error"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	// HeartbeatUnix is refreshed by the owner while the run makes progress.
	HeartbeatUnix  *int64         `gorm:"column:heartbeat_at"`
	FinishedAtUnix *int64         `gorm:"column:finished_at"`
}

func (JobRunModel) TableName() string { return "job_run" }

// LastSeen is the latest sign of life from the run's owner.
func (m JobRunModel) LastSeen() time.Time {
	if m.HeartbeatUnix != nil && *m.HeartbeatUnix > m.StartedAtUnix {
		return time.UnixMilli(*m.HeartbeatUnix)
	}
	return time.UnixMilli(m.StartedAtUnix)
}

// IngestCheckpointModel is the high-water mark for one trading date.
type IngestCheckpointModel struct {
	TradingDate       string `gorm:"column:trading_date;primaryKey"`
	LastProcessedUnix int64  `gorm:"column:last_processed_timestamp"`
	UpdatedAtUnix     int64  `gorm:"column:updated_at"`
}

func (IngestCheckpointModel) TableName() string { return "ingest_checkpoint" }
