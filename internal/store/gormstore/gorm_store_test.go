package gormstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mimic/internal/store"
	"mimic/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "mimic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func floatPtr(v float64) *float64 { return &v }

func TestFeedRecords_CreateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &model.FeedRecordModel{
		SourceHash:  "abc",
		Ticker:      "AAPL",
		PartyName:   "jane doe",
		Transaction: "BUY",
		FilingDate:  "2024-07-05",
		RawJSON:     datatypes.JSON(`{"ticker":"AAPL","n":1}`),
	}
	outcome, got, err := s.FeedRecords().Create(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, store.Created, outcome)
	assert.Equal(t, "AAPL", got.Ticker)

	dup := &model.FeedRecordModel{SourceHash: "abc", Ticker: "AAPL", RawJSON: datatypes.JSON(`{"n":2}`)}
	outcome, got, err = s.FeedRecords().Create(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, store.AlreadyExists, outcome)
	assert.JSONEq(t, `{"ticker":"AAPL","n":1}`, string(got.RawJSON), "existing row is never rewritten")

	list, err := s.FeedRecords().ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.FeedRecords().Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrades_UniquePerSourceHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	outcome, trade, err := s.Trades().Create(ctx, &model.TradeModel{
		SourceHash:        "h1",
		Symbol:            "AAPL",
		TradingDate:       "2024-07-08",
		Status:            model.TradeStatusSubmitted,
		NotionalSubmitted: floatPtr(1000),
		VenueOrderID:      "o-1",
	})
	require.NoError(t, err)
	assert.Equal(t, store.Created, outcome)
	assert.NotZero(t, trade.ID)

	outcome, again, err := s.Trades().Create(ctx, &model.TradeModel{SourceHash: "h1", Symbol: "AAPL", Status: model.TradeStatusSubmitted})
	require.NoError(t, err)
	assert.Equal(t, store.AlreadyExists, outcome)
	assert.Equal(t, trade.ID, again.ID)
	assert.Equal(t, "o-1", again.VenueOrderID)
}

func TestTrades_ApplyUpdateStopsAtTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, trade, err := s.Trades().Create(ctx, &model.TradeModel{
		SourceHash: "h1", Symbol: "AAPL", TradingDate: "2024-07-08", Status: model.TradeStatusSubmitted,
	})
	require.NoError(t, err)

	changed, err := s.Trades().ApplyUpdate(ctx, trade.ID, model.TradeUpdate{
		Status: model.TradeStatusPartiallyFilled, VenueStatus: "partially_filled", FilledQty: 1, FilledAvgPrice: floatPtr(210.5), AtUnix: 1000,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Trades().ApplyUpdate(ctx, trade.ID, model.TradeUpdate{
		Status: model.TradeStatusFilled, VenueStatus: "filled", FilledQty: 4.75, FilledAvgPrice: floatPtr(210.4), AtUnix: 2000,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Trades().ApplyUpdate(ctx, trade.ID, model.TradeUpdate{Status: model.TradeStatusCanceled, AtUnix: 3000})
	require.NoError(t, err)
	assert.False(t, changed, "terminal trades are never rewritten")

	got, err := s.Trades().Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFilled, got.Status)
	assert.InDelta(t, 4.75, got.FilledQty, 1e-9)
	require.NotNil(t, got.FilledAvgPrice)
	assert.InDelta(t, 210.4, *got.FilledAvgPrice, 1e-9)
	require.NotNil(t, got.PartiallyFilledAtUnix)
	assert.EqualValues(t, 1000, *got.PartiallyFilledAtUnix)
	require.NotNil(t, got.FilledAtUnix)
	assert.EqualValues(t, 2000, *got.FilledAtUnix)
	assert.Nil(t, got.CanceledAtUnix)

	_, err = s.Trades().ApplyUpdate(ctx, 999, model.TradeUpdate{Status: model.TradeStatusFilled})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrades_CountOccupyingAndListOpen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rows := []model.TradeModel{
		{SourceHash: "a", Symbol: "AAPL", TradingDate: "2024-07-08", Status: model.TradeStatusFilled},
		{SourceHash: "b", Symbol: "AAPL", TradingDate: "2024-07-08", Status: model.TradeStatusSubmitted},
		{SourceHash: "c", Symbol: "MSFT", TradingDate: "2024-07-08", Status: model.TradeStatusFailed},
		{SourceHash: "d", Symbol: "MSFT", TradingDate: "2024-07-08", Status: model.TradeStatusPartiallyFilled},
		{SourceHash: "e", Symbol: "AAPL", TradingDate: "2024-07-05", Status: model.TradeStatusSubmitted},
	}
	for i := range rows {
		_, _, err := s.Trades().Create(ctx, &rows[i])
		require.NoError(t, err)
	}

	total, perSymbol, err := s.Trades().CountOccupying(ctx, "2024-07-08")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, map[string]int{"AAPL": 2, "MSFT": 1}, perSymbol)

	open, err := s.Trades().ListOpen(ctx)
	require.NoError(t, err)
	var hashes []string
	for _, tr := range open {
		hashes = append(hashes, tr.SourceHash)
	}
	assert.Equal(t, []string{"b", "d", "e"}, hashes)
}

func TestJobRuns_ClaimOncePerDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 35, 0, 0, time.UTC)

	res, err := s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, model.JobStatusStarted, res.Run.Status)

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Claimed, "fresh started run is owned by someone else")

	require.NoError(t, s.JobRuns().Finish(ctx, res.Run.ID, model.JobStatusSuccess, []byte(`{"submitted":1}`), "", now.Add(2*time.Minute)))
	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(48*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Claimed, "successful run is never reclaimed")
	assert.Equal(t, model.JobStatusSuccess, res.Run.Status)
	assert.JSONEq(t, `{"submitted":1}`, string(res.Run.SummaryJSON))

	other, err := s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-09", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, other.Claimed)
}

func TestJobRuns_ReclaimFailedAndStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 35, 0, 0, time.UTC)

	res, err := s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.JobRuns().Finish(ctx, res.Run.ID, model.JobStatusFailed, nil, "feed down", now))

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.True(t, res.Reclaimed)
	assert.Equal(t, 2, res.Run.Attempt)
	assert.Empty(t, res.Run.Error)
	assert.Nil(t, res.Run.FinishedAtUnix)

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(30*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Claimed, "abandoned started run is taken over")
	assert.Equal(t, 3, res.Run.Attempt)

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(72*time.Hour), 0)
	require.NoError(t, err)
	assert.False(t, res.Claimed, "stale takeover disabled")
}

func TestJobRuns_HeartbeatKeepsRunOwned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 35, 0, 0, time.UTC)

	res, err := s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now, time.Hour)
	require.NoError(t, err)
	id := res.Run.ID
	require.NoError(t, s.JobRuns().Heartbeat(ctx, id, now.Add(50*time.Minute)))

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(90*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Claimed, "started long ago but seen recently")
	assert.Equal(t, now.Add(50*time.Minute).UnixMilli(), res.Run.LastSeen().UnixMilli())

	res, err = s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now.Add(151*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Claimed, "silent past the heartbeat")
	assert.Nil(t, res.Run.HeartbeatUnix)

	require.NoError(t, s.JobRuns().Finish(ctx, id, model.JobStatusSuccess, nil, "", now.Add(3*time.Hour)))
	assert.ErrorIs(t, s.JobRuns().Heartbeat(ctx, id, now.Add(4*time.Hour)), store.ErrNotFound)
}

func TestJobRuns_ConcurrentClaimHasOneWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 35, 0, 0, time.UTC)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now, time.Hour)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Claimed {
				winners++
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, errs)
	assert.Equal(t, 1, winners)

	runs, err := s.JobRuns().ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCheckpoints_Monotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	open := time.Date(2024, 7, 8, 13, 30, 0, 0, time.UTC)

	_, ok, err := s.Checkpoints().Get(ctx, "2024-07-08")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Checkpoints().Advance(ctx, "2024-07-08", open, open))
	require.NoError(t, s.Checkpoints().Advance(ctx, "2024-07-08", open.Add(-time.Hour), open))

	got, ok, err := s.Checkpoints().Get(ctx, "2024-07-08")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(open), "checkpoint never moves backward, got %s", got)

	require.NoError(t, s.Checkpoints().Advance(ctx, "2024-07-08", open.Add(time.Hour), open))
	got, _, err = s.Checkpoints().Get(ctx, "2024-07-08")
	require.NoError(t, err)
	assert.True(t, got.Equal(open.Add(time.Hour)))
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 30, 0, 0, time.UTC)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Checkpoints().Advance(ctx, "2024-07-08", now, now))
	require.NoError(t, uow.Rollback())

	_, ok, err := s.Checkpoints().Get(ctx, "2024-07-08")
	require.NoError(t, err)
	assert.False(t, ok)

	uow, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Checkpoints().Advance(ctx, "2024-07-08", now, now))
	require.NoError(t, uow.Commit())

	_, ok, err = s.Checkpoints().Get(ctx, "2024-07-08")
	require.NoError(t, err)
	assert.True(t, ok)
}
