package statushttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mimic/internal/broker"
	"mimic/internal/store"
	"mimic/internal/store/gormstore"
	"mimic/internal/store/model"
	"mimic/internal/watchlist"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type staticList struct{ snap watchlist.Snapshot }

func (s staticList) Snapshot() watchlist.Snapshot { return s.snap }

type staticPositions struct {
	positions []broker.Position
	err       error
}

func (s staticPositions) ListPositions(context.Context) ([]broker.Position, error) {
	return s.positions, s.err
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	return newTestServerWith(t, staticPositions{positions: []broker.Position{{
		Symbol:        "AAPL",
		Side:          "long",
		Qty:           decimal.RequireFromString("3.1"),
		AvgEntryPrice: decimal.RequireFromString("322.58"),
		MarketValue:   decimal.RequireFromString("1001.50"),
	}}})
}

func newTestServerWith(t *testing.T, positions PositionSource) (*Server, store.Store) {
	t.Helper()
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv, err := NewServer(ServerConfig{
		Store:     st,
		Watchlist: staticList{snap: watchlist.Snapshot{Version: 3, Parties: []watchlist.Party{{Name: "Jane Doe"}}}},
		Positions: positions,
	})
	require.NoError(t, err)
	return srv, st
}

func get(t *testing.T, srv *Server, path string) (int, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 7, 8, 13, 40, 0, 0, time.UTC)

	_, _, err := st.FeedRecords().Create(ctx, &model.FeedRecordModel{
		SourceHash:  "h1",
		Ticker:      "AAPL",
		PartyName:   "jane doe",
		Transaction: "BUY",
		FilingDate:  "2024-07-08",
		FiledAtUnix: now.Add(-2 * time.Hour).UnixMilli(),
		SeenOn:      "2024-07-08",
		RawJSON:     datatypes.JSON(`{"ticker":"AAPL"}`),
	})
	require.NoError(t, err)

	notional := 1000.0
	submitted := now.UnixMilli()
	_, _, err = st.Trades().Create(ctx, &model.TradeModel{
		SourceHash:        "h1",
		Symbol:            "AAPL",
		TradingDate:       "2024-07-08",
		Status:            model.TradeStatusSubmitted,
		OrderShape:        "notional",
		NotionalSubmitted: &notional,
		VenueOrderID:      "ord-1",
		SubmittedAtUnix:   &submitted,
	})
	require.NoError(t, err)

	claim, err := st.JobRuns().Claim(ctx, model.JobTypeDailyTrade, "2024-07-08", now, time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.JobRuns().Finish(ctx, claim.Run.ID, model.JobStatusSuccess, []byte(`{"outcome":"success"}`), "", now))
	require.NoError(t, st.Checkpoints().Advance(ctx, "2024-07-08", time.Date(2024, 7, 8, 13, 30, 0, 0, time.UTC), now))
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
}

func TestRouter_ListsPersistedState(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	code, body := get(t, srv, "/api/job-runs")
	require.Equal(t, http.StatusOK, code)
	var runs []jobRunView
	require.NoError(t, json.Unmarshal(body["job_runs"], &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.JobStatusSuccess, runs[0].Status)
	assert.Equal(t, 1, runs[0].Attempt)
	assert.JSONEq(t, `{"outcome":"success"}`, string(runs[0].Summary))
	assert.NotNil(t, runs[0].FinishedAt)

	code, body = get(t, srv, "/api/trades?status=open")
	require.Equal(t, http.StatusOK, code)
	var trades []tradeView
	require.NoError(t, json.Unmarshal(body["trades"], &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Symbol)
	assert.Equal(t, "ord-1", trades[0].VenueOrderID)
	require.NotNil(t, trades[0].SubmittedAt)
	assert.Nil(t, trades[0].FilledAt)

	code, body = get(t, srv, "/api/checkpoints")
	require.Equal(t, http.StatusOK, code)
	var cps []checkpointView
	require.NoError(t, json.Unmarshal(body["checkpoints"], &cps))
	require.Len(t, cps, 1)
	assert.True(t, cps[0].LastProcessed.Equal(time.Date(2024, 7, 8, 13, 30, 0, 0, time.UTC)))

	code, body = get(t, srv, "/api/feed-records?limit=5000")
	require.Equal(t, http.StatusOK, code)
	var recs []feedRecordView
	require.NoError(t, json.Unmarshal(body["feed_records"], &recs))
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"ticker":"AAPL"}`, string(recs[0].Raw))

	code, body = get(t, srv, "/api/watchlist")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `3`, string(body["version"]))
}

func TestRouter_TradeByHash(t *testing.T) {
	srv, st := newTestServer(t)
	seed(t, st)

	code, body := get(t, srv, "/api/trades/h1")
	require.Equal(t, http.StatusOK, code)
	var tv tradeView
	require.NoError(t, json.Unmarshal(body["trade"], &tv))
	assert.Equal(t, "h1", tv.SourceHash)
	assert.Contains(t, body, "feed_record")

	code, body = get(t, srv, "/api/trades/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "error")
}

func TestRouter_Positions(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := get(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, code)
	var positions []positionView
	require.NoError(t, json.Unmarshal(body["positions"], &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, positionView{Symbol: "AAPL", Side: "long", Qty: "3.1", AvgEntryPrice: "322.58", MarketValue: "1001.5"}, positions[0])

	down, _ := newTestServerWith(t, staticPositions{err: broker.ErrTransient})
	code, body = get(t, down, "/api/positions")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body, "error")

	none, _ := newTestServerWith(t, nil)
	rec := httptest.NewRecorder()
	none.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLimitParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := map[string]int{
		"":             100,
		"?limit=0":     100,
		"?limit=-3":    100,
		"?limit=abc":   100,
		"?limit=42":    42,
		"?limit=500":   500,
		"?limit=50000": 500,
	}
	for query, want := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/api/trades"+query, nil)
		assert.Equal(t, want, limitParam(c), query)
	}
}

func TestNewServer_RequiresStore(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
