package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mimic/internal/broker"
	"mimic/internal/store"
	"mimic/internal/store/gormstore"
	"mimic/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	order *broker.Order
	err   error
}

// scriptedOrders replays steps per order id (and per client order id for
// lookups); the last step repeats.
type scriptedOrders struct {
	mu          sync.Mutex
	steps       map[string][]step
	calls       map[string]int
	byClient    map[string][]step
	clientCalls map[string]int
}

func (s *scriptedOrders) FindOrderByClientID(_ context.Context, id string) (*broker.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientCalls == nil {
		s.clientCalls = make(map[string]int)
	}
	seq := s.byClient[id]
	if len(seq) == 0 {
		return nil, nil
	}
	i := s.clientCalls[id]
	s.clientCalls[id]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i].order, seq[i].err
}

func (s *scriptedOrders) GetOrder(_ context.Context, id string) (*broker.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	seq := s.steps[id]
	if len(seq) == 0 {
		return nil, &broker.APIError{Status: 404, Message: "order not found"}
	}
	i := s.calls[id]
	s.calls[id]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i].order, seq[i].err
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func setup(t *testing.T, orders OrderSource, cfg Config) (*Poller, store.Store, *fakeClock) {
	t.Helper()
	s, err := gormstore.Open(filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	clock := &fakeClock{now: time.Date(2024, 7, 8, 13, 31, 0, 0, time.UTC)}
	return NewPoller(orders, s.Trades(), cfg, WithClock(clock.Now), WithSleep(clock.Sleep)), s, clock
}

func seedTrade(t *testing.T, s store.Store, hash, orderID string, status model.TradeStatus) *model.TradeModel {
	t.Helper()
	_, row, err := s.Trades().Create(context.Background(), &model.TradeModel{
		SourceHash:   hash,
		Symbol:       "AAPL",
		TradingDate:  "2024-07-08",
		Status:       status,
		VenueOrderID: orderID,
	})
	require.NoError(t, err)
	return row
}

func seedUnconfirmed(t *testing.T, s store.Store, hash, clientOrderID string) *model.TradeModel {
	t.Helper()
	_, row, err := s.Trades().Create(context.Background(), &model.TradeModel{
		SourceHash:    hash,
		Symbol:        "AAPL",
		TradingDate:   "2024-07-08",
		Status:        model.TradeStatusSubmitted,
		ClientOrderID: clientOrderID,
	})
	require.NoError(t, err)
	return row
}

func order(status, filled, avg string) *broker.Order {
	o := &broker.Order{ID: "o-1", Status: status, FilledQty: decimal.RequireFromString(filled)}
	if avg != "" {
		o.FilledAvgPrice = decimal.NewNullDecimal(decimal.RequireFromString(avg))
	}
	return o
}

func TestReconcile_FollowsToFilled(t *testing.T) {
	filledAt := time.Date(2024, 7, 8, 13, 31, 2, 0, time.UTC)
	done := order("filled", "3", "333.10")
	done.FilledAt = &filledAt
	orders := &scriptedOrders{steps: map[string][]step{"o-1": {
		{order: order("accepted", "0", "")},
		{order: order("partially_filled", "1", "333.00")},
		{order: done},
	}}}
	p, s, clock := setup(t, orders, Config{Initial: 100 * time.Millisecond, Max: time.Second, Budget: time.Minute})
	tr := seedTrade(t, s, "h1", "o-1", model.TradeStatusSubmitted)

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFilled, st)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.waits)

	row, err := s.Trades().Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFilled, row.Status)
	assert.Equal(t, "filled", row.VenueStatus)
	assert.Equal(t, 3.0, row.FilledQty)
	require.NotNil(t, row.FilledAvgPrice)
	assert.Equal(t, 333.10, *row.FilledAvgPrice)
	require.NotNil(t, row.PartiallyFilledAtUnix)
	require.NotNil(t, row.FilledAtUnix)
	assert.Equal(t, filledAt.UnixMilli(), *row.FilledAtUnix)
}

func TestReconcile_BudgetExhaustedLeavesStatus(t *testing.T) {
	orders := &scriptedOrders{steps: map[string][]step{"o-1": {{order: order("new", "0", "")}}}}
	p, s, clock := setup(t, orders, Config{Initial: time.Second, Max: 4 * time.Second, Budget: 10 * time.Second})
	tr := seedTrade(t, s, "h1", "o-1", model.TradeStatusSubmitted)

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusSubmitted, st)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 3 * time.Second}, clock.waits)
	assert.Equal(t, 5, orders.calls["o-1"])

	row, err := s.Trades().Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusSubmitted, row.Status)
	assert.Nil(t, row.FilledAtUnix)
}

func TestReconcile_TransientErrorsAreRetried(t *testing.T) {
	orders := &scriptedOrders{steps: map[string][]step{"o-1": {
		{err: fmt.Errorf("poll: %w", broker.ErrTransient)},
		{order: order("canceled", "0", "")},
	}}}
	p, s, _ := setup(t, orders, Config{Initial: time.Millisecond, Max: time.Millisecond, Budget: time.Second})
	tr := seedTrade(t, s, "h1", "o-1", model.TradeStatusSubmitted)

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusCanceled, st)
}

func TestReconcile_PermanentErrorStops(t *testing.T) {
	orders := &scriptedOrders{}
	p, s, clock := setup(t, orders, Config{})
	tr := seedTrade(t, s, "h1", "o-missing", model.TradeStatusSubmitted)

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.Error(t, err)
	assert.Equal(t, model.TradeStatusSubmitted, st)
	assert.Empty(t, clock.waits)
}

func TestReconcile_TerminalTradeIsNotPolled(t *testing.T) {
	orders := &scriptedOrders{}
	p, s, _ := setup(t, orders, Config{})
	tr := seedTrade(t, s, "h1", "o-1", model.TradeStatusFailed)

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFailed, st)
	assert.Empty(t, orders.calls)
}

func TestReconcileOpen(t *testing.T) {
	orders := &scriptedOrders{steps: map[string][]step{
		"o-1": {{order: order("filled", "2", "100")}},
		"o-2": {{order: order("expired", "0", "")}},
	}}
	p, s, _ := setup(t, orders, Config{Initial: time.Millisecond, Budget: time.Second})
	seedTrade(t, s, "h1", "o-1", model.TradeStatusSubmitted)
	seedTrade(t, s, "h2", "o-2", model.TradeStatusPartiallyFilled)
	seedTrade(t, s, "h3", "o-3", model.TradeStatusFilled)

	counts, err := p.ReconcileOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[model.TradeStatus]int{model.TradeStatusFilled: 1, model.TradeStatusCanceled: 1}, counts)

	open, err := s.Trades().ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReconcileOpen_SharesOneBudget(t *testing.T) {
	orders := &scriptedOrders{steps: map[string][]step{
		"o-1": {{order: order("new", "0", "")}},
		"o-2": {{order: order("new", "0", "")}},
		"o-3": {{order: order("new", "0", "")}},
	}}
	p, s, clock := setup(t, orders, Config{Initial: time.Second, Max: 4 * time.Second, Budget: 10 * time.Second})
	seedTrade(t, s, "h1", "o-1", model.TradeStatusSubmitted)
	seedTrade(t, s, "h2", "o-2", model.TradeStatusSubmitted)
	seedTrade(t, s, "h3", "o-3", model.TradeStatusSubmitted)
	start := clock.Now()

	counts, err := p.ReconcileOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[model.TradeStatus]int{model.TradeStatusSubmitted: 3}, counts)
	assert.Equal(t, 10*time.Second, clock.Now().Sub(start), "the sweep never waits past one budget")
	assert.Equal(t, 5, orders.calls["o-1"])
	assert.Equal(t, 1, orders.calls["o-2"])
	assert.Equal(t, 1, orders.calls["o-3"])
}

func TestReconcile_FindsUnconfirmedOrderByClientID(t *testing.T) {
	orders := &scriptedOrders{
		byClient: map[string][]step{"cid-1": {
			{err: fmt.Errorf("lookup: %w", broker.ErrTransient)},
			{order: order("accepted", "0", "")},
		}},
		steps: map[string][]step{"o-1": {{order: order("filled", "3", "322.58")}}},
	}
	p, s, _ := setup(t, orders, Config{Initial: time.Millisecond, Budget: time.Second})
	tr := seedUnconfirmed(t, s, "h1", "cid-1")

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFilled, st)
	assert.Equal(t, 2, orders.clientCalls["cid-1"])
	assert.Equal(t, 1, orders.calls["o-1"])

	row, err := s.Trades().Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "o-1", row.VenueOrderID)
	assert.Equal(t, model.TradeStatusFilled, row.Status)
	assert.Equal(t, 3.0, row.FilledQty)
}

func TestReconcile_UnconfirmedOrderMissingAtVenueFails(t *testing.T) {
	orders := &scriptedOrders{}
	p, s, _ := setup(t, orders, Config{Initial: time.Millisecond, Budget: time.Second})
	tr := seedUnconfirmed(t, s, "h1", "cid-gone")

	st, err := p.Reconcile(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFailed, st)

	row, err := s.Trades().Get(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TradeStatusFailed, row.Status)
	assert.Equal(t, ReasonNotAtVenue, row.Reason)
	assert.Empty(t, row.VenueOrderID)
	require.NotNil(t, row.FailedAtUnix)
}
