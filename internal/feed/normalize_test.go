package feed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mimic/internal/calendar"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestNormalize_FieldAliases(t *testing.T) {
	loc := newYork(t)
	tests := []struct {
		name string
		raw  string
		want Record
	}{
		{
			name: "house style",
			raw: `{"ticker":" $aapl ","representative":"Jane   Doe","type":"purchase","transaction_date":"2024-06-20",
			       "disclosure_date":"07/05/2024","party":"d","amount":"$1,001 - $15,000"}`,
			want: Record{Ticker: "AAPL", Party: "Jane Doe", Kind: KindBuy, Label: "purchase", Affiliation: "D",
				Amount: "$1,001 - $15,000", TradeDate: calendar.MustParseDate("2024-06-20"), FilingDate: calendar.MustParseDate("2024-07-05")},
		},
		{
			name: "senate style",
			raw: `{"asset":{"ticker":"MSFT"},"senator":"John Roe","transaction":"Sale (Full)","transactionDate":"Jun 3, 2024",
			       "disclosureDate":"2024-07-05T14:00:00Z","affiliation":"R"}`,
			want: Record{Ticker: "MSFT", Party: "John Roe", Kind: KindSell, Label: "Sale (Full)", Affiliation: "R",
				TradeDate: calendar.MustParseDate("2024-06-03"), FilingDate: calendar.MustParseDate("2024-07-05")},
		},
		{
			name: "vendor style",
			raw:  `{"symbol":"nvda","owner_name":"A. Person","transaction_type":"P","trade_date":"2024-07-01","filed_at":"2024-07-05 09:15:00"}`,
			want: Record{Ticker: "NVDA", Party: "A. Person", Kind: KindBuy, Label: "P",
				TradeDate: calendar.MustParseDate("2024-07-01"), FilingDate: calendar.MustParseDate("2024-07-05")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(json.RawMessage(tt.raw), loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Ticker, got.Ticker)
			assert.Equal(t, tt.want.Party, got.Party)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Label, got.Label)
			assert.Equal(t, tt.want.Affiliation, got.Affiliation)
			assert.Equal(t, tt.want.Amount, got.Amount)
			assert.Equal(t, tt.want.TradeDate, got.TradeDate)
			assert.Equal(t, tt.want.FilingDate, got.FilingDate)
			assert.JSONEq(t, tt.raw, string(got.Raw))
		})
	}
}

func TestNormalize_FilingStamps(t *testing.T) {
	loc := newYork(t)

	dateOnly, err := Normalize(json.RawMessage(`{"ticker":"AAPL","name":"x","type":"buy","filing_date":"2024-07-05"}`), loc)
	require.NoError(t, err)
	assert.True(t, dateOnly.DateOnly)
	assert.Equal(t, calendar.LastInstant(calendar.MustParseDate("2024-07-05"), loc), dateOnly.FiledAt)

	zoned, err := Normalize(json.RawMessage(`{"ticker":"AAPL","name":"x","type":"buy","filing_date":"2024-07-06T02:00:00Z"}`), loc)
	require.NoError(t, err)
	assert.False(t, zoned.DateOnly)
	assert.Equal(t, "2024-07-05", zoned.FilingDate.String(), "filing date follows the exchange timezone")

	local, err := Normalize(json.RawMessage(`{"ticker":"AAPL","name":"x","type":"buy","filing_date":"2024-07-05 09:29:59"}`), loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 5, 13, 29, 59, 0, time.UTC), local.FiledAt.UTC())
}

func TestNormalize_MissingFields(t *testing.T) {
	loc := newYork(t)
	tests := []struct {
		raw   string
		field string
	}{
		{`{"name":"x","type":"buy","filing_date":"2024-07-05"}`, "ticker"},
		{`{"ticker":"--","name":"x","type":"buy","filing_date":"2024-07-05"}`, "ticker"},
		{`{"ticker":"N/A","name":"x","type":"buy","filing_date":"2024-07-05"}`, "ticker"},
		{`{"ticker":"AAPL","name":"  ","type":"buy","filing_date":"2024-07-05"}`, "party"},
		{`{"ticker":"AAPL","name":"x","filing_date":"2024-07-05"}`, "transaction"},
		{`{"ticker":"AAPL","name":"x","type":"buy"}`, "filing_date"},
		{`{"ticker":"AAPL","name":"x","type":"buy","filing_date":"someday"}`, "filing_date"},
		{`{"ticker":"AAPL","name":"x","type":"buy","filing_date":null}`, "filing_date"},
	}
	for _, tt := range tests {
		_, err := Normalize(json.RawMessage(tt.raw), loc)
		var missing *MissingFieldError
		require.True(t, errors.As(err, &missing), "raw=%s err=%v", tt.raw, err)
		assert.Equal(t, tt.field, missing.Field)
	}

	_, err := Normalize(json.RawMessage(`[1,2]`), loc)
	assert.Error(t, err)

	_, err = Normalize(json.RawMessage(`{"ticker":"Apple Inc. common stock","name":"x","type":"buy","filing_date":"2024-07-05"}`), loc)
	require.Error(t, err)
	var missing *MissingFieldError
	assert.False(t, errors.As(err, &missing), "a bad ticker is invalid, not missing")
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"Purchase":          KindBuy,
		"buy":               KindBuy,
		"p":                 KindBuy,
		"Sale (Partial)":    KindSell,
		"sale_full":         KindSell,
		"S":                 KindSell,
		"S (partial)":       KindSell,
		"Sell":              KindSell,
		"Exchange":          KindUnknown,
		"Received as gift":  KindUnknown,
		"":                  KindUnknown,
	}
	for label, want := range cases {
		assert.Equal(t, want, ParseKind(label), label)
	}
}

func TestSourceHash_IgnoresRawPayload(t *testing.T) {
	loc := newYork(t)
	a, err := Normalize(json.RawMessage(`{"ticker":"AAPL","name":"Jane Doe","type":"purchase","filing_date":"2024-07-05","amount":"$1K"}`), loc)
	require.NoError(t, err)
	b, err := Normalize(json.RawMessage(`{"symbol":"aapl","representative":"jane  doe","transaction":"Purchase","disclosure_date":"2024-07-05T10:00:00-04:00","extra":1}`), loc)
	require.NoError(t, err)
	assert.Equal(t, a.SourceHash(), b.SourceHash())
	assert.Len(t, a.SourceHash(), 64)

	sell, err := Normalize(json.RawMessage(`{"ticker":"AAPL","name":"Jane Doe","type":"sale","filing_date":"2024-07-05"}`), loc)
	require.NoError(t, err)
	assert.NotEqual(t, a.SourceHash(), sell.SourceHash())

	next := SourceHash("Jane Doe", "AAPL", calendar.MustParseDate("2024-07-06"), KindBuy)
	assert.NotEqual(t, a.SourceHash(), next)
}

func TestValidate_Schema(t *testing.T) {
	assert.NoError(t, Validate(json.RawMessage(`{"ticker":"AAPL","amount":1000,"unknown":{"a":1}}`)))
	assert.NoError(t, Validate(json.RawMessage(`{"ticker":null}`)))
	assert.Error(t, Validate(json.RawMessage(`{"ticker":123}`)))
	assert.Error(t, Validate(json.RawMessage(`{"filing_date":["2024-07-05"]}`)))
	assert.Error(t, Validate(json.RawMessage(`"just a string"`)))
}
