package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mimic/internal/calendar"
	"mimic/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

var (
	tickerKeys      = []string{"ticker", "symbol", "asset.ticker"}
	partyKeys       = []string{"representative", "senator", "name", "owner_name", "party_name"}
	labelKeys       = []string{"type", "transaction", "transaction_type"}
	tradeDateKeys   = []string{"transaction_date", "transactionDate", "trade_date"}
	filingDateKeys  = []string{"disclosure_date", "filing_date", "disclosureDate", "filed_at"}
	affiliationKeys = []string{"party", "affiliation"}
	amountKeys      = []string{"amount", "range"}
)

// timestamp layouts that carry a time of day; zone-less ones are read in the
// exchange location.
var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Normalize turns one raw feed record into a Record. It returns a
// *MissingFieldError when ticker, party, transaction label or filing date
// cannot be found.
func Normalize(raw json.RawMessage, loc *time.Location) (Record, error) {
	if loc == nil {
		loc = time.UTC
	}
	if !gjson.ValidBytes(raw) {
		return Record{}, fmt.Errorf("feed record is not valid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Record{}, fmt.Errorf("feed record is not an object")
	}

	rec := Record{Raw: append(json.RawMessage(nil), raw...)}
	rec.Ticker = normalizeTicker(first(doc, tickerKeys))
	if rec.Ticker == "" {
		return Record{}, &MissingFieldError{Field: "ticker"}
	}
	if !symbol.IsValid(rec.Ticker) {
		return Record{}, fmt.Errorf("feed record ticker %q is not a listed symbol", rec.Ticker)
	}
	rec.Party = strings.Join(strings.Fields(first(doc, partyKeys)), " ")
	if rec.Party == "" {
		return Record{}, &MissingFieldError{Field: "party"}
	}
	rec.Label = strings.TrimSpace(first(doc, labelKeys))
	if rec.Label == "" {
		return Record{}, &MissingFieldError{Field: "transaction"}
	}
	rec.Kind = ParseKind(rec.Label)

	filedAt, dateOnly, ok := parseStamp(first(doc, filingDateKeys), loc)
	if !ok {
		return Record{}, &MissingFieldError{Field: "filing_date"}
	}
	rec.FiledAt = filedAt
	rec.DateOnly = dateOnly
	rec.FilingDate = calendar.DateOf(filedAt, loc)

	if ts, _, ok := parseStamp(first(doc, tradeDateKeys), loc); ok {
		rec.TradeDate = calendar.DateOf(ts, loc)
	}
	rec.Affiliation = strings.ToUpper(strings.TrimSpace(first(doc, affiliationKeys)))
	rec.Amount = strings.TrimSpace(first(doc, amountKeys))
	return rec, nil
}

func first(doc gjson.Result, keys []string) string {
	for _, k := range keys {
		v := doc.Get(k)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

// parseStamp reads a filing or trade stamp. Date-only values resolve to the
// last instant of that local day.
func parseStamp(v string, loc *time.Location) (time.Time, bool, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, false, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := calendar.NewDate(t.Date())
			return calendar.LastInstant(d, loc), true, true
		}
	}
	return time.Time{}, false, false
}
