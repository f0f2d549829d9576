// Package feed fetches disclosed transactions from the upstream vendor and
// normalizes their loosely typed fields.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mimic/internal/calendar"
	"mimic/internal/pkg/symbol"
)

// Kind is the normalized transaction direction; only BUY is actionable.
type Kind string

const (
	KindBuy     Kind = "BUY"
	KindSell    Kind = "SELL"
	KindUnknown Kind = "UNKNOWN"
)

// Record is one normalized filing.
type Record struct {
	Ticker      string
	Party       string
	Affiliation string
	Kind        Kind
	Label       string
	Amount      string
	TradeDate   calendar.Date
	FilingDate  calendar.Date
	// FiledAt places the filing in time. Date-only stamps resolve to the
	// last instant of that local day.
	FiledAt  time.Time
	DateOnly bool
	Raw      json.RawMessage
}

// SourceHash is the dedup key of the record.
func (r Record) SourceHash() string {
	return SourceHash(r.Party, r.Ticker, r.FilingDate, r.Kind)
}

// SourceHash is a pure function of the normalized (party, ticker, filing
// day, kind) tuple.
func SourceHash(party, ticker string, filingDate calendar.Date, kind Kind) string {
	key := strings.Join([]string{
		normalizeParty(party),
		normalizeTicker(ticker),
		filingDate.String(),
		string(kind),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MissingFieldError reports a record lacking a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("feed record missing %s", e.Field)
}

func normalizeParty(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}

func normalizeTicker(v string) string { return symbol.Normalize(v) }

// NormalizeParty is the comparison form of a party name.
func NormalizeParty(v string) string { return normalizeParty(v) }

// ParseKind maps a free-text transaction label.
func ParseKind(label string) Kind {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return KindUnknown
	case l == "p" || strings.HasPrefix(l, "purchase") || strings.HasPrefix(l, "buy"):
		return KindBuy
	case l == "s" || strings.HasPrefix(l, "s (") || strings.HasPrefix(l, "sale") || strings.HasPrefix(l, "sell"):
		return KindSell
	default:
		return KindUnknown
	}
}
