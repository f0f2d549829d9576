package orchestrator

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"mimic/internal/feed"
)

// PartyFilter narrows candidates to watched parties. A nil filter watches everyone.
type PartyFilter interface {
	Watching(party string) bool
}

type candidate struct {
	record feed.Record
	hash   string
}

// symbolGroup is the unit of concurrency: candidates for one symbol run in order.
type symbolGroup struct {
	symbol     string
	candidates []candidate
}

// collect turns fetched batches into deduplicated BUY candidates, counting
// every record it drops under exactly one reason.
func collect(batches []feed.Batch, plan Plan, loc *time.Location, watch PartyFilter, log *slog.Logger) ([]candidate, Counts) {
	var (
		counts Counts
		out    []candidate
		seen   = make(map[string]struct{})
	)
	for _, b := range batches {
		for _, raw := range b.Records {
			counts.Fetched++
			if err := feed.Validate(raw); err != nil {
				counts.Invalid++
				log.Debug("record failed schema", "date", b.Date, "error", err)
				continue
			}
			rec, err := feed.Normalize(raw, loc)
			if err != nil {
				var missing *feed.MissingFieldError
				if errors.As(err, &missing) {
					counts.MissingFields++
				} else {
					counts.Invalid++
				}
				log.Debug("record dropped", "date", b.Date, "error", err)
				continue
			}
			if _, ok := plan.Owner(rec.FiledAt); !ok {
				counts.OutsideWindow++
				continue
			}
			if rec.Kind != feed.KindBuy {
				counts.NonBuy++
				continue
			}
			if watch != nil && !watch.Watching(rec.Party) {
				counts.Unwatched++
				continue
			}
			hash := rec.SourceHash()
			if _, dup := seen[hash]; dup {
				counts.Duplicates++
				continue
			}
			seen[hash] = struct{}{}
			out = append(out, candidate{record: rec, hash: hash})
		}
	}
	counts.Candidates = len(out)
	return out, counts
}

// groupBySymbol keeps the first-seen order of symbols and, within a symbol,
// orders candidates by filing instant.
func groupBySymbol(cands []candidate) []symbolGroup {
	index := make(map[string]int)
	var groups []symbolGroup
	for _, c := range cands {
		i, ok := index[c.record.Ticker]
		if !ok {
			i = len(groups)
			index[c.record.Ticker] = i
			groups = append(groups, symbolGroup{symbol: c.record.Ticker})
		}
		groups[i].candidates = append(groups[i].candidates, c)
	}
	for i := range groups {
		sort.SliceStable(groups[i].candidates, func(a, b int) bool {
			return groups[i].candidates[a].record.FiledAt.Before(groups[i].candidates[b].record.FiledAt)
		})
	}
	return groups
}
