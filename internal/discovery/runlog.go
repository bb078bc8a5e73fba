package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// RunStore records search runs.
type RunStore interface {
	InsertSearchRuns(ctx context.Context, runs []model.LeadSearchRun) error
}

// RunLogger writes one audit row per searched pair.
type RunLogger struct {
	store RunStore
	now   func() time.Time
}

// NewRunLogger creates a RunLogger.
func NewRunLogger(s RunStore) *RunLogger {
	return &RunLogger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// RunCounts are the per-pair tallies of one batch.
type RunCounts struct {
	Raw     map[Pair]int
	Deduped map[Pair]int
	Saved   map[Pair]int // nil for dry runs
}

// Build returns a row for every pair with surviving leads, in pair order.
func (l *RunLogger) Build(pairs []Pair, counts RunCounts, dryRun bool) []model.LeadSearchRun {
	finished := l.now()
	var runs []model.LeadSearchRun
	for _, p := range pairs {
		deduped := counts.Deduped[p]
		if deduped == 0 {
			continue
		}
		run := model.LeadSearchRun{
			Niche:         p.Niche,
			Location:      p.Location,
			OriginalCount: counts.Raw[p],
			DedupedCount:  deduped,
			DryRun:        dryRun,
			FinishedAt:    finished,
		}
		if !dryRun {
			run.SavedCount = counts.Saved[p]
		}
		runs = append(runs, run)
	}
	return runs
}

// Log inserts runs in one call.
func (l *RunLogger) Log(ctx context.Context, runs []model.LeadSearchRun) error {
	if len(runs) == 0 {
		return nil
	}
	return eris.Wrapf(l.store.InsertSearchRuns(ctx, runs), "discovery: log %d search runs", len(runs))
}

// savedCounts attributes store-confirmed rows back to the pair of the lead they came from.
func savedCounts(leads []model.Lead, upserted []model.UpsertedLead) map[Pair]int {
	byPlace := make(map[string]Pair, len(leads))
	for i := range leads {
		byPlace[leads[i].PlaceID] = pairOf(&leads[i])
	}
	saved := make(map[Pair]int)
	for _, u := range upserted {
		if p, ok := byPlace[u.PlaceID]; ok {
			saved[p]++
		}
	}
	return saved
}
