// Package discovery turns (niche, location) searches into a deduplicated,
// persisted set of leads.
//
// The pipeline runs in fixed stages: collect every pair's Places results,
// dedupe the whole batch on place id, upsert in chunks, then classify
// website-less leads and log one search run per pair. Classification and run
// logging are best-effort and never change the caller-visible result.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

const (
	// DefaultMax is the per-pair result cap when a request omits max.
	DefaultMax = 100
	// DefaultChunkSize bounds each upsert call.
	DefaultChunkSize = 500
	// DefaultConcurrency is the number of pairs collected at once.
	DefaultConcurrency = 4

	// NoWebsiteGroup names the cohort of leads without a website.
	NoWebsiteGroup       = "No Website"
	noWebsiteDescription = "Leads whose Places listing has no website"
)

// ErrInvalidRequest marks a request rejected before any external call.
var ErrInvalidRequest = eris.New("discovery: invalid request")

// Request is one batch ingestion: the cross product of niches and locations.
type Request struct {
	Niches    []string `json:"niches" yaml:"niches"`
	Locations []string `json:"locations" yaml:"locations"`
	Max       int      `json:"max,omitempty" yaml:"max,omitempty"`
	DryRun    bool     `json:"dryRun,omitempty" yaml:"dry_run,omitempty"`
}

// Normalize trims blank and repeated entries, applies the default max and
// validates the result. Errors wrap ErrInvalidRequest.
func (r Request) Normalize() (Request, error) {
	r.Niches = cleanList(r.Niches)
	r.Locations = cleanList(r.Locations)

	switch {
	case len(r.Niches) == 0:
		return r, eris.Wrap(ErrInvalidRequest, "niches is required")
	case len(r.Locations) == 0:
		return r, eris.Wrap(ErrInvalidRequest, "locations is required")
	case r.Max < 0:
		return r, eris.Wrapf(ErrInvalidRequest, "max must not be negative, got %d", r.Max)
	}
	if r.Max == 0 {
		r.Max = DefaultMax
	}
	return r, nil
}

func cleanList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Pair is one (niche, location) search.
type Pair struct {
	Niche    string `json:"niche"`
	Location string `json:"location"`
}

// Query is the Places text query for the pair.
func (p Pair) Query() string {
	return fmt.Sprintf("%s in %s", p.Niche, p.Location)
}

func pairOf(l *model.Lead) Pair {
	return Pair{Niche: l.Niche, Location: l.Location}
}

// Pairs expands the request niche-major, in the order supplied.
func (r Request) Pairs() []Pair {
	pairs := make([]Pair, 0, len(r.Niches)*len(r.Locations))
	for _, n := range r.Niches {
		for _, l := range r.Locations {
			pairs = append(pairs, Pair{Niche: n, Location: l})
		}
	}
	return pairs
}

// Result is the caller-visible outcome of a batch.
//
// Count is the number of rows the store reported as affected. When nothing
// was persisted (dry run, no store, or store unreachable) Count equals
// DedupedCount and Leads carries the deduplicated batch.
type Result struct {
	Count         int          `json:"count"`
	OriginalCount int          `json:"originalCount"`
	DedupedCount  int          `json:"dedupedCount"`
	Leads         []model.Lead `json:"leads,omitempty"`
	Error         string       `json:"error,omitempty"`

	preview bool
}

// Preview reports whether the result carries leads instead of a persisted count.
func (r Result) Preview() bool { return r.preview }

// MarshalJSON always emits a leads array for preview results, even when empty.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if !r.preview {
		return json.Marshal(plain(r))
	}
	leads := r.Leads
	if leads == nil {
		leads = []model.Lead{}
	}
	return json.Marshal(struct {
		plain
		Leads []model.Lead `json:"leads"`
	}{plain(r), leads})
}
