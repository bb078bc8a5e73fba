package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/pkg/google"
)

// Searcher is the Places surface the collector needs. google.Client satisfies it.
type Searcher interface {
	TextSearchAll(ctx context.Context, query string, limit int) ([]google.Place, error)
	GetDetails(ctx context.Context, placeID string) (*google.Place, error)
}

// Collection is every normalized result of a batch, before dedup.
type Collection struct {
	Pairs     []Pair
	Leads     []model.Lead
	RawCounts map[Pair]int
}

// Collector runs pair searches on a bounded worker pool.
type Collector struct {
	searcher    Searcher
	concurrency int
}

// NewCollector creates a Collector. concurrency <= 0 uses DefaultConcurrency;
// 1 searches pairs strictly one after another.
func NewCollector(s Searcher, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Collector{searcher: s, concurrency: concurrency}
}

// Collect searches every pair and returns the results flattened in pair order,
// so the output does not depend on which worker finished first. The first
// collaborator error cancels the remaining pairs and is returned.
func (c *Collector) Collect(ctx context.Context, pairs []Pair, limit int) (*Collection, error) {
	perPair := make([][]model.Lead, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, pair := range pairs {
		g.Go(func() error {
			leads, err := c.collectPair(gctx, pair, limit)
			if err != nil {
				return err
			}
			perPair[i] = leads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Collection{Pairs: pairs, RawCounts: make(map[Pair]int, len(pairs))}
	for i, leads := range perPair {
		out.Leads = append(out.Leads, leads...)
		out.RawCounts[pairs[i]] += len(leads)
	}
	return out, nil
}

func (c *Collector) collectPair(ctx context.Context, pair Pair, limit int) ([]model.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: collect cancelled")
	}

	query := pair.Query()
	places, err := c.searcher.TextSearchAll(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: search %q", query)
	}

	leads := make([]model.Lead, 0, len(places))
	for _, place := range places {
		src := place
		if place.ID != "" {
			detail, err := c.searcher.GetDetails(ctx, place.ID)
			if err != nil {
				return nil, eris.Wrapf(err, "discovery: details %s", place.ID)
			}
			if detail != nil {
				src = *detail
			}
		}
		leads = append(leads, Normalize(src, pair))
	}

	zap.L().Debug("pair collected",
		zap.String("niche", pair.Niche),
		zap.String("location", pair.Location),
		zap.Int("results", len(leads)),
	)
	return leads, nil
}
