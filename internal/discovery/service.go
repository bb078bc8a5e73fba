package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
)

// Store is everything the pipeline persists to.
type Store interface {
	LeadUpserter
	GroupStore
	RunStore
	Ping(ctx context.Context) error
}

// Config tunes the pipeline. Zero values use the package defaults.
type Config struct {
	ChunkSize   int
	Concurrency int
	GroupName   string
}

// Service runs batch ingestion requests.
type Service struct {
	collector  *Collector
	store      Store
	upserter   *Upserter
	classifier *Classifier
	runs       *RunLogger
}

// NewService wires the pipeline. A nil store makes every request a preview.
func NewService(searcher Searcher, st Store, cfg Config) *Service {
	s := &Service{
		collector: NewCollector(searcher, cfg.Concurrency),
		store:     st,
	}
	if st != nil {
		s.upserter = NewUpserter(st, cfg.ChunkSize)
		s.classifier = NewClassifier(st, cfg.GroupName)
		s.runs = NewRunLogger(st)
	}
	return s
}

// Run executes one batch. Invalid requests fail with ErrInvalidRequest before
// any search; search failures and chunk failures (*ChunkError) abort the batch.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	pairs := req.Pairs()

	log := zap.L().With(
		zap.Int("niches", len(req.Niches)),
		zap.Int("locations", len(req.Locations)),
		zap.Bool("dry_run", req.DryRun),
	)
	log.Info("batch started", zap.Int("pairs", len(pairs)), zap.Int("max", req.Max))

	coll, err := s.collector.Collect(ctx, pairs, req.Max)
	if err != nil {
		log.Error("collection failed", zap.Error(err))
		return nil, err
	}

	leads := Dedupe(coll.Leads)
	counts := RunCounts{Raw: coll.RawCounts, Deduped: DedupedCounts(leads)}
	res := &Result{OriginalCount: len(coll.Leads), DedupedCount: len(leads)}

	switch {
	case s.store == nil:
		log.Info("no store configured, returning preview", zap.Int("deduped", len(leads)))
		return preview(res, leads, ""), nil
	case req.DryRun:
		s.logRuns(ctx, log, s.runs.Build(pairs, counts, true))
		log.Info("dry run complete", zap.Int("original", res.OriginalCount), zap.Int("deduped", res.DedupedCount))
		return preview(res, leads, ""), nil
	}

	if err := s.store.Ping(ctx); err != nil {
		log.Warn("store unavailable, returning preview", zap.Error(err))
		return preview(res, leads, "store unavailable: "+err.Error()), nil
	}

	pr, err := s.upserter.Persist(ctx, leads)
	if err != nil {
		return nil, err
	}
	res.Count = pr.Affected

	// Side effects run to completion once leads are committed.
	sideCtx := context.WithoutCancel(ctx)
	s.classify(sideCtx, log, pr.NoWebsiteIDs)
	counts.Saved = savedCounts(leads, pr.Upserted)
	s.logRuns(sideCtx, log, s.runs.Build(pairs, counts, false))

	log.Info("batch complete",
		zap.Int("original", res.OriginalCount),
		zap.Int("deduped", res.DedupedCount),
		zap.Int("affected", res.Count),
		zap.Int("chunks", pr.Chunks),
		zap.Int("no_website", len(pr.NoWebsiteIDs)),
	)
	return res, nil
}

func preview(res *Result, leads []model.Lead, errMsg string) *Result {
	res.Count = len(leads)
	res.Leads = leads
	res.Error = errMsg
	res.preview = true
	return res
}

func (s *Service) classify(ctx context.Context, log *zap.Logger, ids []string) {
	added, err := s.classifier.Classify(ctx, ids)
	if err != nil {
		log.Warn("group classification failed", zap.Int("candidates", len(ids)), zap.Error(err))
		return
	}
	log.Debug("group classification done", zap.Int("candidates", len(ids)), zap.Int64("added", added))
}

func (s *Service) logRuns(ctx context.Context, log *zap.Logger, runs []model.LeadSearchRun) {
	if err := s.runs.Log(ctx, runs); err != nil {
		log.Warn("search run logging failed", zap.Int("runs", len(runs)), zap.Error(err))
	}
}
