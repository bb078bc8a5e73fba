package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
)

// LeadUpserter writes one chunk of leads keyed on place id.
type LeadUpserter interface {
	UpsertLeads(ctx context.Context, leads []model.Lead) ([]model.UpsertedLead, error)
}

// PersistResult totals a successful Persist.
type PersistResult struct {
	Affected     int
	Chunks       int
	Upserted     []model.UpsertedLead
	NoWebsiteIDs []string
}

// ChunkError reports the chunk that failed and what was already committed.
// Committed chunks are not rolled back; a retry can resume at Chunk.
type ChunkError struct {
	Chunk         int // zero-based index of the failed chunk
	Chunks        int
	CommittedRows int
	Err           error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("discovery: upsert chunk %d of %d failed (%d chunks, %d rows committed): %v",
		e.Chunk+1, e.Chunks, e.Chunk, e.CommittedRows, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// CommittedChunks is the number of chunks written before the failure.
func (e *ChunkError) CommittedChunks() int { return e.Chunk }

// Upserter persists a deduplicated batch in fixed-size chunks.
type Upserter struct {
	store     LeadUpserter
	chunkSize int
}

// NewUpserter creates an Upserter. chunkSize <= 0 uses DefaultChunkSize.
func NewUpserter(store LeadUpserter, chunkSize int) *Upserter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Upserter{store: store, chunkSize: chunkSize}
}

// Persist upserts leads chunk by chunk and collects the store ids of leads
// without a website. A started chunk always runs to completion; cancellation
// of ctx is observed between chunks.
func (u *Upserter) Persist(ctx context.Context, leads []model.Lead) (*PersistResult, error) {
	log := zap.L().With(zap.Int("leads", len(leads)), zap.Int("chunk_size", u.chunkSize))

	noWebsite := make(map[string]bool)
	for i := range leads {
		if !leads[i].HasWebsite() {
			noWebsite[leads[i].PlaceID] = true
		}
	}

	chunks := (len(leads) + u.chunkSize - 1) / u.chunkSize
	res := &PersistResult{Upserted: make([]model.UpsertedLead, 0, len(leads))}

	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, u.checkpoint(log, &ChunkError{Chunk: i, Chunks: chunks, CommittedRows: res.Affected, Err: err})
		}

		start := i * u.chunkSize
		end := min(start+u.chunkSize, len(leads))

		rows, err := u.store.UpsertLeads(context.WithoutCancel(ctx), leads[start:end])
		if err != nil {
			return nil, u.checkpoint(log, &ChunkError{Chunk: i, Chunks: chunks, CommittedRows: res.Affected, Err: err})
		}

		res.Affected += len(rows)
		res.Chunks++
		for _, r := range rows {
			if noWebsite[r.PlaceID] {
				res.NoWebsiteIDs = append(res.NoWebsiteIDs, r.ID)
			}
		}
		res.Upserted = append(res.Upserted, rows...)

		log.Debug("chunk committed", zap.Int("chunk", i+1), zap.Int("chunks", chunks), zap.Int("rows", len(rows)))
	}
	return res, nil
}

func (u *Upserter) checkpoint(log *zap.Logger, ce *ChunkError) error {
	log.Error("upsert stopped",
		zap.Int("failed_chunk", ce.Chunk+1),
		zap.Int("committed_chunks", ce.Chunk),
		zap.Int("committed_rows", ce.CommittedRows),
		zap.Int("resume_offset", ce.Chunk*u.chunkSize),
		zap.Error(ce.Err),
	)
	return ce
}
