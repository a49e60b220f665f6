// Package ingest turns an uploaded document into searchable, embedded
// chunks, tracking progress through the document's status field.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bodrovkirill/askdocs/chunker"
	"github.com/bodrovkirill/askdocs/embed"
	"github.com/bodrovkirill/askdocs/extractor"
	"github.com/bodrovkirill/askdocs/store"
)

// ErrAlreadyProcessing is returned when another worker holds the
// document. The status field acts as the mutual-exclusion lock.
var ErrAlreadyProcessing = errors.New("ingest: document is already being processed")

// Report is the structured outcome of an ingestion run.
type Report struct {
	Status        string `json:"status"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksSkipped int    `json:"chunks_skipped"`
	Err           string `json:"error,omitempty"`
}

// Config controls pipeline deadlines and parallelism.
type Config struct {
	SoftDeadline    time.Duration
	HardDeadline    time.Duration
	EmbedWorkers    int
	InsertBatchSize int
}

// Pipeline orchestrates extract, chunk, embed, and persist for one
// document at a time. Runs for different documents may proceed in
// parallel; the store stays consistent under concurrent batches.
type Pipeline struct {
	store    *store.Store
	chunker  *chunker.Chunker
	embedder embed.Provider
	cfg      Config
}

// New returns a Pipeline. Zero-value config fields get defaults.
func New(s *store.Store, c *chunker.Chunker, e embed.Provider, cfg Config) *Pipeline {
	if cfg.SoftDeadline == 0 {
		cfg.SoftDeadline = 25 * time.Minute
	}
	if cfg.HardDeadline == 0 {
		cfg.HardDeadline = 30 * time.Minute
	}
	if cfg.EmbedWorkers == 0 {
		cfg.EmbedWorkers = 4
	}
	if cfg.InsertBatchSize == 0 {
		cfg.InsertBatchSize = 32
	}
	return &Pipeline{store: s, chunker: c, embedder: e, cfg: cfg}
}

// Run ingests one document. It is idempotent: re-running on a document
// in any state converges to a clean completed or failed status with no
// orphan chunks. The document always ends in a terminal state unless
// the claim itself is refused.
func (p *Pipeline) Run(ctx context.Context, docID int64) (*Report, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading document %d: %w", docID, err)
	}

	won, err := p.store.TryMarkProcessing(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("claiming document %d: %w", docID, err)
	}
	if !won {
		return nil, ErrAlreadyProcessing
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.HardDeadline)
	defer cancel()
	started := time.Now()

	report, err := p.process(ctx, doc, started)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "deadline exceeded"
		}
		// Best-effort terminal transition; the claim context may be dead.
		if serr := p.store.SetStatus(context.WithoutCancel(ctx), docID, store.StatusFailed, msg); serr != nil {
			slog.Error("ingest: recording failure", "document_id", docID, "error", serr)
		}
		slog.Error("ingest: failed", "document_id", docID, "error", msg)
		return &Report{Status: store.StatusFailed, Err: msg}, nil
	}

	slog.Info("ingest: complete",
		"document_id", docID,
		"chunks", report.ChunksCreated,
		"skipped", report.ChunksSkipped,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, doc *store.Document, started time.Time) (*Report, error) {
	// Idempotent re-run: clear any chunks from a previous attempt.
	if deleted, err := p.store.DeleteChunks(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("deleting previous chunks: %w", err)
	} else if deleted > 0 {
		slog.Info("ingest: cleared previous chunks", "document_id", doc.ID, "deleted", deleted)
	}

	kind := extractor.FileKind(doc.FileType)
	text, err := extractor.Extract(ctx, doc.FilePath, kind)
	if err != nil {
		return nil, fmt.Errorf("extracting text: %w", err)
	}

	fragments := p.chunker.Split(text)
	if len(fragments) == 0 {
		return nil, errors.New("chunking produced no output")
	}

	embedded, skipped, err := p.embedAll(ctx, fragments)
	if err != nil {
		return nil, err
	}
	if len(embedded) == 0 {
		return nil, errors.New("no chunks embedded")
	}

	if elapsed := time.Since(started); elapsed > p.cfg.SoftDeadline {
		slog.Warn("ingest: soft deadline exceeded",
			"document_id", doc.ID, "elapsed", elapsed.Round(time.Second))
	}

	// Persist in batches; each batch is one transaction.
	for i := 0; i < len(embedded); i += p.cfg.InsertBatchSize {
		end := i + p.cfg.InsertBatchSize
		if end > len(embedded) {
			end = len(embedded)
		}
		if err := p.store.InsertChunks(ctx, doc.ID, embedded[i:end]); err != nil {
			return nil, fmt.Errorf("inserting chunks: %w", err)
		}
	}

	if err := p.store.SetCompleted(ctx, doc.ID, len(embedded)); err != nil {
		return nil, fmt.Errorf("marking completed: %w", err)
	}

	return &Report{
		Status:        store.StatusCompleted,
		ChunksCreated: len(embedded),
		ChunksSkipped: skipped,
	}, nil
}

// embedAll embeds fragments with a bounded worker pool. Per-fragment
// embedding failures are logged and skipped; the survivors keep a
// contiguous 0..N-1 index sequence in original text order.
func (p *Pipeline) embedAll(ctx context.Context, fragments []string) ([]store.NewChunk, int, error) {
	vectors := make([][]float32, len(fragments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedWorkers)
	for i, frag := range fragments {
		g.Go(func() error {
			vec, err := p.embedder.EmbedOne(gctx, frag)
			if err != nil {
				// Skip this fragment, keep going. Cancellation still
				// aborts the whole run.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("ingest: embedding fragment failed, skipping",
					"fragment", i, "error", err)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var chunks []store.NewChunk
	skipped := 0
	for i, vec := range vectors {
		if vec == nil {
			skipped++
			continue
		}
		chunks = append(chunks, store.NewChunk{
			Index:     len(chunks),
			Content:   fragments[i],
			Embedding: vec,
		})
	}
	return chunks, skipped, nil
}
