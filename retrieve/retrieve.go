// Package retrieve implements hybrid chunk retrieval: dense vector
// search first, keyword text search as augmentation, and a naive
// substring scan as the last resort.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bodrovkirill/askdocs/embed"
	"github.com/bodrovkirill/askdocs/store"
)

// Search origins, exposed so downstream components may weight or
// display them.
const (
	SearchVector   = "vector"
	SearchText     = "text"
	SearchFallback = "fallback"
)

// Result is one retrieved chunk with its score and origin.
type Result struct {
	Chunk         store.Chunk `json:"chunk"`
	DocumentTitle string      `json:"document_title"`
	Similarity    float64     `json:"similarity"`
	SearchType    string      `json:"search_type"`
}

// Config controls retrieval behaviour.
type Config struct {
	Limit                 int
	VectorThreshold       float64
	TextFallbackThreshold int // vector-hit count below which text search runs; 0 means Limit/2
	Stopwords             []string
	Synonyms              map[string][]string
}

// Retriever runs hybrid search over the chunk store.
type Retriever struct {
	store    *store.Store
	embedder embed.Provider
	cfg      Config
	stopset  map[string]bool
}

// New returns a Retriever. Zero-value config fields get defaults.
func New(s *store.Store, e embed.Provider, cfg Config) *Retriever {
	if cfg.Limit == 0 {
		cfg.Limit = 15
	}
	if cfg.VectorThreshold == 0 {
		cfg.VectorThreshold = 0.55
	}
	stopset := make(map[string]bool, len(cfg.Stopwords))
	for _, w := range cfg.Stopwords {
		stopset[w] = true
	}
	return &Retriever{store: s, embedder: e, cfg: cfg, stopset: stopset}
}

// Retrieve returns up to limit chunks relevant to the question, ranked
// by similarity. limit <= 0 uses the configured default. Results are
// deduplicated by chunk id and stable across runs for an unchanged
// corpus.
func (r *Retriever) Retrieve(ctx context.Context, question string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}

	qvec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	seen := make(map[int64]bool)
	var results []Result

	// Vector phase.
	vecHits, err := r.store.SearchVector(ctx, qvec, 3*limit, r.cfg.VectorThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	for _, h := range vecHits {
		if seen[h.Chunk.ID] {
			continue
		}
		seen[h.Chunk.ID] = true
		results = append(results, Result{
			Chunk:         h.Chunk,
			DocumentTitle: h.DocumentTitle,
			Similarity:    h.Similarity,
			SearchType:    SearchVector,
		})
	}

	// Text-augmentation phase: keyword search when the vector phase is thin.
	threshold := r.cfg.TextFallbackThreshold
	if threshold == 0 {
		threshold = limit / 2
	}
	if len(results) < threshold {
		keywords := r.ExtractKeywords(question)
		if len(keywords) > 0 {
			textHits, err := r.store.SearchText(ctx, keywords, limit)
			if err != nil {
				return nil, fmt.Errorf("text search: %w", err)
			}
			for _, h := range textHits {
				if seen[h.Chunk.ID] {
					continue
				}
				seen[h.Chunk.ID] = true
				results = append(results, Result{
					Chunk:         h.Chunk,
					DocumentTitle: h.DocumentTitle,
					Similarity:    h.Similarity,
					SearchType:    SearchText,
				})
			}
		}
	}

	// Fallback phase: naive substring scan on the longest plain tokens.
	if len(results) == 0 {
		words := fallbackTokens(question, 3)
		if len(words) > 0 {
			slog.Debug("retrieve: falling back to substring search", "words", words)
			subHits, err := r.store.SearchSubstring(ctx, words, limit)
			if err != nil {
				return nil, fmt.Errorf("substring search: %w", err)
			}
			for _, h := range subHits {
				if seen[h.Chunk.ID] {
					continue
				}
				seen[h.Chunk.ID] = true
				results = append(results, Result{
					Chunk:         h.Chunk,
					DocumentTitle: h.DocumentTitle,
					Similarity:    h.Similarity,
					SearchType:    SearchFallback,
				})
			}
		}
	}

	// Stable order: similarity descending, chunk id as tie-break.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
