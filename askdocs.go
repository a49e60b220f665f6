// Package askdocs is a retrieval-augmented question answering engine
// over corporate documents: files are chunked, embedded, and stored in
// SQLite; questions are answered from retrieved chunks by an external
// LLM with canned fallbacks for sensitive intents.
package askdocs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodrovkirill/askdocs/answer"
	"github.com/bodrovkirill/askdocs/chunker"
	"github.com/bodrovkirill/askdocs/embed"
	"github.com/bodrovkirill/askdocs/extractor"
	"github.com/bodrovkirill/askdocs/ingest"
	"github.com/bodrovkirill/askdocs/llm"
	"github.com/bodrovkirill/askdocs/retrieve"
	"github.com/bodrovkirill/askdocs/store"
)

// Re-exported result types so callers need only this package.
type (
	Answer       = answer.Answer
	Document     = store.Document
	IngestReport = ingest.Report
)

// Health reports per-dependency availability.
type Health struct {
	Database  bool `json:"database"`
	Embedding bool `json:"embedding"`
	LLM       bool `json:"llm"`
}

// OK reports whether every dependency answered.
func (h Health) OK() bool { return h.Database && h.Embedding && h.LLM }

// Engine is the public entry point of the askdocs engine.
type Engine interface {
	// Ask answers a question from the ingested documents. Input is
	// validated; LLM refusals and outages degrade to canned or
	// not-found answers rather than errors.
	Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error)

	// UploadDocument stores the uploaded file under the uploads
	// directory and registers a pending document. It does not ingest;
	// call Ingest with the returned document's ID.
	UploadDocument(ctx context.Context, originalName, title string, r io.Reader) (*Document, error)

	// Ingest runs the extraction, chunking, and embedding pipeline for
	// one document. Safe to re-run; refuses documents already being
	// processed.
	Ingest(ctx context.Context, documentID int64) (*IngestReport, error)

	// DeleteDocument removes a document, its chunks, vectors, and the
	// stored file.
	DeleteDocument(ctx context.Context, documentID int64) error

	// ListDocuments returns documents, optionally filtered by status.
	ListDocuments(ctx context.Context, status string) ([]Document, error)

	// CleanupFailedDocuments deletes failed documents older than the
	// given age and returns how many were removed.
	CleanupFailedDocuments(ctx context.Context, olderThan time.Duration) (int, error)

	// HealthCheck probes the database, the embedding service, and the
	// LLM service.
	HealthCheck(ctx context.Context) Health

	// Close shuts the engine down.
	Close() error
}

// AskOption configures a single Ask call.
type AskOption func(*askOptions)

type askOptions struct {
	limit int
}

// WithLimit caps the number of retrieved chunks for this question.
func WithLimit(n int) AskOption {
	return func(o *askOptions) { o.limit = n }
}

type engine struct {
	cfg       Config
	store     *store.Store
	embedder  embed.Provider
	llm       llm.Client
	retriever *retrieve.Retriever
	answerer  *answer.Engine
	pipeline  *ingest.Pipeline
}

// New builds an engine from the configuration. Zero-value fields are
// filled with defaults.
func New(cfg Config) (Engine, error) {
	cfg.fillDefaults()

	if err := os.MkdirAll(cfg.Uploads.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating uploads directory: %w", err)
	}

	s, err := store.New(cfg.DBPath, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedder := embed.NewHTTP(embed.Config{
		BaseURL:       cfg.Embedding.BaseURL,
		APIKey:        cfg.Embedding.APIKey,
		Model:         cfg.Embedding.ModelID,
		Dimension:     cfg.Embedding.Dimension,
		MaxInputChars: cfg.Embedding.MaxInputChars,
	})

	generator := llm.NewOAuth(llm.Config{
		Endpoint:           cfg.LLM.Endpoint,
		AuthEndpoint:       cfg.LLM.AuthEndpoint,
		Scope:              cfg.LLM.Scope,
		Credential:         cfg.LLM.Credential,
		Model:              cfg.LLM.Model,
		Timeout:            time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		TokenRefreshMargin: time.Duration(cfg.LLM.TokenRefreshMarginSec) * time.Second,
	})

	retriever := retrieve.New(s, embedder, retrieve.Config{
		Limit:                 cfg.Retriever.Limit,
		VectorThreshold:       cfg.Retriever.VectorThreshold,
		TextFallbackThreshold: cfg.Retriever.TextFallbackThreshold,
		Stopwords:             cfg.Retriever.Stopwords,
		Synonyms:              cfg.Retriever.Synonyms,
	})

	rules := make([]answer.Rule, len(cfg.DomainRules))
	for i, r := range cfg.DomainRules {
		rules[i] = answer.Rule{
			Name:                   r.Name,
			Keywords:               r.Keywords,
			Answer:                 r.Answer,
			Sources:                r.Sources,
			RequireDateInLLMAnswer: r.RequireDateInLLMAnswer,
		}
	}
	answerer := answer.New(retriever, generator, answer.Config{
		Rules:            rules,
		BlockedPatterns:  cfg.BlockedResponsePatterns,
		NotFoundTemplate: cfg.NotFoundTemplate,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
	})

	pipeline := ingest.New(s, chunker.New(chunker.Config{
		Size:    cfg.Chunk.Size,
		Overlap: cfg.Chunk.Overlap,
		MinSize: cfg.Chunk.MinSize,
	}), embedder, ingest.Config{
		SoftDeadline:    time.Duration(cfg.Ingest.SoftDeadlineSec) * time.Second,
		HardDeadline:    time.Duration(cfg.Ingest.HardDeadlineSec) * time.Second,
		EmbedWorkers:    cfg.Ingest.EmbedWorkers,
		InsertBatchSize: cfg.Ingest.InsertBatchSize,
	})

	return &engine{
		cfg:       cfg,
		store:     s,
		embedder:  embedder,
		llm:       generator,
		retriever: retriever,
		answerer:  answerer,
		pipeline:  pipeline,
	}, nil
}

func (e *engine) Ask(ctx context.Context, question string, opts ...AskOption) (*Answer, error) {
	options := &askOptions{}
	for _, o := range opts {
		o(options)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidInput)
	}
	if n := len([]rune(question)); n > e.cfg.MaxQuestionLen {
		return nil, fmt.Errorf("%w: question length %d exceeds %d", ErrInvalidInput, n, e.cfg.MaxQuestionLen)
	}

	started := time.Now()
	ans, err := e.answerer.Answer(ctx, question, options.limit)
	if err != nil {
		return nil, err
	}
	slog.Info("ask: answered",
		"chunks_found", ans.ChunksFound,
		"tokens_used", ans.TokensUsed,
		"sources", len(ans.Sources),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return ans, nil
}

func (e *engine) UploadDocument(ctx context.Context, originalName, title string, r io.Reader) (*Document, error) {
	base := filepath.Base(strings.TrimSpace(originalName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: missing file name", ErrInvalidInput)
	}

	kind := extractor.KindFromPath(base)
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(base))
	}

	stored := fmt.Sprintf("%d_%s", time.Now().Unix(), base)
	path := filepath.Join(e.cfg.Uploads.Dir, stored)

	size, err := e.saveUpload(path, r)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	id, err := e.store.CreateDocument(ctx, store.Document{
		Filename:         stored,
		OriginalFilename: base,
		FilePath:         path,
		FileSize:         size,
		FileType:         string(kind),
		Title:            title,
	})
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("registering document: %w", err)
	}

	slog.Info("upload: stored", "document_id", id, "file", base, "size", size)
	return e.store.GetDocument(ctx, id)
}

// saveUpload streams the reader to path, enforcing the size cap and
// rejecting empty files.
func (e *engine) saveUpload(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating upload file: %w", err)
	}

	size, err := io.Copy(f, io.LimitReader(r, e.cfg.Uploads.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing upload: %w", err)
	}
	if size == 0 {
		os.Remove(path)
		return 0, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}
	if size > e.cfg.Uploads.MaxBytes {
		os.Remove(path)
		return 0, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, e.cfg.Uploads.MaxBytes)
	}
	return size, nil
}

func (e *engine) Ingest(ctx context.Context, documentID int64) (*IngestReport, error) {
	report, err := e.pipeline.Run(ctx, documentID)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrAlreadyProcessing):
			return nil, fmt.Errorf("%w: document %d", ErrAlreadyProcessing, documentID)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: document %d", ErrDocumentNotFound, documentID)
		}
		return nil, err
	}
	return report, nil
}

func (e *engine) DeleteDocument(ctx context.Context, documentID int64) error {
	err := e.store.DeleteDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: document %d", ErrDocumentNotFound, documentID)
	}
	return err
}

func (e *engine) ListDocuments(ctx context.Context, status string) ([]Document, error) {
	return e.store.ListDocuments(ctx, status)
}

func (e *engine) CleanupFailedDocuments(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	deleted, err := e.store.DeleteFailedBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("cleanup: removed failed documents", "count", deleted, "older_than", olderThan)
	}
	return deleted, nil
}

func (e *engine) HealthCheck(ctx context.Context) Health {
	var h Health
	h.Database = e.store.Ping(ctx) == nil
	if _, err := e.embedder.EmbedOne(ctx, "проверка"); err == nil {
		h.Embedding = true
	}
	h.LLM = e.llm.HealthCheck(ctx)
	return h
}

func (e *engine) Close() error {
	return e.store.Close()
}
