//go:build cgo

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(path string) Document {
	return Document{
		Filename:         "1724400000_rules.txt",
		OriginalFilename: "rules.txt",
		FilePath:         path,
		FileSize:         1024,
		FileType:         "txt",
		Title:            "Правила внутреннего трудового распорядка",
	}
}

// padContent makes a chunk long enough to pass the content_length > 100
// search filter.
func padContent(s string) string {
	return s + " " + strings.Repeat("x", 120)
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"), 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestNewRejectsZeroDimension(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "bad.db"), 0); err == nil {
		t.Fatal("expected error for zero embedding dimension")
	}
}

// ---------------------------------------------------------------------------
// Document lifecycle
// ---------------------------------------------------------------------------

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, sampleDoc("/tmp/rules.txt"))
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("new document status = %q, want %q", got.Status, StatusPending)
	}
	if got.ChunksCount != nil {
		t.Errorf("chunks_count should be nil before completion, got %d", *got.ChunksCount)
	}
	if got.Title != "Правила внутреннего трудового распорядка" {
		t.Errorf("unexpected title %q", got.Title)
	}

	if _, err := s.GetDocument(ctx, id+1000); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing document: err = %v, want ErrNotFound", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateDocument(ctx, sampleDoc("/tmp/a.txt"))
	if err != nil {
		t.Fatal(err)
	}

	won, err := s.TryMarkProcessing(ctx, id)
	if err != nil {
		t.Fatalf("TryMarkProcessing: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}

	// A second worker observing processing must be refused.
	won, err = s.TryMarkProcessing(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Fatal("second claim should lose while processing")
	}

	if err := s.SetCompleted(ctx, id, 7); err != nil {
		t.Fatalf("SetCompleted: %v", err)
	}
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", doc.Status)
	}
	if doc.ChunksCount == nil || *doc.ChunksCount != 7 {
		t.Errorf("chunks_count = %v, want 7", doc.ChunksCount)
	}
	if doc.ProcessedAt == "" {
		t.Error("processed_at should be set on completion")
	}

	// Completed documents may be re-claimed for re-ingestion.
	won, err = s.TryMarkProcessing(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Fatal("re-ingest claim of completed document should win")
	}
}

func TestSetStatusFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/b.txt"))
	if err := s.SetStatus(ctx, id, StatusFailed, "chunking produced no output"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}
	if doc.ErrorMessage != "chunking produced no output" {
		t.Errorf("error_message = %q", doc.ErrorMessage)
	}
	if doc.ProcessedAt == "" {
		t.Error("processed_at should be set on failure")
	}
}

func TestListDocumentsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.CreateDocument(ctx, sampleDoc("/tmp/one.txt"))
	b, _ := s.CreateDocument(ctx, sampleDoc("/tmp/two.txt"))
	s.SetCompleted(ctx, b, 3)

	all, err := s.ListDocuments(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d documents, want 2", len(all))
	}

	pending, err := s.ListDocuments(ctx, StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != a {
		t.Errorf("pending filter returned wrong set: %+v", pending)
	}
}

// ---------------------------------------------------------------------------
// Chunks
// ---------------------------------------------------------------------------

func TestInsertChunksAndContiguity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/c.txt"))
	chunks := []NewChunk{
		{Index: 0, Content: "первый фрагмент", Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: "второй фрагмент", Embedding: []float32{0, 1, 0, 0}},
		{Index: 2, Content: "третий фрагмент", Embedding: []float32{0, 0, 1, 0}},
	}
	if err := s.InsertChunks(ctx, id, chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	got, err := s.GetChunksByDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d, want contiguous order", i, c.ChunkIndex)
		}
		// content_length counts code points, not bytes.
		if c.ContentLength != len([]rune(c.Content)) {
			t.Errorf("chunk %d content_length = %d, want %d", i, c.ContentLength, len([]rune(c.Content)))
		}
	}

	// Stored embeddings round-trip at full precision.
	emb, err := s.GetChunkEmbedding(ctx, got[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 4 || emb[1] != 1 {
		t.Errorf("embedding round-trip failed: %v", emb)
	}
}

func TestInsertChunksAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/d.txt"))
	chunks := []NewChunk{
		{Index: 0, Content: "ok", Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: "bad dim", Embedding: []float32{1, 0}}, // wrong dimension
	}
	if err := s.InsertChunks(ctx, id, chunks); err == nil {
		t.Fatal("expected error for wrong embedding dimension")
	}

	n, err := s.CountChunks(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("partial batch persisted: %d chunks, want 0", n)
	}
}

func TestDeleteChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/e.txt"))
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: "a", Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: "b", Embedding: []float32{0, 1, 0, 0}},
	})

	deleted, err := s.DeleteChunks(ctx, id)
	if err != nil {
		t.Fatalf("DeleteChunks: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	n, _ := s.CountChunks(ctx, id)
	if n != 0 {
		t.Errorf("chunks remain after delete: %d", n)
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/f.txt"))
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: padContent("выплата зарплаты 12 и 27 числа"), Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: padContent("офис открывается в девять утра"), Embedding: []float32{0, 1, 0, 0}},
	})
	s.SetCompleted(ctx, id, 2)

	results, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 10, 0.55)
	if err != nil {
		t.Fatalf("SearchVector: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (orthogonal chunk is below threshold)", len(results))
	}
	if !strings.Contains(results[0].Chunk.Content, "зарплаты") {
		t.Errorf("wrong chunk returned: %q", results[0].Chunk.Content)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("identical vector similarity = %v, want ~1", results[0].Similarity)
	}
	if results[0].DocumentTitle == "" {
		t.Error("document title should be joined into the result")
	}
}

func TestSearchVectorExcludesIncompleteDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/g.txt"))
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: padContent("текст"), Embedding: []float32{1, 0, 0, 0}},
	})
	// Document stays pending.

	results, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 10, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("pending document leaked into search: %d results", len(results))
	}
}

func TestSearchVectorExcludesShortChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/h.txt"))
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: "короткий", Embedding: []float32{1, 0, 0, 0}},
	})
	s.SetCompleted(ctx, id, 1)

	results, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 10, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("short chunk leaked into search: %d results", len(results))
	}
}

func TestSearchText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/i.txt"))
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: padContent("Зарплата выплачивается дважды в месяц"), Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: padContent("Отпуск предоставляется ежегодно"), Embedding: []float32{0, 1, 0, 0}},
	})
	s.SetCompleted(ctx, id, 2)

	results, err := s.SearchText(ctx, []string{"зарплата", "аванс"}, 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Similarity != 0.7 {
		t.Errorf("text match score = %v, want 0.7", results[0].Similarity)
	}

	fallback, err := s.SearchSubstring(ctx, []string{"отпуск"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(fallback) != 1 || fallback[0].Similarity != 0.5 {
		t.Errorf("substring fallback = %+v, want one result at 0.5", fallback)
	}
}

// ---------------------------------------------------------------------------
// Cascade delete
// ---------------------------------------------------------------------------

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	filePath := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(filePath, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	doc := sampleDoc(filePath)
	id, _ := s.CreateDocument(ctx, doc)
	s.InsertChunks(ctx, id, []NewChunk{
		{Index: 0, Content: "a", Embedding: []float32{1, 0, 0, 0}},
	})

	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := s.GetDocument(ctx, id); err == nil {
		t.Error("document row survived delete")
	}
	n, _ := s.CountChunks(ctx, id)
	if n != 0 {
		t.Errorf("orphan chunks remain: %d", n)
	}
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("file on disk survived delete")
	}
}

func TestDeleteFailedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/stale.txt"))
	s.SetStatus(ctx, id, StatusFailed, "boom")

	// Cutoff in the future covers the just-failed document.
	removed, err := s.DeleteFailedBefore(ctx, timeInFuture())
	if err != nil {
		t.Fatalf("DeleteFailedBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func timeInFuture() time.Time {
	return time.Now().Add(time.Hour)
}
