//go:build cgo

package askdocs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DBPath: filepath.Join(dir, "test.db"),
		Uploads: UploadsConfig{
			Dir:      filepath.Join(dir, "uploads"),
			MaxBytes: 1 << 20,
		},
		Embedding: EmbeddingConfig{Dimension: 4},
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestAskValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Ask(ctx, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank question: err = %v, want ErrInvalidInput", err)
	}
	if _, err := e.Ask(ctx, strings.Repeat("а", 2001)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("oversized question: err = %v, want ErrInvalidInput", err)
	}
}

func TestUploadDocument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	content := "Заработная плата выплачивается 12 и 27 числа."
	doc, err := e.UploadDocument(ctx, "Положение.txt", "", strings.NewReader(content))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if doc.Status != "pending" {
		t.Errorf("status = %q, want pending", doc.Status)
	}
	if doc.OriginalFilename != "Положение.txt" {
		t.Errorf("original_filename = %q", doc.OriginalFilename)
	}
	if !strings.HasSuffix(doc.Filename, "_Положение.txt") {
		t.Errorf("stored name %q lacks the timestamp prefix", doc.Filename)
	}
	if doc.Title != "Положение" {
		t.Errorf("title = %q, want derived from file name", doc.Title)
	}
	if doc.FileSize != int64(len(content)) {
		t.Errorf("file_size = %d, want %d", doc.FileSize, len(content))
	}

	data, err := os.ReadFile(doc.FilePath)
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(data) != content {
		t.Error("stored file content mismatch")
	}
}

func TestUploadDocumentRejections(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.UploadDocument(ctx, "report.exe", "", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("exe upload: err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := e.UploadDocument(ctx, "empty.txt", "", strings.NewReader("")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty upload: err = %v, want ErrInvalidInput", err)
	}
	if _, err := e.UploadDocument(ctx, "", "", strings.NewReader("x")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nameless upload: err = %v, want ErrInvalidInput", err)
	}
}

func TestUploadDocumentSizeCap(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{
		DBPath: filepath.Join(dir, "test.db"),
		Uploads: UploadsConfig{
			Dir:      filepath.Join(dir, "uploads"),
			MaxBytes: 16,
		},
		Embedding: EmbeddingConfig{Dimension: 4},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	_, err = e.UploadDocument(context.Background(), "big.txt", "", strings.NewReader(strings.Repeat("a", 17)))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}

	// The partial file must not be left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("uploads dir has %d leftover files", len(entries))
	}
}

func TestDeleteDocument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.UploadDocument(ctx, "doc.txt", "Документ", strings.NewReader("содержимое файла"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	if err := e.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := os.Stat(doc.FilePath); !os.IsNotExist(err) {
		t.Error("stored file should be removed with the document")
	}
	docs, err := e.ListDocuments(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("ListDocuments returned %d documents after delete", len(docs))
	}
}

func TestCleanupFailedDocumentsEmpty(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.CleanupFailedDocuments(context.Background(), 0)
	if err != nil {
		t.Fatalf("CleanupFailedDocuments: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}
