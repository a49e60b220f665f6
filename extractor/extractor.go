// Package extractor turns uploaded document files into plain UTF-8 text.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file kinds with no handler.
	ErrUnsupportedFormat = errors.New("extractor: unsupported file format")

	// ErrCorruptFile is returned when a file cannot be decoded.
	ErrCorruptFile = errors.New("extractor: corrupt or unreadable file")

	// ErrEmptyDocument is returned when extraction yields no text.
	ErrEmptyDocument = errors.New("extractor: document contains no extractable text")
)

// FileKind identifies a supported document format.
type FileKind string

const (
	KindPDF  FileKind = "pdf"
	KindDOCX FileKind = "docx"
	KindTXT  FileKind = "txt"
	KindXLSX FileKind = "xlsx"
	KindDOC  FileKind = "doc" // recognized but rejected, see Extract
)

// KindFromPath derives the file kind from the path's extension.
// Unknown extensions return an empty kind.
func KindFromPath(path string) FileKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "pdf", "docx", "txt", "xlsx", "doc":
		return FileKind(ext)
	}
	return ""
}

// extractFunc reads a file and returns its plain text.
type extractFunc func(ctx context.Context, path string) (string, error)

var handlers = map[FileKind]extractFunc{
	KindPDF:  extractPDF,
	KindDOCX: extractDOCX,
	KindTXT:  extractTXT,
	KindXLSX: extractXLSX,
}

// Extract parses the file at path according to kind and returns its
// text, trimmed of surrounding whitespace. Internal whitespace is
// preserved. Fails when the result is empty.
func Extract(ctx context.Context, path string, kind FileKind) (string, error) {
	if kind == KindDOC {
		return "", fmt.Errorf("%w: legacy .doc files are not supported, please convert to .docx", ErrUnsupportedFormat)
	}

	fn, ok := handlers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}

	text, err := fn(ctx, path)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
