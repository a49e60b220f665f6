package extractor

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// extractTXT reads a plain-text file, trying UTF-8, then CP1251, then
// Latin-1. The first decoding that produces valid text wins.
func extractTXT(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	if decoded, err := charmap.Windows1251.NewDecoder().Bytes(data); err == nil {
		return string(decoded), nil
	}

	if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(decoded), nil
	}

	return "", fmt.Errorf("%w: text file is not UTF-8, CP1251, or Latin-1", ErrCorruptFile)
}
