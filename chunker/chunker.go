// Package chunker splits document text into overlapping, sentence-aware
// chunks sized for embedding.
package chunker

import "strings"

// Config controls the chunking behaviour.
type Config struct {
	Size    int // Target chunk size in characters (code points).
	Overlap int // Character overlap between consecutive chunks.
	MinSize int // Chunks at or below this length are dropped.
}

// Chunker converts extracted document text into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.Size == 0 {
		cfg.Size = 1500
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 200
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = 10
	}
	return &Chunker{cfg: cfg}
}

// breakWindow bounds how far back from the tentative cut the chunker
// searches for a natural boundary.
const breakWindow = 200

// Split breaks text into chunks of at most Size characters, preferring
// to cut at sentence and paragraph boundaries. Consecutive chunks share
// up to Overlap characters. All lengths are counted in runes.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.cfg.Size {
		return []string{text}
	}

	minStep := c.cfg.Size / 4
	if minStep < 50 {
		minStep = 50
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.cfg.Size
		if end > len(runes) {
			end = len(runes)
		}

		// Not the last chunk: prefer a natural boundary near the cut.
		if end < len(runes) {
			if brk := findBreak(runes[start:end]); brk > 0 {
				end = start + brk
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(chunk)) > c.cfg.MinSize {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		next := end - c.cfg.Overlap
		if next < start+minStep {
			next = start + minStep
		}
		start = next
	}

	return chunks
}

// findBreak searches the tail of segment for a good cut point and
// returns the position just past it, or -1 if none is found. Boundary
// classes are tried in priority order; within a class the latest
// occurrence wins.
func findBreak(segment []rune) int {
	windowStart := len(segment) - breakWindow
	if windowStart < 0 {
		windowStart = 0
	}

	// Sentence end: ". "
	if idx := lastIndexPair(segment, windowStart, '.', ' '); idx >= 0 {
		return idx + 2
	}
	// "! " or "? "
	excl := lastIndexPair(segment, windowStart, '!', ' ')
	ques := lastIndexPair(segment, windowStart, '?', ' ')
	if excl >= 0 || ques >= 0 {
		idx := excl
		if ques > idx {
			idx = ques
		}
		return idx + 2
	}
	// Paragraph break
	if idx := lastIndexPair(segment, windowStart, '\n', '\n'); idx >= 0 {
		return idx + 2
	}
	// Line break
	for i := len(segment) - 1; i >= windowStart; i-- {
		if segment[i] == '\n' {
			return i + 1
		}
	}
	// Word boundary
	for i := len(segment) - 1; i >= windowStart; i-- {
		if segment[i] == ' ' {
			return i + 1
		}
	}
	return -1
}

// lastIndexPair returns the index of the last occurrence of the rune
// pair (a, b) at or after from, or -1.
func lastIndexPair(segment []rune, from int, a, b rune) int {
	for i := len(segment) - 2; i >= from; i-- {
		if segment[i] == a && segment[i+1] == b {
			return i
		}
	}
	return -1
}
