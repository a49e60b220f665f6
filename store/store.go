// Package store persists documents and their embedded chunks in SQLite,
// using sqlite-vec for cosine nearest-neighbour search.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

func init() {
	sqlite_vec.Auto()

	// SQLite's built-in lower() folds ASCII only; register a Unicode
	// variant so substring search works on Cyrillic content.
	sql.Register("sqlite3_askdocs", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", strings.ToLower, true)
		},
	})
}

// Document processing statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document represents a row in the documents table.
type Document struct {
	ID               int64  `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"processing_status"`
	ChunksCount      *int   `json:"chunks_count,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	ProcessedAt      string `json:"processed_at,omitempty"`
}

// Chunk represents a row in the chunks table. The embedding lives in
// the vec_chunks virtual table keyed by chunk id.
type Chunk struct {
	ID            int64  `json:"id"`
	DocumentID    int64  `json:"document_id"`
	ChunkIndex    int    `json:"chunk_index"`
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
	CreatedAt     string `json:"created_at"`
}

// NewChunk is the insert form of a chunk. ContentLength is derived
// from Content on insert.
type NewChunk struct {
	Index     int
	Content   string
	Embedding []float32
}

// SearchResult holds a chunk with its document title and search score.
type SearchResult struct {
	Chunk         Chunk   `json:"chunk"`
	DocumentTitle string  `json:"document_title"`
	Similarity    float64 `json:"similarity"`
}

// Store wraps the SQLite database for all askdocs persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3_askdocs", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

const documentColumns = `id, filename, original_filename, file_path, file_size, file_type,
	title, COALESCE(description, ''), processing_status, chunks_count,
	COALESCE(error_message, ''), created_at, updated_at, COALESCE(processed_at, '')`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	doc := &Document{}
	var chunksCount sql.NullInt64
	err := row.Scan(&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.FilePath,
		&doc.FileSize, &doc.FileType, &doc.Title, &doc.Description,
		&doc.Status, &chunksCount, &doc.ErrorMessage,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if chunksCount.Valid {
		n := int(chunksCount.Int64)
		doc.ChunksCount = &n
	}
	return doc, nil
}

// CreateDocument persists a new document with status pending and
// returns its ID.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (filename, original_filename, file_path, file_size,
			file_type, title, description, processing_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.Filename, doc.OriginalFilename, doc.FilePath, doc.FileSize,
		doc.FileType, doc.Title, doc.Description, StatusPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns documents ordered by creation time, optionally
// filtered by status.
func (s *Store) ListDocuments(ctx context.Context, status string) ([]Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	var args []interface{}
	if status != "" {
		query += " WHERE processing_status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// SetStatus updates a document's status and error message. processed_at
// is stamped when the status becomes terminal.
func (s *Store) SetStatus(ctx context.Context, id int64, status, errMsg string) error {
	var processedAt string
	if status == StatusCompleted || status == StatusFailed {
		processedAt = ", processed_at = CURRENT_TIMESTAMP"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processing_status = ?, error_message = ?,
			updated_at = CURRENT_TIMESTAMP`+processedAt+`
		WHERE id = ?`, status, nullIfEmpty(errMsg), id)
	return err
}

// TryMarkProcessing atomically claims a document for ingestion. It
// reports false when another worker already holds it. Any non-processing
// status may be claimed so terminal documents can be re-ingested.
func (s *Store) TryMarkProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processing_status = ?, error_message = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND processing_status != ?`,
		StatusProcessing, id, StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetCompleted marks a document as successfully ingested with its final
// chunk count.
func (s *Store) SetCompleted(ctx context.Context, id int64, chunksCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processing_status = ?, chunks_count = ?,
			error_message = NULL, updated_at = CURRENT_TIMESTAMP,
			processed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, StatusCompleted, chunksCount, id)
	return err
}

// DeleteDocument removes a document, its chunks and embeddings, and the
// file on disk. A missing file is not an error.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE document_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		return err
	})
	if err != nil {
		return err
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing file: %w", err)
		}
	}
	return nil
}

// DeleteFailedBefore removes documents stuck in failed state whose last
// update is older than cutoff, including their files. Returns the number
// of documents removed.
func (s *Store) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE processing_status = ? AND updated_at < ?`,
		StatusFailed, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if err := s.DeleteDocument(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// --- Chunk operations ---

// DeleteChunks removes all chunks and embeddings for a document.
// Returns the number of chunk rows deleted.
func (s *Store) DeleteChunks(ctx context.Context, docID int64) (int64, error) {
	var deleted int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_chunks WHERE chunk_id IN (
				SELECT id FROM chunks WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE document_id = ?", docID)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// InsertChunks bulk-inserts chunks with their embeddings in index order.
// The whole call is one transaction: all rows land or none do.
func (s *Store) InsertChunks(ctx context.Context, docID int64, chunks []NewChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, content, content_length)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer chunkStmt.Close()

		vecStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer vecStmt.Close()

		for _, c := range chunks {
			if len(c.Embedding) != s.embeddingDim {
				return fmt.Errorf("chunk %d embedding dim %d, store configured for %d",
					c.Index, len(c.Embedding), s.embeddingDim)
			}

			res, err := chunkStmt.ExecContext(ctx,
				docID, c.Index, c.Content, len([]rune(c.Content)))
			if err != nil {
				return err
			}
			chunkID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := vecStmt.ExecContext(ctx, chunkID, serializeFloat32(c.Embedding)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunksByDocument returns all chunks for a document in index order.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, content_length, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex,
			&c.Content, &c.ContentLength, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunks stored for a document.
func (s *Store) CountChunks(ctx context.Context, docID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?", docID).Scan(&n)
	return n, err
}

// GetChunkEmbedding reads back a chunk's stored vector.
func (s *Store) GetChunkEmbedding(ctx context.Context, chunkID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_chunks WHERE chunk_id = ?", chunkID).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// --- Search operations ---

// SearchVector performs a cosine KNN search over completed documents,
// returning chunks with similarity above minSim, sorted descending.
// Very short chunks (content_length <= 100) are excluded as noise.
func (s *Store) SearchVector(ctx context.Context, queryEmbedding []float32, k int, minSim float64) ([]SearchResult, error) {
	if len(queryEmbedding) != s.embeddingDim {
		return nil, fmt.Errorf("query embedding dim %d, store configured for %d",
			len(queryEmbedding), s.embeddingDim)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance,
			c.document_id, c.chunk_index, c.content, c.content_length, c.created_at,
			d.title
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
			AND d.processing_status = ?
			AND c.content_length > 100
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k, StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := rows.Scan(&r.Chunk.ID, &distance,
			&r.Chunk.DocumentID, &r.Chunk.ChunkIndex, &r.Chunk.Content,
			&r.Chunk.ContentLength, &r.Chunk.CreatedAt, &r.DocumentTitle); err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		r.Similarity = 1.0 - distance
		if r.Similarity > minSim {
			results = append(results, r)
		}
	}
	return results, rows.Err()
}

// SearchText finds chunks whose content contains any of the keywords,
// case-insensitively. All matches get the constant textual-fallback
// score of 0.7.
func (s *Store) SearchText(ctx context.Context, keywords []string, k int) ([]SearchResult, error) {
	return s.searchLike(ctx, keywords, k, 0.7)
}

// SearchSubstring is the last-resort naive search used when both vector
// and keyword phases come up empty. Matches score 0.5.
func (s *Store) SearchSubstring(ctx context.Context, words []string, k int) ([]SearchResult, error) {
	return s.searchLike(ctx, words, k, 0.5)
}

func (s *Store) searchLike(ctx context.Context, terms []string, k int, score float64) ([]SearchResult, error) {
	var conditions []string
	var args []interface{}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		conditions = append(conditions, "ulower(c.content) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.content_length,
			c.created_at, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.processing_status = ? AND c.content_length > 100
			AND (` + strings.Join(conditions, " OR ") + `)
		ORDER BY c.document_id, c.chunk_index
		LIMIT ?`

	queryArgs := make([]interface{}, 0, len(args)+2)
	queryArgs = append(queryArgs, StatusCompleted)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, k)

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.ChunkIndex,
			&r.Chunk.Content, &r.Chunk.ContentLength, &r.Chunk.CreatedAt,
			&r.DocumentTitle); err != nil {
			return nil, err
		}
		r.Similarity = score
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
