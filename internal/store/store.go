// Package store implements the persistent vector index for textbook
// chunks on PostgreSQL + pgvector.
//
// The index is a single collection (the chunks table, created by the
// migrations in db/) holding (id, vector, payload) points. The indexer
// is the only writer; retrieval is read-only. Upsert and Search are
// independently safe to run concurrently: each point is written in one
// INSERT statement, so a reader never observes a partial point.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// ErrUnavailable indicates the vector index could not be reached or
// the operation failed. The indexer logs and continues; the retriever
// degrades to an empty context.
var ErrUnavailable = errors.New("vector index unavailable")

// ErrSchemaMismatch indicates the live chunks table was created with a
// different vector dimensionality than the one configured. Running
// against a mismatched schema silently corrupts search results, so
// startup fails instead.
var ErrSchemaMismatch = errors.New("vector schema dimension mismatch")

// TableName is the single collection holding the whole corpus.
const TableName = "chunks"

// Payload carries the displayable fields of a point, used for context
// assembly and citations.
type Payload struct {
	Text   string
	Header string
	DocID  string
	Source string
}

// Point is the atomic unit stored in the index.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit: a point's payload plus its cosine
// similarity to the query vector.
type ScoredPoint struct {
	ID         string
	Payload    Payload
	Similarity float32
}

// PointID derives a deterministic point id from chunk content
// identity. Re-ingesting an unchanged corpus produces the same ids,
// which makes ingestion idempotent under upsert: same content, same
// row. Content-identical chunks under the same doc and header
// deliberately collapse into one point.
func PointID(docID, header, text string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte(header))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "chunk_" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Store provides upsert and nearest-neighbor search over the chunks
// table. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// EnsureSchema verifies the chunks table exists and its embedding
// column matches the configured dimensionality. The table itself is
// created by migrations; this check exists because "table already
// exists" is not evidence the schema matches. A mismatch returns
// ErrSchemaMismatch and must abort startup.
func (s *Store) EnsureSchema(ctx context.Context, dim int) error {
	// pgvector stores the dimension in the column's type modifier.
	const query = `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = $1::regclass
		  AND attname = 'embedding'
		  AND NOT attisdropped`

	var typmod int
	if err := s.pool.QueryRow(ctx, query, TableName).Scan(&typmod); err != nil {
		return fmt.Errorf("%w: checking %s schema: %w", ErrUnavailable, TableName, err)
	}

	if typmod != dim {
		return fmt.Errorf("%w: %s.embedding is vector(%d), configured dimension is %d; recreate the collection to change dimensionality",
			ErrSchemaMismatch, TableName, typmod, dim)
	}

	s.logger.Debug("vector schema verified", "table", TableName, "dimension", dim)
	return nil
}

// Upsert adds or replaces points by id in one batched round trip.
// Calling it repeatedly with the same ids never duplicates entries.
// On error no success is reported for any point in the batch.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	const upsertSQL = `
		INSERT INTO chunks (id, doc_id, header, source, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			header = EXCLUDED.header,
			source = EXCLUDED.source,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, p := range points {
		vec := pgvector.NewVector(p.Vector)
		batch.Queue(upsertSQL, p.ID, p.Payload.DocID, p.Payload.Header, p.Payload.Source, p.Payload.Text, vec)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for i := range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: upserting point %q (%d of %d): %w",
				ErrUnavailable, points[i].ID, i+1, len(points), err)
		}
	}

	s.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Search returns up to k nearest neighbors of vector by cosine
// similarity, most similar first. Ties are broken by ascending point
// id so a fixed index snapshot always returns the same order.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	const searchSQL = `
		SELECT id, doc_id, header, source, content,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY embedding <=> $1, id
		LIMIT $2`

	query := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx, searchSQL, query, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var hits []ScoredPoint
	for rows.Next() {
		var hit ScoredPoint
		if err := rows.Scan(&hit.ID, &hit.Payload.DocID, &hit.Payload.Header,
			&hit.Payload.Source, &hit.Payload.Text, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scanning search row: %w", ErrUnavailable, err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading search rows: %w", ErrUnavailable, err)
	}

	return hits, nil
}

// Count returns the number of points in the index.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting points: %w", ErrUnavailable, err)
	}
	return count, nil
}
