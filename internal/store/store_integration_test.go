package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/corvidlabs/lectern/db"
	"github.com/corvidlabs/lectern/internal/log"
)

const testDim = 1536

// setupTestDB starts a disposable pgvector Postgres, applies the
// embedded migrations, and returns a connected pool. Requires Docker.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("lectern_test"),
		postgres.WithUsername("lectern_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("starting postgres container (is Docker running?): %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.Migrate(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	return pool
}

// testVector returns a unit-ish vector with a single dominant axis so
// cosine ordering in tests is predictable.
func testVector(axis int) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = 0.001
	}
	v[axis] = 1
	return v
}

func testPoint(docID, header, text string, axis int) Point {
	return Point{
		ID:     PointID(docID, header, text),
		Vector: testVector(axis),
		Payload: Payload{
			Text:   text,
			Header: header,
			DocID:  docID,
			Source: "docs/" + docID + ".md",
		},
	}
}

func TestStore_EnsureSchema(t *testing.T) {
	pool := setupTestDB(t)
	s := New(pool, log.NewNop())
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx, testDim))

	err := s.EnsureSchema(ctx, 768)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	s := New(pool, log.NewNop())
	ctx := context.Background()

	points := []Point{
		testPoint("intro", "Overview", "Physical AI combines robotics and learning.", 0),
		testPoint("zmp", "Stability", "Zero Moment Point is a stability criterion.", 1),
	}

	require.NoError(t, s.Upsert(ctx, points))
	require.NoError(t, s.Upsert(ctx, points))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "re-upserting the same ids must not duplicate points")
}

func TestStore_SearchRanksByCosineSimilarity(t *testing.T) {
	pool := setupTestDB(t)
	s := New(pool, log.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Point{
		testPoint("zmp", "Stability", "Zero Moment Point is a stability criterion.", 0),
		testPoint("vision", "Perception", "Depth cameras estimate scene geometry.", 1),
		testPoint("grasping", "Manipulation", "Force closure enables stable grasps.", 2),
	}))

	hits, err := s.Search(ctx, testVector(0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "zmp", hits[0].Payload.DocID, "most similar point must rank first")
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i].Similarity, hits[i-1].Similarity,
			"similarity must be non-increasing")
	}
}

func TestStore_SearchDeterministicOnFixedSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	s := New(pool, log.NewNop())
	ctx := context.Background()

	// Two points with identical vectors: the tie must resolve the
	// same way on every query.
	require.NoError(t, s.Upsert(ctx, []Point{
		testPoint("a", "H", "alpha body text", 0),
		testPoint("b", "H", "beta body text", 0),
	}))

	first, err := s.Search(ctx, testVector(0), 2)
	require.NoError(t, err)
	for range 5 {
		again, err := s.Search(ctx, testVector(0), 2)
		require.NoError(t, err)
		require.Equal(t, first, again, "fixed snapshot must return a stable order")
	}
}

func TestStore_ConcurrentUpsertAndSearch(t *testing.T) {
	pool := setupTestDB(t)
	s := New(pool, log.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Point{testPoint("seed", "H", "seed text", 0)}))

	var wg sync.WaitGroup
	errCh := make(chan error, 20)

	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := testPoint("doc", "H", "text variant", i%4)
			p.ID = PointID("doc", "H", "text variant") // same id from all writers
			errCh <- s.Upsert(ctx, []Point{p})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := s.Search(ctx, testVector(0), 5)
			if err == nil {
				// A reader must never observe a partial point.
				for _, h := range hits {
					if h.Payload.Text == "" || h.Payload.DocID == "" {
						err = errors.New("observed partially written point")
						break
					}
				}
			}
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}
