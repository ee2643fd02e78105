// Package ingest orchestrates corpus ingestion: it walks a directory
// tree of textbook documents, chunks each one, embeds the chunks, and
// upserts the resulting points into the vector index in batches.
//
// Ingestion is a batch process and is not transactional: a crash
// mid-run leaves the index with whatever was upserted so far, and
// re-running is the recovery mechanism. Point ids are derived from
// chunk content (store.PointID), so re-ingesting an unchanged corpus
// is idempotent.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/corvidlabs/lectern/internal/chunker"
	"github.com/corvidlabs/lectern/internal/store"
)

// Embedder is the embedding dependency, satisfied by
// *embedder.Service. Defined here, by the consumer.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PointWriter is the vector index dependency, satisfied by
// *store.Store.
type PointWriter interface {
	Upsert(ctx context.Context, points []store.Point) error
}

// DefaultBatchSize is how many points accumulate before a flush.
// Bounds per-call payload size and amortizes network overhead.
const DefaultBatchSize = 50

// DefaultWorkers bounds how many documents run their chunk-embed
// pipeline concurrently. Traversal itself is sequential.
const DefaultWorkers = 4

// excludedDirs are non-content directories skipped during traversal.
var excludedDirs = map[string]bool{
	"node_modules": true,
	"_templates":   true,
}

// Config configures an Ingestor.
type Config struct {
	// BatchSize is the upsert buffer size. Default: DefaultBatchSize.
	BatchSize int

	// MinChunkLen is the chunk body length floor. Default:
	// chunker.DefaultMinChunkLen. Set negative to keep all chunks.
	MinChunkLen int

	// Workers bounds concurrent per-document pipelines. Default:
	// DefaultWorkers.
	Workers int

	// LockPath is the file lock preventing two concurrent ingestion
	// runs against the same index. Empty disables locking.
	LockPath string
}

// Result summarizes an ingestion run. PointsWritten counts only
// points whose upsert succeeded; a failed flush is never reported as
// success.
type Result struct {
	DocsIndexed   int
	DocsSkipped   int
	DocsFailed    int
	ChunksSkipped int
	PointsWritten int
	PointsFailed  int
	Duration      time.Duration
}

// Ingestor ingests a corpus into the vector index.
type Ingestor struct {
	embedder Embedder
	writer   PointWriter
	splitter chunker.Splitter
	cfg      Config
	logger   *slog.Logger
}

// New creates an Ingestor.
func New(e Embedder, w PointWriter, cfg Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	minLen := cfg.MinChunkLen
	switch {
	case minLen == 0:
		minLen = chunker.DefaultMinChunkLen
	case minLen < 0:
		minLen = 0
	}

	return &Ingestor{
		embedder: e,
		writer:   w,
		splitter: chunker.Splitter{MinChunkLen: minLen},
		cfg:      cfg,
		logger:   logger,
	}
}

// Run ingests every document under corpusRoot and returns a summary.
// A parse or embed failure on one document skips that document and
// continues; only a failure to traverse the corpus at all is fatal.
func (ing *Ingestor) Run(ctx context.Context, corpusRoot string) (*Result, error) {
	start := time.Now()

	if ing.cfg.LockPath != "" {
		lock := flock.New(ing.cfg.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring ingest lock %s: %w", ing.cfg.LockPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("another ingestion run holds %s", ing.cfg.LockPath)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				ing.logger.Warn("releasing ingest lock", "error", err)
			}
		}()
	}

	files, err := ing.collectDocuments(corpusRoot)
	if err != nil {
		return nil, err
	}
	ing.logger.Info("starting ingestion", "root", corpusRoot, "documents", len(files))

	result := &Result{}
	var mu sync.Mutex // guards result counters

	b := &batcher{
		writer: ing.writer,
		size:   ing.cfg.BatchSize,
		logger: ing.logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.Workers)

	for _, file := range files {
		g.Go(func() error {
			points, chunksSkipped, err := ing.processDocument(gctx, corpusRoot, file)

			mu.Lock()
			defer mu.Unlock()
			result.ChunksSkipped += chunksSkipped
			switch {
			case err != nil:
				// Skip-and-log: one bad document must not abort the run.
				ing.logger.Warn("skipping document", "file", file, "error", err)
				result.DocsFailed++
			case len(points) == 0:
				result.DocsSkipped++
			default:
				result.DocsIndexed++
			}

			written, failed := b.add(gctx, points)
			result.PointsWritten += written
			result.PointsFailed += failed
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion canceled: %w", err)
	}

	// Flush the remainder.
	written, failed := b.finish(ctx)
	mu.Lock()
	result.PointsWritten += written
	result.PointsFailed += failed
	result.Duration = time.Since(start)
	mu.Unlock()

	ing.logger.Info("ingestion finished",
		"indexed", result.DocsIndexed,
		"skipped", result.DocsSkipped,
		"failed", result.DocsFailed,
		"chunks_skipped", result.ChunksSkipped,
		"points_written", result.PointsWritten,
		"points_failed", result.PointsFailed,
		"duration", result.Duration)

	return result, nil
}

// collectDocuments walks corpusRoot sequentially and returns the
// markdown files to ingest, excluding non-content directories.
func (ing *Ingestor) collectDocuments(corpusRoot string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(corpusRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != corpusRoot && (excludedDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".mdx":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", corpusRoot, err)
	}

	return files, nil
}

// processDocument reads, chunks, and embeds a single document,
// returning its points and the count of chunks dropped by the length
// floor. An error means the whole document is skipped.
func (ing *Ingestor) processDocument(ctx context.Context, corpusRoot, path string) ([]store.Point, int, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- paths come from walking the configured corpus root
	if err != nil {
		return nil, 0, fmt.Errorf("reading document: %w", err)
	}

	text := string(raw)
	if !utf8.ValidString(text) {
		return nil, 0, fmt.Errorf("document is not valid UTF-8")
	}

	docID := docIDFromPath(path)
	source := path
	if rel, relErr := filepath.Rel(corpusRoot, path); relErr == nil {
		source = rel
	}

	chunks, skipped := ing.splitter.SplitCounting(docID, chunker.StripFrontmatter(text))
	if len(chunks) == 0 {
		ing.logger.Debug("document produced no chunks", "doc_id", docID, "chunks_skipped", skipped)
		return nil, skipped, nil
	}

	points := make([]store.Point, 0, len(chunks))
	for _, c := range chunks {
		vector, err := ing.embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, skipped, fmt.Errorf("embedding chunk %q: %w", c.Header, err)
		}
		points = append(points, store.Point{
			ID:     store.PointID(c.DocID, c.Header, c.Text),
			Vector: vector,
			Payload: store.Payload{
				Text:   c.Text,
				Header: c.Header,
				DocID:  c.DocID,
				Source: source,
			},
		})
	}

	return points, skipped, nil
}

// docIDFromPath derives the stable document id: the file's basename
// with the extension stripped.
func docIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// batcher is the single accumulation point for upserts. All workers
// feed it; it flushes every size points and once more at the end.
type batcher struct {
	mu     sync.Mutex
	buf    []store.Point
	size   int
	writer PointWriter
	logger *slog.Logger
}

// add buffers points and flushes full batches. Returns the number of
// points confirmed written and the number dropped by failed flushes.
func (b *batcher) add(ctx context.Context, points []store.Point) (written, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, points...)
	for len(b.buf) >= b.size {
		w, f := b.flushLocked(ctx, b.size)
		written += w
		failed += f
	}
	return written, failed
}

// finish flushes whatever remains in the buffer.
func (b *batcher) finish(ctx context.Context) (written, failed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) > 0 {
		n := min(len(b.buf), b.size)
		w, f := b.flushLocked(ctx, n)
		written += w
		failed += f
	}
	return written, failed
}

// flushLocked upserts the first n buffered points. Caller holds mu.
// A failed upsert drops the batch and is reported as failed, never as
// written; the run continues with later batches.
func (b *batcher) flushLocked(ctx context.Context, n int) (written, failed int) {
	batch := b.buf[:n]
	if err := b.writer.Upsert(ctx, batch); err != nil {
		b.logger.Error("upsert batch failed", "points", n, "error", err)
		failed = n
	} else {
		written = n
	}
	b.buf = b.buf[n:]
	return written, failed
}
