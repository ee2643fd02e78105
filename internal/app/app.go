// Package app wires the application together: configuration, database
// pool, genkit, and the retrieval pipeline components. All
// dependencies are constructed here and passed down explicitly; no
// package holds global state.
package app

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvidlabs/lectern/internal/answer"
	"github.com/corvidlabs/lectern/internal/config"
	"github.com/corvidlabs/lectern/internal/embedder"
	"github.com/corvidlabs/lectern/internal/ingest"
	"github.com/corvidlabs/lectern/internal/retrieve"
	"github.com/corvidlabs/lectern/internal/store"
)

// App is the application container. Setup builds it; Close releases
// everything it owns.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit
	Pool      *pgxpool.Pool
	Embedder  *embedder.Service
	Store     *store.Store
	Retriever *retrieve.Retriever
	Generator *answer.Generator

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}

	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// NewIngestor builds an ingestion pipeline over the app's embedder
// and store. The run lock lives under the OS temp directory so two
// ingest invocations against the same machine serialize.
func (a *App) NewIngestor() *ingest.Ingestor {
	return ingest.New(a.Embedder, a.Store, ingest.Config{
		BatchSize:   a.Config.BatchSize,
		MinChunkLen: a.Config.MinChunkLen,
		Workers:     a.Config.IngestWorkers,
		LockPath:    filepath.Join(os.TempDir(), "lectern-ingest.lock"),
	}, a.Logger)
}
