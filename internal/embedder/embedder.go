// Package embedder wraps a Genkit embedding model behind the small
// surface the rest of lectern needs: one text in, one fixed-length
// vector out.
//
// The wrapper owns the concerns every caller would otherwise repeat:
// newline normalization (embedded newlines degrade some embedding
// models), a mandatory per-call timeout, dimensionality validation
// against the vector schema, and rate limiting of outbound calls so
// batch ingestion stays inside provider quotas.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// ErrUnavailable indicates the embedding service call failed or timed
// out. Callers decide whether to retry, skip, or degrade: the indexer
// skips the document, the retriever returns an empty context.
var ErrUnavailable = errors.New("embedding service unavailable")

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 15 * time.Second

// Config configures a Service.
type Config struct {
	// Dimension is the vector length the embedding model must
	// produce. This is a hard contract of the vector schema.
	Dimension int

	// Timeout bounds each outbound call. Default: DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond limits outbound call rate. 0 disables
	// limiting (requests pass through immediately).
	RequestsPerSecond float64
}

// Service maps text to fixed-length dense vectors via a Genkit
// embedder. Safe for concurrent use.
type Service struct {
	embedder ai.Embedder
	dim      int
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Service around the given Genkit embedder.
func New(e ai.Embedder, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Service{
		embedder: e,
		dim:      cfg.Dimension,
		timeout:  timeout,
		limiter:  limiter,
		logger:   logger,
	}
}

// Dimension returns the configured vector dimensionality.
func (s *Service) Dimension() int {
	return s.dim
}

// Embed maps text to a dense vector of the configured dimensionality.
// Embedded newlines are collapsed to spaces before the call. Failures
// and timeouts wrap ErrUnavailable.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	normalized := strings.ReplaceAll(text, "\n", " ")

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(normalized, nil)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %s: %w", ErrUnavailable, s.timeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}

	vector := resp.Embeddings[0].Embedding
	if s.dim > 0 && len(vector) != s.dim {
		// A mismatch means the configured model and the vector schema
		// disagree. Continuing would corrupt the index.
		return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(vector), s.dim)
	}

	return vector, nil
}
