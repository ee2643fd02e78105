package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/corvidlabs/lectern/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	dim      int
	err      error
	lastText string
	calls    int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.calls++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastText = req.Input[0].Content[0].Text
	}
	if m.err != nil {
		return nil, m.err
	}
	embedding := make([]float32, m.dim)
	for i := range embedding {
		embedding[i] = float32(i)
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: embedding}},
	}, nil
}

func TestEmbed_ReturnsVector(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	svc := New(mock, Config{Dimension: 4}, log.NewNop())

	vector, err := svc.Embed(context.Background(), "zero moment point")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("vector length = %d, want 4", len(vector))
	}
}

func TestEmbed_CollapsesNewlines(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	svc := New(mock, Config{Dimension: 4}, log.NewNop())

	if _, err := svc.Embed(context.Background(), "line one\nline two\nline three"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	want := "line one line two line three"
	if mock.lastText != want {
		t.Errorf("sent text = %q, want %q", mock.lastText, want)
	}
}

func TestEmbed_FailureWrapsErrUnavailable(t *testing.T) {
	mock := &mockEmbedder{err: errors.New("connection refused")}
	svc := New(mock, Config{Dimension: 4}, log.NewNop())

	_, err := svc.Embed(context.Background(), "query")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestEmbed_TimeoutWrapsErrUnavailable(t *testing.T) {
	mock := &mockEmbedder{err: context.DeadlineExceeded}
	svc := New(mock, Config{Dimension: 4, Timeout: time.Millisecond}, log.NewNop())

	_, err := svc.Embed(context.Background(), "query")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	mock := &mockEmbedder{dim: 3}
	svc := New(mock, Config{Dimension: 1536}, log.NewNop())

	_, err := svc.Embed(context.Background(), "query")
	if err == nil {
		t.Fatal("expected dimension mismatch error, got nil")
	}
	// Not an availability problem: the index must not absorb this.
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("dimension mismatch should not wrap ErrUnavailable: %v", err)
	}
}

func TestEmbed_EmptyResponse(t *testing.T) {
	svc := New(&emptyEmbedder{}, Config{Dimension: 4}, log.NewNop())

	_, err := svc.Embed(context.Background(), "query")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestEmbed_RateLimiterHonorsCancellation(t *testing.T) {
	mock := &mockEmbedder{dim: 4}
	// 1 req/s with burst 1: the second call has to wait ~1s.
	svc := New(mock, Config{Dimension: 4, RequestsPerSecond: 1}, log.NewNop())

	if _, err := svc.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("first Embed failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := svc.Embed(ctx, "second")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if mock.calls != 1 {
		t.Errorf("embedder called %d times, want 1 (second call blocked by limiter)", mock.calls)
	}
}

// emptyEmbedder returns a response with no embeddings.
type emptyEmbedder struct{}

func (e *emptyEmbedder) Name() string { return "empty-embedder" }

func (e *emptyEmbedder) Register(_ api.Registry) {}

func (e *emptyEmbedder) Embed(_ context.Context, _ *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	return &ai.EmbedResponse{}, nil
}
