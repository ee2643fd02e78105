package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/corvidlabs/lectern/internal/answer"
	"github.com/corvidlabs/lectern/internal/log"
)

func TestLiveness(t *testing.T) {
	s := NewServer(nil, &stubRetriever{}, &stubGenerator{ans: &answer.Answer{}}, log.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestReadiness_NoIndexIsUnavailable(t *testing.T) {
	s := NewServer(nil, &stubRetriever{}, &stubGenerator{ans: &answer.Answer{}}, log.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready without index = %d, want 503", rec.Code)
	}
}

func TestChatRouteRejectsGet(t *testing.T) {
	s := NewServer(nil, &stubRetriever{}, &stubGenerator{ans: &answer.Answer{}}, log.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/chat = %d, want 405", rec.Code)
	}
}

// TestRun_GracefulShutdown verifies the server stops cleanly on
// context cancellation without leaking goroutines.
func TestRun_GracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewServer(nil, &stubRetriever{}, &stubGenerator{ans: &answer.Answer{}}, log.NewNop())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	if err := lis.Close(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, addr)
	}()

	// Wait for the server to come up, then stop it.
	url := fmt.Sprintf("http://%s/health", addr)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server never became reachable: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after graceful shutdown", err)
		}
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down in time")
	}

	// Let idle keep-alive connections from the probe client settle.
	http.DefaultClient.CloseIdleConnections()
}
