package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/corvidlabs/lectern/internal/answer"
	"github.com/corvidlabs/lectern/internal/log"
	"github.com/corvidlabs/lectern/internal/retrieve"
)

type stubRetriever struct {
	items []retrieve.ContextItem
	query string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string) []retrieve.ContextItem {
	s.query = query
	return s.items
}

type stubGenerator struct {
	ans     *answer.Answer
	err     error
	gotCtx  []retrieve.ContextItem
	gotHist []answer.Message
}

func (s *stubGenerator) Generate(_ context.Context, _ string, items []retrieve.ContextItem, history []answer.Message) (*answer.Answer, error) {
	s.gotCtx = items
	s.gotHist = history
	return s.ans, s.err
}

func newChatServer(ret Retriever, gen Generator) http.Handler {
	mux := http.NewServeMux()
	NewChatHandler(ret, gen, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat_AnswersWithCitations(t *testing.T) {
	ret := &stubRetriever{items: []retrieve.ContextItem{
		{Text: "ZMP criterion.", Header: "Stability", DocID: "zmp", Source: "docs/zmp.md"},
	}}
	gen := &stubGenerator{ans: &answer.Answer{
		Text:      "The Zero Moment Point keeps robots stable [zmp].",
		Citations: []string{"zmp"},
	}}

	rec := postChat(t, newChatServer(ret, gen), `{"message":"how do robots balance?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var got answer.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Citations) != 1 || got.Citations[0] != "zmp" {
		t.Errorf("Citations = %v, want [zmp]", got.Citations)
	}
	if ret.query != "how do robots balance?" {
		t.Errorf("retriever received query %q", ret.query)
	}
	if len(gen.gotCtx) != 1 {
		t.Errorf("generator received %d context items, want 1", len(gen.gotCtx))
	}
}

func TestChat_ForwardsHistory(t *testing.T) {
	gen := &stubGenerator{ans: &answer.Answer{Text: "ok", Citations: []string{}}}
	h := newChatServer(&stubRetriever{}, gen)

	rec := postChat(t, h, `{"message":"and then?","history":[{"role":"user","content":"what is ZMP?"},{"role":"assistant","content":"a criterion"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(gen.gotHist) != 2 {
		t.Fatalf("history length = %d, want 2", len(gen.gotHist))
	}
	if gen.gotHist[1].Role != answer.RoleAssistant {
		t.Errorf("history[1].Role = %q", gen.gotHist[1].Role)
	}
}

func TestChat_BadRequests(t *testing.T) {
	h := newChatServer(&stubRetriever{}, &stubGenerator{ans: &answer.Answer{}})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing message", `{"history":[]}`},
		{"oversized message", `{"message":"` + strings.Repeat("x", MaxQuestionLen+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestChat_GenerationFailureReturns502(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	rec := postChat(t, newChatServer(&stubRetriever{}, gen), `{"message":"q"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "GENERATION_FAILED" {
		t.Errorf("error code = %q", resp.Error)
	}
}

func TestChat_EmptyRetrievalStillAnswers(t *testing.T) {
	gen := &stubGenerator{ans: &answer.Answer{Text: "general knowledge answer", Citations: []string{}}}
	rec := postChat(t, newChatServer(&stubRetriever{}, gen), `{"message":"q"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got answer.Answer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Citations == nil || len(got.Citations) != 0 {
		t.Errorf("Citations = %v, want empty", got.Citations)
	}
}
