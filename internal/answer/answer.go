// Package answer generates grounded answers from retrieved textbook
// context. Citations are derived from the provenance of the context
// actually supplied to the model, never parsed back out of the
// generated text.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/corvidlabs/lectern/internal/retrieve"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 60 * time.Second

const systemPrompt = `You are a teaching assistant for the Physical AI & Humanoid Robotics textbook.

Answer the student's question using the textbook context provided below.
If the context does not contain the answer, say that you don't know based on the textbook, then offer general knowledge on the topic, clearly labeled as general knowledge.
Always provide citations for textbook material in the format [doc_id].`

// Role values accepted in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is a generated reply plus the doc ids of the context that
// informed it, in first-appearance order.
type Answer struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Config configures a Generator.
type Config struct {
	// ModelName selects the chat model, e.g. "googleai/gemini-2.5-flash".
	// Empty uses the genkit default model.
	ModelName string

	// Timeout bounds one generation call. Default: DefaultTimeout.
	Timeout time.Duration

	// Temperature is passed through to the model when positive.
	Temperature float64
}

// generateFunc matches genkit.Generate, injectable in tests.
type generateFunc func(ctx context.Context, g *genkit.Genkit, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// Generator produces answers over a genkit instance.
type Generator struct {
	g        *genkit.Genkit
	cfg      Config
	logger   *slog.Logger
	generate generateFunc
}

// New creates a Generator.
func New(g *genkit.Genkit, cfg Config, logger *slog.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{g: g, cfg: cfg, logger: logger, generate: genkit.Generate}
}

// Generate answers the question from the given context items and
// conversation history. A generation failure is returned to the
// caller; there is no retry and no canned fallback answer. With no
// context items the model still answers from general knowledge and
// the citation list is empty.
func (gen *Generator) Generate(ctx context.Context, question string, items []retrieve.ContextItem, history []Message) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, gen.cfg.Timeout)
	defer cancel()

	messages, err := buildMessages(question, history)
	if err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(buildSystemPrompt(items)),
		ai.WithMessages(messages...),
	}
	if gen.cfg.ModelName != "" {
		opts = append(opts, ai.WithModelName(gen.cfg.ModelName))
	}
	if gen.cfg.Temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": gen.cfg.Temperature}))
	}

	resp, err := gen.generate(ctx, gen.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	answer := &Answer{
		Text:      resp.Text(),
		Citations: Citations(items),
	}
	gen.logger.Debug("generated answer",
		"context_items", len(items),
		"citations", len(answer.Citations))
	return answer, nil
}

// buildSystemPrompt appends the labeled context blocks to the fixed
// instruction. Each block names its origin so the model can cite it.
func buildSystemPrompt(items []retrieve.ContextItem) string {
	if len(items) == 0 {
		return systemPrompt + "\n\nNo textbook context was retrieved for this question."
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nTextbook context:\n")
	for _, item := range items {
		sb.WriteString("\nSource: ")
		sb.WriteString(item.DocID)
		sb.WriteString(" > ")
		sb.WriteString(item.Header)
		sb.WriteString("\n")
		sb.WriteString(item.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildMessages converts the role-tagged history plus the new question
// into the model message sequence.
func buildMessages(question string, history []Message) ([]*ai.Message, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	for i, m := range history {
		switch m.Role {
		case RoleUser:
			messages = append(messages, ai.NewUserTextMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, ai.NewModelTextMessage(m.Content))
		default:
			return nil, fmt.Errorf("history[%d]: unknown role %q", i, m.Role)
		}
	}
	messages = append(messages, ai.NewUserTextMessage(question))
	return messages, nil
}

// Citations returns the distinct doc ids of the supplied context, in
// first-appearance order. Never nil.
func Citations(items []retrieve.ContextItem) []string {
	citations := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.DocID == "" || seen[item.DocID] {
			continue
		}
		seen[item.DocID] = true
		citations = append(citations, item.DocID)
	}
	return citations
}
