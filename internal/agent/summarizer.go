package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/llm"
	"github.com/soyeahso/wayfarer/internal/logging"
)

// LLMSummarizer condenses conversation turns with a language model.
type LLMSummarizer struct {
	client Completer
	log    *logging.Logger
}

// NewLLMSummarizer creates a summarizer. A nil client yields a one-line
// placeholder summary.
func NewLLMSummarizer(client Completer, log *logging.Logger) *LLMSummarizer {
	return &LLMSummarizer{client: client, log: log.Sub("summarizer")}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, turns []domain.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	if s.client == nil {
		return FallbackSummary(turns), nil
	}

	var b strings.Builder
	b.WriteString("Summarize this conversation segment:\n\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(t.Sender)), t.Text)
	}

	temp := 0.3
	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		System:      summarizerGuidelines,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Temperature: &temp,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		s.log.Warn().Err(err).Int("turns", len(turns)).Msg("summarizer model failed, using placeholder")
		return FallbackSummary(turns), nil
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text, nil
	}
	return FallbackSummary(turns), nil
}

// FallbackSummary is used when no model summary is available.
func FallbackSummary(turns []domain.Turn) string {
	return fmt.Sprintf("Discussion about travel plans involving %d messages.", len(turns))
}
