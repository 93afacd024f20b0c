package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"RecallChat/internal/session"
)

// Transcript renders chat messages as "role: content" lines. Internal
// markers are skipped.
func Transcript(msgs []session.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Type == session.TypeVideoSelected || m.Type == session.TypeActionLimit {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, strings.TrimSpace(m.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractiveSummarizer keeps the user's messages, in order, up to MaxChars.
// It never fails and backs up model-based summaries.
type ExtractiveSummarizer struct {
	MaxChars int
}

func (e ExtractiveSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	var asks []string
	for _, line := range strings.Split(transcript, "\n") {
		if rest, ok := strings.CutPrefix(line, string(session.RoleUser)+": "); ok {
			asks = append(asks, rest)
		}
	}
	if len(asks) == 0 {
		return truncate(transcript, e.MaxChars), nil
	}
	return truncate("User discussed: "+strings.Join(asks, "; "), e.MaxChars), nil
}

// GeneratorFunc calls a language model with a prompt and context.
type GeneratorFunc func(ctx context.Context, prompt, context string) (string, error)

// ModelSummarizer asks a language model for the summary.
type ModelSummarizer struct {
	Generate GeneratorFunc
}

const summaryPrompt = "Summarize the conversation above in two or three sentences. " +
	"Keep names, places and decisions. Reply with the summary only."

func (m ModelSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := m.Generate(ctx, summaryPrompt, "CONVERSATION:\n"+transcript)
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
