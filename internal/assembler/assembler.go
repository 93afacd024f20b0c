// Package assembler builds the context block sent to the model with every
// prompt.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"RecallChat/internal/memory"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

// Section headers, in the order they appear.
const (
	FactsHeader    = "PERSISTENT FACTS:"
	EpisodicHeader = "EPISODIC CONTEXT"
	WorkingHeader  = "WORKING MEMORY:"
	ActionHeader   = "ACTION RESULTS:"
)

// Instructions tell the model which directives it may emit.
const Instructions = `You are a helpful assistant with memory.
You may include exactly one directive per reply:
[SEARCH:query] search the web; reply with the directive alone.
[REMEMBER:fact] store a lasting fact about the user.
[CALCULATE:expression] compute arithmetic; the result replaces the directive.
[COMMAND:name args] run an available command.
[REQUEST_TIER:working|persistent|episodic[:query]] fetch more memory before answering.
[SEARCH_EPISODIC:query] look up past conversations.
Otherwise answer normally.`

// Memory is what the assembler reads from the memory tiers.
type Memory interface {
	Facts(ctx context.Context, userID string) ([]string, error)
	Episodic(ctx context.Context, userID, topicHint string) ([]session.Summary, error)
	WorkingMemory(ctx context.Context, sessionID string) ([]session.Message, error)
}

// Markers finds the latest marker message of a type in a session.
type Markers interface {
	LatestOfType(ctx context.Context, sessionID string, typ session.MessageType) (*session.Message, error)
}

// Input identifies what to assemble context for.
type Input struct {
	UserID    string
	SessionID string
	// ActionPayloads are fresh results from this turn's directives.
	ActionPayloads []string
}

// Assembler renders the context block.
type Assembler struct {
	memory       Memory
	markers      Markers
	instructions string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithInstructions replaces the directive instructions placed before the
// memory sections. An empty string omits them.
func WithInstructions(s string) Option {
	return func(a *Assembler) { a.instructions = s }
}

// New creates an Assembler.
func New(mem Memory, markers Markers, opts ...Option) *Assembler {
	a := &Assembler{memory: mem, markers: markers, instructions: Instructions}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble returns the context in fixed order: persistent facts, episodic
// context, working memory, action results. Empty sections are left out.
// Episodic context is included only when the session has a selected-video
// marker; the most recent marker is the topic.
func (a *Assembler) Assemble(ctx context.Context, in Input) (string, error) {
	var sections []string
	if a.instructions != "" {
		sections = append(sections, a.instructions)
	}

	facts, err := a.memory.Facts(ctx, in.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to assemble facts: %w", err)
	}
	if len(facts) > 0 {
		sections = append(sections, FactsHeader+"\n"+bullets(facts))
	}

	episodic, err := a.episodic(ctx, in)
	if err != nil {
		return "", err
	}
	if episodic != "" {
		sections = append(sections, episodic)
	}

	working, err := a.memory.WorkingMemory(ctx, in.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to assemble working memory: %w", err)
	}
	if t := memory.Transcript(working); t != "" {
		sections = append(sections, WorkingHeader+"\n"+t)
	}

	var payloads []string
	for _, p := range in.ActionPayloads {
		if p = strings.TrimSpace(p); p != "" {
			payloads = append(payloads, p)
		}
	}
	if len(payloads) > 0 {
		sections = append(sections, ActionHeader+"\n"+strings.Join(payloads, "\n\n"))
	}

	return strings.Join(sections, "\n\n"), nil
}

func (a *Assembler) episodic(ctx context.Context, in Input) (string, error) {
	if a.markers == nil {
		return "", nil
	}
	marker, err := a.markers.LatestOfType(ctx, in.SessionID, session.TypeVideoSelected)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find selected video: %w", err)
	}

	topic := strings.TrimSpace(marker.Content)
	sums, err := a.memory.Episodic(ctx, in.UserID, topic)
	if err != nil {
		return "", fmt.Errorf("failed to assemble episodic context: %w", err)
	}
	if len(sums) == 0 {
		return "", nil
	}

	lines := make([]string, len(sums))
	for i, s := range sums {
		lines[i] = fmt.Sprintf("%s (%s): %s", s.Title, s.CreatedAt.Format("2006-01-02"), s.Content)
	}
	return fmt.Sprintf("%s (selected: %s):\n%s", EpisodicHeader, topic, bullets(lines)), nil
}

func bullets(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}
