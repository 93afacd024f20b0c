// Package memory implements the three memory tiers a conversation draws on:
// working memory (recent turns of the active session), episodic memory
// (summaries of past sessions) and persistent facts (explicitly remembered
// statements that live until removed).
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"RecallChat/internal/keylock"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

// Backend is the persistence the memory tiers are kept in.
type Backend interface {
	WorkingMemory(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	History(ctx context.Context, sessionID string) ([]session.Message, error)
	Facts(ctx context.Context, userID string) ([]store.Fact, error)
	AddFact(ctx context.Context, userID, text string) (bool, error)
	RemoveFact(ctx context.Context, userID, text string) error
	AppendSummary(ctx context.Context, sum *session.Summary) error
	SearchEpisodic(ctx context.Context, userID, query string, limit int) ([]session.Summary, error)
	RecentEpisodic(ctx context.Context, userID string, limit int) ([]session.Summary, error)
	LatestUnsummarizedSession(ctx context.Context, userID, excludeID string) (*session.Session, error)
	ClaimSummary(ctx context.Context, sessionID string) (bool, error)
	ReleaseSummary(ctx context.Context, sessionID string) error
}

// Summarizer condenses a finished session transcript into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config bounds the tiers.
type Config struct {
	WorkingTurns    int `mapstructure:"working_turns"`
	EpisodicLimit   int `mapstructure:"episodic_limit"`
	SummaryMaxChars int `mapstructure:"summary_max_chars"`
	DetailMaxChars  int `mapstructure:"detail_max_chars"`
}

// DefaultConfig returns the default tier bounds.
func DefaultConfig() Config {
	return Config{
		WorkingTurns:    10,
		EpisodicLimit:   3,
		SummaryMaxChars: 600,
		DetailMaxChars:  4000,
	}
}

// Service owns the memory tiers for all users. Writes to a user's facts are
// serialised with a per-user lock.
type Service struct {
	backend    Backend
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger

	locks *keylock.Set
}

// Option configures a Service.
type Option func(*Service)

// WithSummarizer sets the summarizer used when a session is condensed.
func WithSummarizer(s Summarizer) Option {
	return func(svc *Service) { svc.summarizer = s }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// NewService creates a memory service over backend.
func NewService(backend Backend, cfg Config, opts ...Option) *Service {
	svc := &Service{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default(),
		locks:   keylock.New(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.summarizer == nil {
		svc.summarizer = ExtractiveSummarizer{MaxChars: cfg.SummaryMaxChars}
	}
	return svc
}

// WorkingMemory returns the most recent turns of a session, oldest first.
func (s *Service) WorkingMemory(ctx context.Context, sessionID string) ([]session.Message, error) {
	msgs, err := s.backend.WorkingMemory(ctx, sessionID, s.cfg.WorkingTurns*2)
	if err != nil {
		return nil, fmt.Errorf("failed to load working memory: %w", err)
	}
	return msgs, nil
}

// Facts returns the user's persistent facts as plain strings.
func (s *Service) Facts(ctx context.Context, userID string) ([]string, error) {
	facts, err := s.backend.Facts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Content
	}
	return out, nil
}

// Remember adds a fact unless an equal one (ignoring case) already exists.
// It reports whether the fact was new.
func (s *Service) Remember(ctx context.Context, userID, fact string) (bool, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return false, fmt.Errorf("fact is empty")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	added, err := s.backend.AddFact(ctx, userID, fact)
	if err != nil {
		return false, fmt.Errorf("failed to remember fact: %w", err)
	}
	s.logger.Info("fact stored", "user_id", userID, "added", added)
	return added, nil
}

// Forget removes a fact.
func (s *Service) Forget(ctx context.Context, userID, fact string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.backend.RemoveFact(ctx, userID, fact); err != nil {
		return fmt.Errorf("failed to forget fact: %w", err)
	}
	return nil
}

// Episodic returns summaries matching topicHint, or the newest ones when the
// hint is empty.
func (s *Service) Episodic(ctx context.Context, userID, topicHint string) ([]session.Summary, error) {
	var (
		sums []session.Summary
		err  error
	)
	if strings.TrimSpace(topicHint) == "" {
		sums, err = s.backend.RecentEpisodic(ctx, userID, s.cfg.EpisodicLimit)
	} else {
		sums, err = s.backend.SearchEpisodic(ctx, userID, topicHint, s.cfg.EpisodicLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load episodic memory: %w", err)
	}
	return sums, nil
}

// EpisodicDetail escalates from a summary to the full transcript of the
// session behind the best match for query. It returns an empty string when
// nothing matches.
func (s *Service) EpisodicDetail(ctx context.Context, userID, query string) (string, error) {
	sums, err := s.Episodic(ctx, userID, query)
	if err != nil {
		return "", err
	}
	if len(sums) == 0 {
		return "", nil
	}

	best := sums[0]
	history, err := s.backend.History(ctx, best.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load session detail: %w", err)
	}
	if len(history) == 0 {
		return fmt.Sprintf("Session %q (%s): %s", best.Title, best.CreatedAt.Format("2006-01-02"), best.Content), nil
	}

	detail := fmt.Sprintf("Session %q (%s):\n%s", best.Title, best.CreatedAt.Format("2006-01-02"), Transcript(history))
	return truncate(detail, s.cfg.DetailMaxChars), nil
}

// StartSession condenses the user's latest unsummarised session (other than
// the new one) into an episodic entry. Working memory needs no reset: it is
// read per session.
func (s *Service) StartSession(ctx context.Context, userID, newSessionID string) error {
	prev, err := s.backend.LatestUnsummarizedSession(ctx, userID, newSessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find previous session: %w", err)
	}
	return s.Summarize(ctx, prev)
}

// Summarize writes an episodic entry for sess and marks it summarised. The
// session is claimed first, so concurrent callers condense it only once.
func (s *Service) Summarize(ctx context.Context, sess *session.Session) error {
	claimed, err := s.backend.ClaimSummary(ctx, sess.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if err := s.summarize(ctx, sess); err != nil {
		if rerr := s.backend.ReleaseSummary(context.WithoutCancel(ctx), sess.ID); rerr != nil {
			s.logger.Error("failed to release session summary", "session_id", sess.ID, "error", rerr)
		}
		return err
	}
	return nil
}

func (s *Service) summarize(ctx context.Context, sess *session.Session) error {
	history, err := s.backend.History(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load session history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	transcript := Transcript(history)
	content, err := s.summarizer.Summarize(ctx, transcript)
	if err != nil || strings.TrimSpace(content) == "" {
		s.logger.Warn("summarizer failed, using extractive summary", "session_id", sess.ID, "error", err)
		content, _ = ExtractiveSummarizer{MaxChars: s.cfg.SummaryMaxChars}.Summarize(ctx, transcript)
	}

	sum := &session.Summary{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Title:     sess.Title,
		Content:   truncate(content, s.cfg.SummaryMaxChars),
	}
	if err := s.backend.AppendSummary(ctx, sum); err != nil {
		return err
	}

	s.logger.Info("session summarized", "session_id", sess.ID, "user_id", sess.UserID)
	return nil
}
