package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecallChat/internal/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createSession(t *testing.T, s *SQLiteStore, userID string) *session.Session {
	t.Helper()
	sess := &session.Session{ID: session.NewSessionID(), UserID: userID, Title: "test"}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := createSession(t, s, "u1")
	createSession(t, s, "u2")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "test", got.Title)
	assert.False(t, got.Summarized)

	list, err := s.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.DeleteSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAppendTurnAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "u1")

	err := s.AppendTurn(ctx, sess.ID,
		session.Message{Role: session.RoleUser, Content: "hello"},
		session.Message{ID: "sys-1", Role: session.RoleSystem, Content: "Searching", Type: session.TypeSearch, Status: session.StatusActive},
		session.Message{Role: session.RoleAssistant, Content: "hi there"},
	)
	require.NoError(t, err)

	// Same system id again must update, not duplicate.
	err = s.AppendTurn(ctx, sess.ID,
		session.Message{ID: "sys-1", Role: session.RoleSystem, Content: "Search complete", Type: session.TypeSearch, Status: session.StatusComplete},
	)
	require.NoError(t, err)

	history, err := s.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "Search complete", history[1].Content)
	assert.Equal(t, session.StatusComplete, history[1].Status)
	assert.Equal(t, "hi there", history[2].Content)

	again, err := s.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, history, again)
}

func TestAppendTurn_UnknownSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendTurn(context.Background(), "missing", session.Message{Role: session.RoleUser, Content: "x"})
	assert.Error(t, err)
}

func TestWorkingMemory_Bounded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "u1")

	for _, c := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, s.AppendTurn(ctx, sess.ID, session.Message{Role: session.RoleUser, Content: c}))
	}

	wm, err := s.WorkingMemory(ctx, sess.ID, 3)
	require.NoError(t, err)
	require.Len(t, wm, 3)
	assert.Equal(t, "three", wm[0].Content)
	assert.Equal(t, "five", wm[2].Content)

	empty, err := s.WorkingMemory(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpdateSystemMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "u1")

	require.NoError(t, s.AppendTurn(ctx, sess.ID,
		session.Message{ID: "user-1", Role: session.RoleUser, Content: "hi"},
		session.Message{ID: "sys-1", Role: session.RoleSystem, Content: "Searching", Status: session.StatusActive},
	))

	msg, err := s.UpdateSystemMessage(ctx, "sys-1", session.StatusComplete, "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusComplete, msg.Status)
	assert.Equal(t, "Searching", msg.Content)

	_, err = s.UpdateSystemMessage(ctx, "user-1", session.StatusComplete, "")
	assert.True(t, errors.Is(err, ErrNotFound))

	got, err := s.Message(ctx, "sys-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.SessionID)
	assert.Equal(t, session.StatusComplete, got.Status)

	_, err = s.Message(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLatestOfType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "u1")
	base := time.Now().UTC()

	require.NoError(t, s.AppendTurn(ctx, sess.ID,
		session.Message{Role: session.RoleSystem, Content: "video-a", Type: session.TypeVideoSelected, Timestamp: base},
		session.Message{Role: session.RoleSystem, Content: "video-b", Type: session.TypeVideoSelected, Timestamp: base.Add(time.Second)},
	))

	msg, err := s.LatestOfType(ctx, sess.ID, session.TypeVideoSelected)
	require.NoError(t, err)
	assert.Equal(t, "video-b", msg.Content)

	_, err = s.LatestOfType(ctx, sess.ID, session.TypeSearch)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFacts_CaseInsensitiveDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	added, err := s.AddFact(ctx, "u1", "User's dog is named Rex")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddFact(ctx, "u1", "user's DOG is  named rex")
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.AddFact(ctx, "u2", "User's dog is named Rex")
	require.NoError(t, err)
	assert.True(t, added)

	facts, err := s.Facts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "User's dog is named Rex", facts[0].Content)

	require.NoError(t, s.RemoveFact(ctx, "u1", "USER'S DOG IS NAMED REX"))
	facts, err = s.Facts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestEpisodicSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendSummary(ctx, &session.Summary{UserID: "u1", SessionID: "s1", Title: "Paris trip", Content: "Planned a trip to Paris in May"}))
	require.NoError(t, s.AppendSummary(ctx, &session.Summary{UserID: "u1", SessionID: "s2", Title: "Go generics", Content: "Discussed type parameters"}))
	require.NoError(t, s.AppendSummary(ctx, &session.Summary{UserID: "u2", SessionID: "s3", Title: "Paris", Content: "Someone else's Paris"}))

	found, err := s.SearchEpisodic(ctx, "u1", "paris MAY", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s1", found[0].SessionID)

	none, err := s.SearchEpisodic(ctx, "u1", "100%", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := s.RecentEpisodic(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestLatestUnsummarizedSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := createSession(t, s, "u1")
	current := createSession(t, s, "u1")
	empty := createSession(t, s, "u1")
	_ = empty

	require.NoError(t, s.AppendTurn(ctx, old.ID, session.Message{Role: session.RoleUser, Content: "old"}))
	require.NoError(t, s.AppendTurn(ctx, current.ID, session.Message{Role: session.RoleUser, Content: "new"}))

	got, err := s.LatestUnsummarizedSession(ctx, "u1", current.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, got.ID)

	claimed, err := s.ClaimSummary(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	_, err = s.LatestUnsummarizedSession(ctx, "u1", current.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClaimSummary_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := createSession(t, s, "u1")

	claimed, err := s.ClaimSummary(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimSummary(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, s.ReleaseSummary(ctx, sess.ID))
	claimed, err = s.ClaimSummary(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimSummary(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestAppendTurn_ReopensSummarizedSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := createSession(t, s, "u1")
	current := createSession(t, s, "u1")

	require.NoError(t, s.AppendTurn(ctx, old.ID, session.Message{Role: session.RoleUser, Content: "first visit"}))
	claimed, err := s.ClaimSummary(ctx, old.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.AppendTurn(ctx, old.ID, session.Message{Role: session.RoleUser, Content: "resumed"}))

	got, err := s.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, got.Summarized)

	due, err := s.LatestUnsummarizedSession(ctx, "u1", current.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, due.ID)
}

func TestAppendSummary_ReplacesSameSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AppendSummary(ctx, &session.Summary{UserID: "u1", SessionID: "s1", Title: "Trip", Content: "first draft"}))
	require.NoError(t, s.AppendSummary(ctx, &session.Summary{UserID: "u1", SessionID: "s1", Title: "Trip", Content: "after resuming"}))

	all, err := s.RecentEpisodic(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "after resuming", all[0].Content)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u, err := s.CreateUser(ctx, "Alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.CreateUser(ctx, "alice", "hash2")
	assert.True(t, errors.Is(err, ErrUsernameTaken))

	got, err := s.UserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.UserByUsername(ctx, "bob")
	assert.True(t, errors.Is(err, ErrNotFound))
}
