package chatbot_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecallChat/internal/assembler"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/dispatch"
	"RecallChat/internal/memory"
	"RecallChat/internal/search"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

// scriptedLLM replays canned responses and records every call.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	contexts  []string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt, sysContext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.contexts = append(s.contexts, sysContext)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "ok", nil
	}
	out := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return out, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type countingSearcher struct {
	queries []string
	err     error
}

func (c *countingSearcher) Search(_ context.Context, q string) (*search.Response, error) {
	c.queries = append(c.queries, q)
	if c.err != nil {
		return nil, c.err
	}
	return &search.Response{
		Query:         q,
		Results:       []search.Result{{Title: "Forecast", URL: "https://example.com", Content: "Sunny, 24C"}},
		FormattedText: "1. Forecast (https://example.com)\n   Sunny, 24C",
	}, nil
}

type harness struct {
	bot      *chatbot.Bot
	llm      *scriptedLLM
	searcher *countingSearcher
	store    *store.SQLiteStore
	memory   *memory.Service
}

func newHarness(t *testing.T, responses ...string) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mem := memory.NewService(st, memory.DefaultConfig())
	llm := &scriptedLLM{responses: responses}
	searcher := &countingSearcher{}
	d := dispatch.New(searcher, mem, nil)
	bot := chatbot.NewBot(st, mem, assembler.New(mem, st), llm, d, chatbot.DefaultConfig())

	return &harness{bot: bot, llm: llm, searcher: searcher, store: st, memory: mem}
}

func (h *harness) chat(t *testing.T, userID, sessionID, msg string) *chatbot.Reply {
	t.Helper()
	reply, err := h.bot.Chat(context.Background(), chatbot.Request{UserID: userID, SessionID: sessionID, Message: msg})
	require.NoError(t, err)
	return reply
}

func TestChat_PlainReply(t *testing.T) {
	h := newHarness(t, "Hello! How can I help?")

	reply := h.chat(t, "u1", "", "hi")

	assert.Equal(t, "Hello! How can I help?", reply.Response)
	assert.Equal(t, chatbot.StatusSuccess, reply.Status)
	assert.True(t, reply.NewSession)
	assert.Equal(t, chatbot.StatePersisted, reply.State)
	assert.Equal(t, []chatbot.State{
		chatbot.StateAwaitingLLM,
		chatbot.StateParsing,
		chatbot.StateFinalizing,
		chatbot.StatePersisted,
	}, reply.Trace)

	history, err := h.store.History(context.Background(), reply.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, session.RoleAssistant, history[1].Role)

	sess, err := h.store.GetSession(context.Background(), reply.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "hi", sess.Title)
}

func TestChat_SearchRepromptsOnce(t *testing.T) {
	h := newHarness(t, "[SEARCH:weather in Paris]", "It's sunny in Paris today.")

	reply := h.chat(t, "u1", "new", "What's the weather in Paris?")

	assert.Equal(t, "It's sunny in Paris today.", reply.Response)
	assert.Equal(t, []string{"weather in Paris"}, h.searcher.queries)
	require.Equal(t, 2, h.llm.calls())
	assert.NotContains(t, h.llm.contexts[0], dispatch.SearchResultsHeader)
	assert.Contains(t, h.llm.contexts[1], dispatch.SearchResultsHeader)
	assert.Contains(t, h.llm.contexts[1], "Sunny, 24C")

	require.Len(t, reply.SystemMessages, 1)
	assert.Equal(t, session.TypeSearch, reply.SystemMessages[0].Type)
	assert.Equal(t, session.StatusComplete, reply.SystemMessages[0].Status)

	history, err := h.store.History(context.Background(), reply.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, session.RoleSystem, history[1].Role)
	assert.Equal(t, "It's sunny in Paris today.", history[2].Content)
}

func TestChat_SearchLoopIsCapped(t *testing.T) {
	h := newHarness(t, "[SEARCH:weather]", "Let me look again [SEARCH:weather today]")

	reply := h.chat(t, "u1", "", "weather?")

	assert.Len(t, h.searcher.queries, 1)
	assert.Equal(t, 2, h.llm.calls())
	assert.Equal(t, chatbot.StatusLimit, reply.Status)
	assert.Equal(t, "Let me look again", reply.Response)

	var limit *session.Message
	for i := range reply.SystemMessages {
		if reply.SystemMessages[i].Type == session.TypeActionLimit {
			limit = &reply.SystemMessages[i]
		}
	}
	require.NotNil(t, limit)
	assert.Contains(t, limit.Content, "SEARCH")
}

func TestChat_SearchLoopCappedWithoutText(t *testing.T) {
	h := newHarness(t, "[SEARCH:weather]")

	reply := h.chat(t, "u1", "", "weather?")

	assert.Equal(t, chatbot.LimitFallbackText, reply.Response)
	assert.Equal(t, chatbot.StatusLimit, reply.Status)
}

func TestChat_SearchFailureSkipsSecondCall(t *testing.T) {
	h := newHarness(t, "[SEARCH:weather in Paris]", "should never be used")
	h.searcher.err = errors.New("connection refused")

	reply := h.chat(t, "u1", "", "What's the weather in Paris?")

	assert.Equal(t, dispatch.SearchUnavailableText, reply.Response)
	assert.Equal(t, chatbot.StatusError, reply.Status)
	assert.Equal(t, 1, h.llm.calls())
	require.Len(t, reply.SystemMessages, 1)
	assert.Equal(t, session.StatusError, reply.SystemMessages[0].Status)
}

func TestChat_RememberDeduplicatesAndCarriesOver(t *testing.T) {
	h := newHarness(t, "Nice to meet you, Sam! [REMEMBER:User's name is Sam]")
	ctx := context.Background()

	first := h.chat(t, "u1", "", "I'm Sam")
	assert.Equal(t, "Nice to meet you, Sam!", first.Response)

	second := h.chat(t, "u1", first.SessionID, "Did I say I'm Sam?")
	assert.Equal(t, first.SessionID, second.SessionID)

	facts, err := h.memory.Facts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"User's name is Sam"}, facts)

	h.llm.responses = []string{"Your name is Sam."}
	third := h.chat(t, "u1", "new", "What's my name?")
	assert.NotEqual(t, first.SessionID, third.SessionID)
	assert.True(t, third.NewSession)
	last := h.llm.contexts[len(h.llm.contexts)-1]
	assert.Contains(t, last, "User's name is Sam")

	// The previous session was condensed when the new one began.
	sums, err := h.memory.Episodic(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, first.SessionID, sums[0].SessionID)
}

func TestChat_UnknownSessionStartsNewOne(t *testing.T) {
	h := newHarness(t, "hello")

	reply := h.chat(t, "u1", "does-not-exist", "hi")

	assert.True(t, reply.NewSession)
	assert.NotEqual(t, "does-not-exist", reply.SessionID)
	_, err := h.store.GetSession(context.Background(), reply.SessionID)
	assert.NoError(t, err)
}

func TestChat_ForeignSessionForbidden(t *testing.T) {
	h := newHarness(t, "hello")
	owned := h.chat(t, "u1", "", "hi")

	_, err := h.bot.Chat(context.Background(), chatbot.Request{UserID: "u2", SessionID: owned.SessionID, Message: "hi"})
	assert.ErrorIs(t, err, chatbot.ErrForbidden)
}

func TestChat_EmptyMessage(t *testing.T) {
	h := newHarness(t)

	_, err := h.bot.Chat(context.Background(), chatbot.Request{UserID: "u1", Message: "  "})
	assert.ErrorIs(t, err, chatbot.ErrEmptyMessage)
	assert.Equal(t, 0, h.llm.calls())
}

func TestChat_LLMErrorApologises(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("backend down")

	reply := h.chat(t, "u1", "", "hi")

	assert.Equal(t, chatbot.ApologyText, reply.Response)
	assert.Equal(t, chatbot.StatusError, reply.Status)

	history, err := h.store.History(context.Background(), reply.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChat_DirectivesNeverPersisted(t *testing.T) {
	h := newHarness(t, "That is [CALCULATE:2+2] and noted [REMEMBER:likes maths]")

	reply := h.chat(t, "u1", "", "what is 2+2?")

	assert.Equal(t, "That is 4 and noted", reply.Response)

	history, err := h.store.History(context.Background(), reply.SessionID)
	require.NoError(t, err)
	for _, m := range history {
		if m.Role == session.RoleAssistant {
			assert.NotContains(t, m.Content, "[")
		}
	}
}

func TestChat_RequestTierReprompts(t *testing.T) {
	h := newHarness(t, "[REQUEST_TIER:persistent]", "You like tea.")
	_, err := h.memory.Remember(context.Background(), "u1", "Likes tea")
	require.NoError(t, err)

	reply := h.chat(t, "u1", "", "What do I like?")

	assert.Equal(t, "You like tea.", reply.Response)
	require.Equal(t, 2, h.llm.calls())
	assert.Contains(t, h.llm.contexts[1], dispatch.TierContextHeader)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, dispatch.Request) dispatch.Result {
	return dispatch.Result{Err: errors.New("disk full")}
}

func TestChat_FactWriteFailureIsFatal(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mem := memory.NewService(st, memory.DefaultConfig())
	llm := &scriptedLLM{responses: []string{"ok [REMEMBER:x]"}}
	bot := chatbot.NewBot(st, mem, assembler.New(mem, st), llm, failingDispatcher{}, chatbot.DefaultConfig())

	_, err = bot.Chat(context.Background(), chatbot.Request{UserID: "u1", Message: "remember x"})
	assert.ErrorIs(t, err, chatbot.ErrPersistence)
}

func TestChat_ConcurrentTurnsSameSession(t *testing.T) {
	h := newHarness(t, "ok")
	first := h.chat(t, "u1", "", "start")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.bot.Chat(context.Background(), chatbot.Request{UserID: "u1", SessionID: first.SessionID, Message: "again"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := h.store.History(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 12)
}

func TestREPL_ChatAndCommands(t *testing.T) {
	h := newHarness(t, "Hi there [REMEMBER:Lives in Lyon]")
	in := strings.NewReader("hello\n/facts\n/history\n/forget lives in lyon\n/facts\n/bogus\n/quit\n")
	var out bytes.Buffer

	repl := chatbot.NewREPL(h.bot, h.store, h.memory, "local", chatbot.WithIO(in, &out))
	require.NoError(t, repl.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Bot: Hi there")
	assert.Contains(t, text, "1. Lives in Lyon")
	assert.Contains(t, text, "user: hello")
	assert.Contains(t, text, "Forgot: lives in lyon")
	assert.Contains(t, text, "Nothing remembered yet.")
	assert.Contains(t, text, "Error: unknown command: /bogus")
	assert.Contains(t, text, "Goodbye!")
	assert.NotEmpty(t, repl.SessionID())
}
