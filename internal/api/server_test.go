package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"RecallChat/internal/api"
	"RecallChat/internal/assembler"
	"RecallChat/internal/auth"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/dispatch"
	"RecallChat/internal/memory"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type echoLLM struct{ reply string }

func (e echoLLM) Generate(context.Context, string, string) (string, error) {
	return e.reply, nil
}

type panicChatter struct{}

func (panicChatter) Chat(context.Context, chatbot.Request) (*chatbot.Reply, error) {
	panic("boom")
}

type testAPI struct {
	handler http.Handler
	store   *store.SQLiteStore
}

func newTestAPI(t *testing.T, reply string) *testAPI {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mem := memory.NewService(st, memory.DefaultConfig())
	bot := chatbot.NewBot(st, mem, assembler.New(mem, st), echoLLM{reply: reply}, dispatch.New(nil, mem, nil), chatbot.DefaultConfig())

	authCfg := auth.DefaultConfig()
	authCfg.Secret = "test-secret"
	authCfg.BcryptCost = bcrypt.MinCost
	authSvc, err := auth.NewService(st, authCfg)
	require.NoError(t, err)

	return &testAPI{handler: api.NewServer(bot, st, mem, authSvc).Handler(), store: st}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, username string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": username, "password": "password123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t, "hi")
	a.register(t, "alice")

	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "ALICE", "password": "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "bob", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "password123"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, api.CodeUnauthorized, env.Error.Code)
}

func TestRequiresToken(t *testing.T) {
	a := newTestAPI(t, "hi")

	rec := a.do(t, http.MethodGet, "/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/sessions", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, api.CodeUnauthorized, env.Error.Code)
}

func TestChatAndHistory(t *testing.T) {
	a := newTestAPI(t, "Nice to meet you! [REMEMBER:Name is Alice]")
	token := a.register(t, "alice")

	rec := a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "I'm Alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[chatbot.Reply](t, rec)
	assert.Equal(t, "Nice to meet you!", reply.Response)
	assert.Equal(t, chatbot.StatusSuccess, reply.Status)
	require.NotEmpty(t, reply.SessionID)

	rec = a.do(t, http.MethodGet, "/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Sessions []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"sessions"`
	}](t, rec)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, reply.SessionID, list.Sessions[0].ID)
	assert.Equal(t, "I'm Alice", list.Sessions[0].Title)

	path := "/sessions/" + reply.SessionID + "/history"
	first := a.do(t, http.MethodGet, path, token, nil)
	second := a.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	hist := decode[struct {
		Messages []session.Message `json:"messages"`
	}](t, first)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, session.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, session.TypeMemory, hist.Messages[1].Type)
	assert.Equal(t, session.RoleAssistant, hist.Messages[2].Role)

	rec = a.do(t, http.MethodGet, "/facts", token, nil)
	facts := decode[struct {
		Facts []string `json:"facts"`
	}](t, rec)
	assert.Equal(t, []string{"Name is Alice"}, facts.Facts)
}

func TestChat_Validation(t *testing.T) {
	a := newTestAPI(t, "hi")
	token := a.register(t, "alice")

	rec := a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other := a.register(t, "mallory")
	rec = a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "hi"})
	reply := decode[chatbot.Reply](t, rec)

	rec = a.do(t, http.MethodPost, "/chat", other, map[string]string{"message": "hi", "session_id": reply.SessionID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/sessions/"+reply.SessionID+"/history", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	a := newTestAPI(t, "hi")
	token := a.register(t, "alice")
	reply := decode[chatbot.Reply](t, a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "hello"}))

	rec := a.do(t, http.MethodDelete, "/sessions/"+reply.SessionID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/sessions/"+reply.SessionID+"/history", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, api.CodeNotFound, env.Error.Code)
}

func TestSystemMessages(t *testing.T) {
	a := newTestAPI(t, "hi")
	token := a.register(t, "alice")
	reply := decode[chatbot.Reply](t, a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "hello"}))

	rec := a.do(t, http.MethodPost, "/sessions/"+reply.SessionID+"/system", token, map[string]string{
		"type":    string(session.TypeVideoSelected),
		"content": "Cooking pasta",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[session.Message](t, rec)
	assert.Equal(t, session.RoleSystem, created.Role)

	rec = a.do(t, http.MethodPut, "/system/message/"+created.ID, token, map[string]string{"status": "complete"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[session.Message](t, rec)
	assert.Equal(t, session.StatusComplete, updated.Status)
	assert.Equal(t, "Cooking pasta", updated.Content)

	rec = a.do(t, http.MethodPut, "/system/message/"+created.ID, token, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, "/system/message/missing", token, map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	other := a.register(t, "mallory")
	rec = a.do(t, http.MethodPut, "/system/message/"+created.ID, other, map[string]string{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFacts(t *testing.T) {
	a := newTestAPI(t, "hi")
	token := a.register(t, "alice")

	rec := a.do(t, http.MethodPost, "/facts", token, map[string]string{"fact": "Likes tea"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(t, http.MethodPost, "/facts", token, map[string]string{"fact": "likes TEA"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodDelete, "/facts", token, map[string]string{"fact": "likes tea"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodDelete, "/facts", token, map[string]string{"fact": "likes tea"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	a := newTestAPI(t, "hi")

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/healthz", "", nil).Code)

	rec := a.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, api.CodeNotFound, env.Error.Code)
}

func TestRecoveryUsesEnvelope(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mem := memory.NewService(st, memory.DefaultConfig())
	authCfg := auth.DefaultConfig()
	authCfg.Secret = "test-secret"
	authCfg.BcryptCost = bcrypt.MinCost
	authSvc, err := auth.NewService(st, authCfg)
	require.NoError(t, err)

	a := &testAPI{handler: api.NewServer(panicChatter{}, st, mem, authSvc).Handler(), store: st}
	token := a.register(t, "alice")

	rec := a.do(t, http.MethodPost, "/chat", token, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode[errorEnvelope](t, rec)
	assert.Equal(t, api.CodeInternal, env.Error.Code)
	assert.Equal(t, "internal error", env.Error.Message)
}
