// Package api exposes the chat loop, sessions and facts over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"RecallChat/internal/auth"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

// Error codes used in the JSON error envelope.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeInternal     = "internal"

	internalMessage = "internal error"
	userIDKey       = "user_id"
)

// Chatter runs a conversation turn.
type Chatter interface {
	Chat(ctx context.Context, req chatbot.Request) (*chatbot.Reply, error)
}

// Store is the session persistence the handlers read and write.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	ListSessions(ctx context.Context, userID string) ([]session.Session, error)
	History(ctx context.Context, sessionID string) ([]session.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AppendTurn(ctx context.Context, sessionID string, msgs ...session.Message) error
	Message(ctx context.Context, id string) (*session.Message, error)
	UpdateSystemMessage(ctx context.Context, id string, status session.Status, content string) (*session.Message, error)
	Ping() error
}

// Memory manages a user's persistent facts.
type Memory interface {
	Facts(ctx context.Context, userID string) ([]string, error)
	Remember(ctx context.Context, userID, fact string) (bool, error)
	Forget(ctx context.Context, userID, fact string) error
}

// Authenticator registers users and checks bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*auth.Session, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	Verify(token string) (string, error)
}

// Server holds the HTTP handlers' collaborators.
type Server struct {
	chat   Chatter
	store  Store
	memory Memory
	auth   Authenticator
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the API server.
func NewServer(chat Chatter, st Store, mem Memory, a Authenticator, opts ...Option) *Server {
	s := &Server{chat: chat, store: st, memory: mem, auth: a, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(s.requestLogger(), gin.CustomRecovery(s.recover))
	r.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, CodeNotFound, "route not found")
	})

	r.GET("/healthz", s.health)
	r.POST("/auth/register", s.register)
	r.POST("/auth/login", s.login)

	authed := r.Group("/", s.requireAuth())
	authed.POST("/chat", s.postChat)
	authed.GET("/sessions", s.listSessions)
	authed.GET("/sessions/:id/history", s.sessionHistory)
	authed.DELETE("/sessions/:id", s.deleteSession)
	authed.POST("/sessions/:id/system", s.appendSystemMessage)
	authed.PUT("/system/message/:id", s.updateSystemMessage)
	authed.GET("/facts", s.listFacts)
	authed.POST("/facts", s.addFact)
	authed.DELETE("/facts", s.deleteFact)

	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

// internalError logs err and answers with the generic envelope.
func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err)
	abortWithError(c, http.StatusInternalServerError, CodeInternal, internalMessage)
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.internalError(c, fmt.Errorf("panic: %v", recovered))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortWithError(c, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.auth.Verify(strings.TrimSpace(token))
		if err != nil {
			s.logger.Debug("token rejected", "error", err)
			abortWithError(c, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// ownedSession loads the session named by the :id parameter and checks that
// it belongs to the caller. It writes the error response itself.
func (s *Server) ownedSession(c *gin.Context, sessionID string) (*session.Session, bool) {
	sess, err := s.store.GetSession(c.Request.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, CodeNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	if sess.UserID != currentUser(c) {
		abortWithError(c, http.StatusForbidden, CodeForbidden, "session belongs to another user")
		return nil, false
	}
	return sess, true
}
