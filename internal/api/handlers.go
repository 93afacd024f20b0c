package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"RecallChat/internal/auth"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenResponse(sess *auth.Session) tokenResponse {
	return tokenResponse{UserID: sess.UserID, Username: sess.Username, Token: sess.Token, ExpiresAt: sess.ExpiresAt}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", "error", err)
		abortWithError(c, http.StatusServiceUnavailable, CodeInternal, "database unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.auth.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUsernameTaken):
		abortWithError(c, http.StatusConflict, CodeConflict, "username already taken")
		return
	case err != nil:
		s.internalError(c, err)
		return
	}

	s.logger.Info("user registered", "user_id", sess.UserID)
	c.JSON(http.StatusCreated, newTokenResponse(sess))
}

func (s *Server) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		abortWithError(c, http.StatusUnauthorized, CodeUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(sess))
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "message is required")
		return
	}

	reply, err := s.chat.Chat(c.Request.Context(), chatbot.Request{
		UserID:    currentUser(c),
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	switch {
	case errors.Is(err, chatbot.ErrEmptyMessage):
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "message is required")
		return
	case errors.Is(err, chatbot.ErrForbidden):
		abortWithError(c, http.StatusForbidden, CodeForbidden, "session belongs to another user")
		return
	case err != nil:
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

type sessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.store.ListSessions(c.Request.Context(), currentUser(c))
	if err != nil {
		s.internalError(c, err)
		return
	}

	out := make([]sessionSummary, len(list))
	for i, sess := range list {
		out[i] = sessionSummary{ID: sess.ID, Title: sess.Title, CreatedAt: sess.StartTime, UpdatedAt: sess.UpdatedAt}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) sessionHistory(c *gin.Context) {
	sess, ok := s.ownedSession(c, c.Param("id"))
	if !ok {
		return
	}

	msgs, err := s.store.History(c.Request.Context(), sess.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "title": sess.Title, "messages": msgs})
}

func (s *Server) deleteSession(c *gin.Context) {
	sess, ok := s.ownedSession(c, c.Param("id"))
	if !ok {
		return
	}

	if err := s.store.DeleteSession(c.Request.Context(), sess.ID); err != nil {
		s.internalError(c, err)
		return
	}
	s.logger.Info("session deleted", "session_id", sess.ID, "user_id", sess.UserID)
	c.Status(http.StatusNoContent)
}

type systemMessageRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (s *Server) appendSystemMessage(c *gin.Context) {
	sess, ok := s.ownedSession(c, c.Param("id"))
	if !ok {
		return
	}

	var req systemMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Content) == "" {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "type and content are required")
		return
	}
	status := session.Status(req.Status)
	if !status.Valid() {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "unknown status")
		return
	}

	msg := session.Message{
		ID:        session.NewID(),
		SessionID: sess.ID,
		Role:      session.RoleSystem,
		Type:      session.MessageType(strings.TrimSpace(req.Type)),
		Status:    status,
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendTurn(c.Request.Context(), sess.ID, msg); err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type updateSystemRequest struct {
	Status  string `json:"status"`
	Content string `json:"content"`
}

func (s *Server) updateSystemMessage(c *gin.Context) {
	var req updateSystemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return
	}
	status := session.Status(req.Status)
	if !status.Valid() {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "unknown status")
		return
	}
	if status == session.StatusNone && req.Content == "" {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "status or content is required")
		return
	}

	ctx := c.Request.Context()
	existing, err := s.store.Message(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, CodeNotFound, "system message not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	if _, ok := s.ownedSession(c, existing.SessionID); !ok {
		return
	}

	msg, err := s.store.UpdateSystemMessage(ctx, existing.ID, status, req.Content)
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, CodeNotFound, "system message not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) listFacts(c *gin.Context) {
	facts, err := s.memory.Facts(c.Request.Context(), currentUser(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}

type factRequest struct {
	Fact string `json:"fact"`
}

func (s *Server) addFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Fact) == "" {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "fact is required")
		return
	}

	added, err := s.memory.Remember(c.Request.Context(), currentUser(c), req.Fact)
	if err != nil {
		s.internalError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"fact": strings.TrimSpace(req.Fact), "added": added})
}

func (s *Server) deleteFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Fact) == "" {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "fact is required")
		return
	}

	err := s.memory.Forget(c.Request.Context(), currentUser(c), req.Fact)
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, CodeNotFound, "fact not found")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
