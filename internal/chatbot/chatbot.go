// Package chatbot runs the conversation loop: assemble context, call the
// model, act on any directive, and persist the finished turn.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RecallChat/internal/action"
	"RecallChat/internal/assembler"
	"RecallChat/internal/backend"
	"RecallChat/internal/dispatch"
	"RecallChat/internal/keylock"
	"RecallChat/internal/session"
	"RecallChat/internal/store"
)

var (
	ErrForbidden    = errors.New("session belongs to another user")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrPersistence marks failures to store the turn or its side effects.
	ErrPersistence = errors.New("persistence failure")
)

// State is a step of the turn state machine.
type State string

const (
	StateAwaitingLLM State = "AWAITING_LLM"
	StateParsing     State = "PARSING_RESPONSE"
	StateDispatching State = "DISPATCHING_ACTION"
	StateFinalizing  State = "FINALIZING"
	StatePersisted   State = "PERSISTED"
)

// Reply statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusLimit   = "limit"
)

// User-visible fallbacks.
const (
	ApologyText       = "Sorry, something went wrong while answering. Please try again."
	LimitFallbackText = "I couldn't finish that request within this turn."
	EmptyReplyText    = "Got it."
	actionLimitNote   = "Action limit reached: %s was not carried out."
)

// Config bounds the loop.
type Config struct {
	// MaxReprompts caps extra model calls per user turn.
	MaxReprompts int `mapstructure:"max_reprompts"`
}

// DefaultConfig allows a single re-prompt.
func DefaultConfig() Config {
	return Config{MaxReprompts: 1}
}

// Store is the session persistence the loop needs.
type Store interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	AppendTurn(ctx context.Context, sessionID string, msgs ...session.Message) error
}

// Memory is notified when a session begins.
type Memory interface {
	StartSession(ctx context.Context, userID, newSessionID string) error
}

// Assembler builds the context block for each model call.
type Assembler interface {
	Assemble(ctx context.Context, in assembler.Input) (string, error)
}

// Dispatcher executes directives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

// Request is one user message.
type Request struct {
	UserID    string
	SessionID string // "" or "new" starts a session
	Message   string
}

// Reply is the outcome of one user turn.
type Reply struct {
	Response       string            `json:"response"`
	SessionID      string            `json:"session_id"`
	Status         string            `json:"status"`
	SystemMessages []session.Message `json:"system_messages,omitempty"`
	NewSession     bool              `json:"new_session,omitempty"`
	State          State             `json:"-"`
	Trace          []State           `json:"-"`
}

// Bot runs conversation turns. Turns for one session are serialised;
// different sessions proceed concurrently.
type Bot struct {
	store      Store
	memory     Memory
	assembler  Assembler
	llm        backend.Generator
	dispatcher Dispatcher
	cfg        Config

	logger *slog.Logger
	tracer trace.Tracer
	turns  metric.Int64Counter
	now    func() time.Time

	locks *keylock.Set
}

// Option configures a Bot.
type Option func(*Bot)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(b *Bot) { b.tracer = t }
}

// WithMeter records the chat.turns counter on m.
func WithMeter(m metric.Meter) Option {
	return func(b *Bot) {
		if c, err := m.Int64Counter("chat.turns", metric.WithDescription("Completed chat turns")); err == nil {
			b.turns = c
		}
	}
}

// NewBot wires the loop's collaborators.
func NewBot(st Store, mem Memory, asm Assembler, llm backend.Generator, d Dispatcher, cfg Config, opts ...Option) *Bot {
	b := &Bot{
		store:      st,
		memory:     mem,
		assembler:  asm,
		llm:        llm,
		dispatcher: d,
		cfg:        cfg,
		logger:     slog.Default(),
		tracer:     otel.Tracer("recallchat/chatbot"),
		now:        time.Now,
		locks:      keylock.New(),
	}
	WithMeter(otel.Meter("recallchat/chatbot"))(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Chat runs one user turn to completion.
func (b *Bot) Chat(ctx context.Context, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := b.tracer.Start(ctx, "chat.turn", trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer span.End()

	sess, created, err := b.resolveSession(ctx, req.UserID, req.SessionID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))

	unlock := b.locks.Lock(sess.ID)
	defer unlock()

	if created {
		if err := b.memory.StartSession(ctx, req.UserID, sess.ID); err != nil {
			b.logger.Warn("failed to summarize previous session", "user_id", req.UserID, "session_id", sess.ID, "error", err)
		}
	}

	reply, err := b.runTurn(ctx, sess, req.UserID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("chat turn failed", "session_id", sess.ID, "error", err)
		return nil, err
	}
	reply.NewSession = created

	if b.turns != nil {
		b.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", reply.Status)))
	}
	span.SetAttributes(attribute.String("chat.status", reply.Status))
	return reply, nil
}

// resolveSession returns the session to chat in, creating one when the id
// is empty, "new" or unknown.
func (b *Bot) resolveSession(ctx context.Context, userID, sessionID, firstMessage string) (*session.Session, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" && sessionID != "new" {
		sess, err := b.store.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			if sess.UserID != userID {
				return nil, false, ErrForbidden
			}
			return sess, false, nil
		case errors.Is(err, store.ErrNotFound):
			b.logger.Info("unknown session, starting a new one", "requested_id", sessionID, "user_id", userID)
		default:
			return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	sess := &session.Session{
		ID:        session.NewSessionID(),
		UserID:    userID,
		Title:     session.TitleFrom(firstMessage),
		StartTime: b.now().UTC(),
		Backend:   b.backendName(),
	}
	if err := b.store.CreateSession(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	b.logger.Info("created new session", "session_id", sess.ID, "user_id", userID, "backend", sess.Backend)
	return sess, true, nil
}

func (b *Bot) backendName() string {
	if n, ok := b.llm.(interface{ Backend() string }); ok {
		return n.Backend()
	}
	return ""
}

// turnRun carries the state of one turn through the loop.
type turnRun struct {
	sess      *session.Session
	userID    string
	turn      *session.Turn
	trace     []State
	payloads  []string
	reprompts int
	status    string
	response  string
}

func (r *turnRun) enter(s State) {
	r.trace = append(r.trace, s)
}

func (b *Bot) runTurn(ctx context.Context, sess *session.Session, userID, text string) (*Reply, error) {
	r := &turnRun{
		sess:   sess,
		userID: userID,
		status: StatusSuccess,
		turn: session.NewTurn(session.Message{
			ID:        session.NewID(),
			SessionID: sess.ID,
			Role:      session.RoleUser,
			Content:   text,
			Timestamp: b.now().UTC(),
		}),
	}

	if err := b.loop(ctx, r, text); err != nil {
		return nil, err
	}

	r.enter(StateFinalizing)
	visible := strings.TrimSpace(action.Strip(r.response))
	if visible == "" {
		visible = EmptyReplyText
	}
	r.turn.SetAssistant(session.Message{
		ID:        session.NewID(),
		SessionID: sess.ID,
		Content:   visible,
		Timestamp: b.now().UTC(),
	})

	if err := b.store.AppendTurn(ctx, sess.ID, r.turn.Messages()...); err != nil {
		return nil, fmt.Errorf("%w: failed to save turn: %w", ErrPersistence, err)
	}
	r.enter(StatePersisted)

	b.logger.Info("turn persisted",
		"session_id", sess.ID,
		"status", r.status,
		"reprompts", r.reprompts,
		"states", len(r.trace))

	return &Reply{
		Response:       visible,
		SessionID:      sess.ID,
		Status:         r.status,
		SystemMessages: r.turn.System(),
		State:          StatePersisted,
		Trace:          r.trace,
	}, nil
}

// loop drives AWAITING_LLM → PARSING_RESPONSE → DISPATCHING_ACTION until the
// turn can be finalized. It returns an error only for persistence failures.
func (b *Bot) loop(ctx context.Context, r *turnRun, text string) error {
	for {
		sysContext, err := b.assembler.Assemble(ctx, assembler.Input{
			UserID:         r.userID,
			SessionID:      r.sess.ID,
			ActionPayloads: r.payloads,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		r.enter(StateAwaitingLLM)
		out, err := b.llm.Generate(ctx, text, sysContext)
		if err != nil {
			b.logger.Error("llm call failed", "session_id", r.sess.ID, "error", err)
			r.response, r.status = ApologyText, StatusError
			return nil
		}

		r.enter(StateParsing)
		parsed := action.Parse(out)
		if !parsed.Found() {
			r.response = out
			return nil
		}
		sig := *parsed.Signal

		if !sig.Interrupting() && sig.Kind != action.KindRequestTier {
			r.enter(StateDispatching)
			res, err := b.dispatch(ctx, r, sig)
			if err != nil {
				return err
			}
			r.response = parsed.Replace(res.Inline)
			return nil
		}

		if r.reprompts >= b.cfg.MaxReprompts {
			b.limitReached(r, sig, out)
			return nil
		}

		r.enter(StateDispatching)
		res, err := b.dispatch(ctx, r, sig)
		if err != nil {
			return err
		}
		switch {
		case res.UserVisible != "":
			r.response, r.status = res.UserVisible, StatusError
			return nil
		case res.Reprompt && res.ContextPayload != "":
			r.payloads = append(r.payloads, res.ContextPayload)
			r.reprompts++
		default:
			r.response = parsed.Clean
			if strings.TrimSpace(r.response) == "" {
				r.response, r.status = ApologyText, StatusError
			}
			return nil
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, r *turnRun, sig action.Signal) (dispatch.Result, error) {
	res := b.dispatcher.Dispatch(ctx, dispatch.Request{
		Signal:    sig,
		UserID:    r.userID,
		SessionID: r.sess.ID,
		Notify:    r.turn.UpsertSystem,
	})
	for _, m := range res.SystemMessages {
		r.turn.UpsertSystem(m)
	}
	if res.Err != nil {
		return res, fmt.Errorf("%w: %w", ErrPersistence, res.Err)
	}
	return res, nil
}

// limitReached finalizes with what the model last said, minus directives.
func (b *Bot) limitReached(r *turnRun, sig action.Signal, last string) {
	b.logger.Warn("action limit reached", "session_id", r.sess.ID, "kind", sig.Kind, "reprompts", r.reprompts)

	r.status = StatusLimit
	r.response = action.Strip(last)
	if strings.TrimSpace(r.response) == "" {
		r.response = LimitFallbackText
	}
	r.turn.UpsertSystem(session.Message{
		ID:        session.NewID(),
		SessionID: r.sess.ID,
		Type:      session.TypeActionLimit,
		Status:    session.StatusComplete,
		Content:   fmt.Sprintf(actionLimitNote, sig.Kind),
		Timestamp: b.now().UTC(),
	})
}
