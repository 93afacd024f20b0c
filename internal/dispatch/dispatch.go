// Package dispatch executes the directives found in model output.
package dispatch

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
	"RecallChat/internal/memory"
	"RecallChat/internal/search"
	"RecallChat/internal/session"
)

// ErrUnsupportedAction is logged when a directive names something the
// assistant cannot do.
var ErrUnsupportedAction = errors.New("unsupported action")

// User-visible fallbacks.
const (
	SearchUnavailableText = "Web search is currently unavailable."
	CalculateFailedText   = "Sorry, I couldn't calculate that."
	UnsupportedText       = "Sorry, I can't do that yet."
	CommandFailedText     = "Sorry, that command failed."
)

// Context block headers handed back to the model.
const (
	SearchResultsHeader = "WEB_SEARCH_RESULTS:"
	TierContextHeader   = "TIER_CONTEXT:"
	EpisodicHeader      = "EPISODIC_RESULTS:"
)

// Searcher is the web-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) (*search.Response, error)
}

// Memory is the slice of the memory service directives act on.
type Memory interface {
	Remember(ctx context.Context, userID, fact string) (bool, error)
	Facts(ctx context.Context, userID string) ([]string, error)
	Episodic(ctx context.Context, userID, topicHint string) ([]session.Summary, error)
	EpisodicDetail(ctx context.Context, userID, query string) (string, error)
	WorkingMemory(ctx context.Context, sessionID string) ([]session.Message, error)
}

// Request is one directive to execute.
type Request struct {
	Signal    action.Signal
	UserID    string
	SessionID string
	// Notify, when set, receives system messages as they change so an
	// in-progress status can be shown before the action completes.
	Notify func(session.Message)
}

// Result is the outcome of one directive.
type Result struct {
	Kind    action.Kind
	Success bool
	// ContextPayload is text for the model's next prompt; empty means none.
	ContextPayload string
	// UserVisible, when set, is the final reply for the turn.
	UserVisible string
	// Inline replaces the directive text in the visible response.
	Inline string
	// Reprompt asks the loop to call the model again with ContextPayload.
	Reprompt       bool
	SystemMessages []session.Message
	// Err is set only for failures that must abort the turn.
	Err error
}

// Dispatcher routes directives to their handlers.
type Dispatcher struct {
	searcher      Searcher
	memory        Memory
	commands      *CommandRegistry
	searchTimeout time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
	actions       metric.Int64Counter
	now           func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithMeter records the chat.actions counter on m.
func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) {
		if c, err := m.Int64Counter("chat.actions", metric.WithDescription("Dispatched directives")); err == nil {
			d.actions = c
		}
	}
}

// WithSearchTimeout bounds each web search.
func WithSearchTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.searchTimeout = timeout }
}

// New creates a Dispatcher. A nil commands registry means no commands.
func New(searcher Searcher, mem Memory, commands *CommandRegistry, opts ...Option) *Dispatcher {
	if commands == nil {
		commands = NewCommandRegistry()
	}
	d := &Dispatcher{
		searcher: searcher,
		memory:   mem,
		commands: commands,
		logger:   slog.Default(),
		tracer:   otel.Tracer("recallchat/dispatch"),
		now:      time.Now,
	}
	WithMeter(otel.Meter("recallchat/dispatch"))(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Commands returns the registry COMMAND and EXECUTE resolve against.
func (d *Dispatcher) Commands() *CommandRegistry {
	return d.commands
}

// Dispatch executes req.Signal. Collaborator failures are folded into the
// Result; only a failed fact write sets Result.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	sig := req.Signal
	ctx, span := d.tracer.Start(ctx, "action.dispatch", trace.WithAttributes(
		attribute.String("action.kind", string(sig.Kind)),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	var res Result
	switch sig.Kind {
	case action.KindSearch:
		res = d.search(ctx, req)
	case action.KindRemember:
		res = d.remember(ctx, req)
	case action.KindCalculate:
		res = d.calculate(req)
	case action.KindRequestTier:
		res = d.requestTier(ctx, req)
	case action.KindSearchEpisodic:
		res = d.searchEpisodic(ctx, req)
	case action.KindCommand, action.KindExecute:
		res = d.command(ctx, req)
	default:
		res = d.unsupported(req, sig.Keyword)
	}
	res.Kind = sig.Kind

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.SetAttributes(attribute.Bool("action.success", res.Success))
	if d.actions != nil {
		d.actions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(sig.Kind)),
			attribute.Bool("success", res.Success),
		))
	}
	return res
}

func (d *Dispatcher) systemMessage(req Request, typ session.MessageType, status session.Status, content string) session.Message {
	return session.Message{
		ID:        session.NewID(),
		SessionID: req.SessionID,
		Role:      session.RoleSystem,
		Type:      typ,
		Status:    status,
		Content:   content,
		Timestamp: d.now().UTC(),
	}
}

func notify(req Request, msg session.Message) {
	if req.Notify != nil {
		req.Notify(msg)
	}
}

func (d *Dispatcher) search(ctx context.Context, req Request) Result {
	query := req.Signal.Payload
	status := d.systemMessage(req, session.TypeSearch, session.StatusActive, "Searching the web for: "+query)
	notify(req, status)

	if d.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.searchTimeout)
		defer cancel()
	}

	var (
		resp *search.Response
		err  error
	)
	if d.searcher == nil {
		err = search.ErrUnavailable
	} else {
		resp, err = d.searcher.Search(ctx, query)
	}
	if err != nil {
		d.logger.Error("web search failed", "query", query, "session_id", req.SessionID, "error", err)
		status.Status = session.StatusError
		status.Content = "Web search failed for: " + query
		notify(req, status)
		return Result{
			Success:        false,
			UserVisible:    SearchUnavailableText,
			SystemMessages: []session.Message{status},
		}
	}

	status.Status = session.StatusComplete
	status.Content = fmt.Sprintf("Searched the web for: %s (%d results)", query, len(resp.Results))
	notify(req, status)

	return Result{
		Success:        true,
		ContextPayload: fmt.Sprintf("%s\nQuery: %s\n%s", SearchResultsHeader, query, resp.FormattedText),
		Reprompt:       true,
		SystemMessages: []session.Message{status},
	}
}

func (d *Dispatcher) remember(ctx context.Context, req Request) Result {
	fact := req.Signal.Payload
	added, err := d.memory.Remember(ctx, req.UserID, fact)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to store fact: %w", err)}
	}

	content := "Remembered: " + fact
	if !added {
		content = "Already known: " + fact
	}
	msg := d.systemMessage(req, session.TypeMemory, session.StatusComplete, content)
	notify(req, msg)
	return Result{Success: true, SystemMessages: []session.Message{msg}}
}

func (d *Dispatcher) calculate(req Request) Result {
	expr := req.Signal.Payload
	v, err := action.Evaluate(expr)
	if err != nil {
		d.logger.Warn("calculation failed", "expr", expr, "error", err)
		msg := d.systemMessage(req, session.TypeCalculation, session.StatusError, "Could not evaluate: "+expr)
		notify(req, msg)
		return Result{Inline: CalculateFailedText, SystemMessages: []session.Message{msg}}
	}

	out := action.FormatNumber(v)
	msg := d.systemMessage(req, session.TypeCalculation, session.StatusComplete, expr+" = "+out)
	notify(req, msg)
	return Result{Success: true, Inline: out, SystemMessages: []session.Message{msg}}
}

// Tier names accepted by REQUEST_TIER.
const (
	TierWorking    = "working"
	TierPersistent = "persistent"
	TierEpisodic   = "episodic"
)

// parseTier splits "tier[:query]". Anything that is not a tier name is an
// episodic query.
func parseTier(payload string) (tier, query string) {
	head, rest, _ := strings.Cut(payload, ":")
	switch t := strings.ToLower(strings.TrimSpace(head)); t {
	case TierWorking, TierPersistent, TierEpisodic:
		return t, strings.TrimSpace(rest)
	}
	return TierEpisodic, strings.TrimSpace(payload)
}

func (d *Dispatcher) requestTier(ctx context.Context, req Request) Result {
	tier, query := parseTier(req.Signal.Payload)

	body, err := d.tierContent(ctx, req, tier, query)
	if err != nil {
		d.logger.Error("tier fetch failed", "tier", tier, "session_id", req.SessionID, "error", err)
		return Result{}
	}
	if body == "" {
		body = "(nothing found)"
	}

	label := tier
	if query != "" {
		label += ": " + query
	}
	msg := d.systemMessage(req, session.TypeTierContext, session.StatusComplete, "Retrieved "+label+" memory")
	notify(req, msg)

	return Result{
		Success:        true,
		ContextPayload: fmt.Sprintf("%s %s\n%s", TierContextHeader, label, body),
		Reprompt:       true,
		SystemMessages: []session.Message{msg},
	}
}

func (d *Dispatcher) tierContent(ctx context.Context, req Request, tier, query string) (string, error) {
	switch tier {
	case TierWorking:
		msgs, err := d.memory.WorkingMemory(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		return memory.Transcript(msgs), nil
	case TierPersistent:
		facts, err := d.memory.Facts(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		return bulletList(facts), nil
	default:
		if query != "" {
			return d.memory.EpisodicDetail(ctx, req.UserID, query)
		}
		sums, err := d.memory.Episodic(ctx, req.UserID, "")
		if err != nil {
			return "", err
		}
		return formatSummaries(sums), nil
	}
}

func (d *Dispatcher) searchEpisodic(ctx context.Context, req Request) Result {
	query := req.Signal.Payload
	sums, err := d.memory.Episodic(ctx, req.UserID, query)
	if err != nil {
		d.logger.Error("episodic search failed", "query", query, "session_id", req.SessionID, "error", err)
		return Result{}
	}

	var content string
	if len(sums) == 0 {
		content = fmt.Sprintf("No past conversations matched %q.", query)
	} else {
		content = fmt.Sprintf("Past conversations matching %q:\n%s", query, formatSummaries(sums))
	}
	msg := d.systemMessage(req, session.TypeEpisodicResults, session.StatusComplete, content)
	notify(req, msg)

	return Result{
		Success:        true,
		ContextPayload: EpisodicHeader + "\n" + content,
		SystemMessages: []session.Message{msg},
	}
}

func (d *Dispatcher) command(ctx context.Context, req Request) Result {
	name, args, _ := strings.Cut(strings.TrimSpace(req.Signal.Payload), " ")
	cmd, ok := d.commands.Lookup(name)
	if !ok {
		return d.unsupported(req, name)
	}

	out, err := cmd.Run(ctx, strings.TrimSpace(args))
	if err != nil {
		d.logger.Error("command failed", "command", cmd.Name, "session_id", req.SessionID, "error", err)
		msg := d.systemMessage(req, session.TypeCommand, session.StatusError, "Command failed: "+cmd.Name)
		notify(req, msg)
		return Result{Inline: CommandFailedText, SystemMessages: []session.Message{msg}}
	}

	msg := d.systemMessage(req, session.TypeCommand, session.StatusComplete, "Ran command: "+cmd.Name)
	notify(req, msg)
	return Result{Success: true, Inline: strings.TrimSpace(out), SystemMessages: []session.Message{msg}}
}

func (d *Dispatcher) unsupported(req Request, name string) Result {
	d.logger.Warn("unsupported action",
		"kind", req.Signal.Kind,
		"name", name,
		"session_id", req.SessionID,
		"error", fmt.Errorf("%w: %s", ErrUnsupportedAction, name))
	return Result{Inline: UnsupportedText}
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSummaries(sums []session.Summary) string {
	lines := make([]string, len(sums))
	for i, s := range sums {
		lines[i] = fmt.Sprintf("%s (%s): %s", s.Title, s.CreatedAt.Format("2006-01-02"), s.Content)
	}
	return bulletList(lines)
}
