package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"RecallChat/internal/assembler"
	"RecallChat/internal/backend"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/config"
	"RecallChat/internal/dispatch"
	"RecallChat/internal/mcp"
	"RecallChat/internal/memory"
	"RecallChat/internal/search"
	"RecallChat/internal/store"
	"RecallChat/internal/telemetry"
)

// app is the fully wired object graph shared by serve and chat.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	store  *store.SQLiteStore
	llm    *backend.Client
	memory *memory.Service
	mcp    *mcp.ClientRegistry
	bot    *chatbot.Bot

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	logger, logCloser, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.onClose(func() { logCloser.Close() })

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tracer, a.meter = tracer, meter
	a.onClose(shutdown)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st
	a.onClose(func() { st.Close() })

	llm, err := backend.New(cfg.LLM,
		backend.WithLogger(logger),
		backend.WithTracer(tracer),
		backend.WithMeter(meter))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = llm

	a.memory = memory.NewService(st, cfg.Memory,
		memory.WithLogger(logger),
		memory.WithSummarizer(memory.ModelSummarizer{Generate: llm.Generate}))

	a.mcp = mcp.Connect(ctx, cfg.MCP, logger)
	a.onClose(func() { a.mcp.Close() })

	commands := dispatch.NewCommandRegistry()
	if err := dispatch.RegisterBuiltins(commands, time.Now); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}
	if n := dispatch.RegisterMCP(commands, a.mcp); n > 0 {
		logger.Info("registered MCP commands", "count", n)
	}

	searcher := search.NewTavilyClient(cfg.Search,
		search.WithLogger(logger),
		search.WithTracer(tracer))

	dispatcher := dispatch.New(searcher, a.memory, commands,
		dispatch.WithLogger(logger),
		dispatch.WithTracer(tracer),
		dispatch.WithMeter(meter),
		dispatch.WithSearchTimeout(cfg.Search.Timeout))

	a.bot = chatbot.NewBot(st, a.memory, assembler.New(a.memory, st), llm, dispatcher, cfg.Loop,
		chatbot.WithLogger(logger),
		chatbot.WithTracer(tracer),
		chatbot.WithMeter(meter))

	logger.Info("recallchat initialized",
		"backend", llm.Backend(),
		"database", cfg.Database.Path,
		"mcp_servers", a.mcp.Count(),
		"telemetry", cfg.Telemetry.Enabled)
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
