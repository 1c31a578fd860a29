package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lordamdal/voice-rag/internal/api"
	"github.com/lordamdal/voice-rag/internal/config"
	"github.com/lordamdal/voice-rag/internal/hermes"
	"github.com/lordamdal/voice-rag/internal/ingest"
	"github.com/lordamdal/voice-rag/internal/metrics"
	"github.com/lordamdal/voice-rag/internal/ollama"
	"github.com/lordamdal/voice-rag/internal/orchestrator"
	"github.com/lordamdal/voice-rag/internal/rag"
	"github.com/lordamdal/voice-rag/internal/session"
	"github.com/lordamdal/voice-rag/internal/store"
	"github.com/lordamdal/voice-rag/internal/stt"
	"github.com/lordamdal/voice-rag/internal/tts"
)

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	var err error
	switch cmd {
	case "serve":
		err = runServe(cfg)
	case "ingest":
		err = runIngest(cfg, args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("voicerag failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  voicerag [serve]                        run the HTTP and WebSocket server
  voicerag ingest -session id [-dry-run] <dir>
                                          ingest every supported document under dir
                                          into an existing session`)
}

// deps are the long-lived clients shared by every command.
type deps struct {
	db     *store.Store
	cache  *rag.EmbeddingCache
	bus    *hermes.Client
	llm    *ollama.Client
	rag    *rag.Service
	closed []func()
}

func (d *deps) Close() {
	for i := len(d.closed) - 1; i >= 0; i-- {
		d.closed[i]()
	}
}

func connect(ctx context.Context, cfg config.Config) (*deps, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	d := &deps{}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	d.db = db
	d.closed = append(d.closed, db.Close)
	slog.Info("database connected")

	if cfg.RedisURL != "" {
		cache, err := rag.NewEmbeddingCache(ctx, cfg.RedisURL, cfg.EmbeddingModel, cfg.EmbedCacheTTL, slog.Default())
		if err != nil {
			slog.Warn("embedding cache unavailable, continuing without it", "error", err)
		} else {
			d.cache = cache
			d.closed = append(d.closed, func() { cache.Close() })
			slog.Info("embedding cache ready")
		}
	}

	if cfg.NatsURL != "" {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		d.bus = bus
		d.closed = append(d.closed, bus.Close)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, events will not be published")
	}

	d.llm = ollama.NewClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.EmbeddingModel, slog.Default())
	d.rag = rag.NewService(db, d.llm, d.cache, rag.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		TopK:         cfg.TopK,
	}, slog.Default())
	return d, nil
}

func runServe(cfg config.Config) error {
	slog.Info("voicerag starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	m := metrics.New("voicerag")
	conversations := session.NewManager(d.db, slog.Default())
	speech := tts.NewClient(cfg.TTSURL, cfg.TTSVoice, slog.Default())

	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Transcriber: stt.NewClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperLanguage),
		Generator:   d.llm,
		Synthesizer: speech,
		Retriever:   d.rag,
		History:     conversations,
		Publisher:   d.bus,
		Metrics:     m,
		Logger:      slog.Default(),
	}, orchestrator.Options{
		TopK:            cfg.TopK,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
	})

	// Conversations deleted through another instance must not keep a stale
	// orchestrator here.
	if d.bus != nil {
		err := d.bus.Subscribe(hermes.SubjectConversationDeleted, func(_ string, data []byte) {
			var ev hermes.ConversationDeleted
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("bad conversation deletion event", "error", err)
				return
			}
			registry.Remove(ev.ConversationID)
		})
		if err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg.Port, api.Deps{
		Conversations: conversations,
		Documents:     d.rag,
		Models:        d.llm,
		Voices:        speech,
		Registry:      registry,
		Events:        d.bus,
		Metrics:       m,
		AudioDir:      cfg.AudioOutputDir,
		OllamaURL:     cfg.OllamaBaseURL,
		Logger:        slog.Default(),
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("voicerag ready", "port", cfg.Port, "model", cfg.OllamaModel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	cancel()
	slog.Info("voicerag stopped")
	return nil
}

func runIngest(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	sessionID := fs.String("session", "", "existing conversation to scope documents to (required)")
	statePath := fs.String("state", cfg.IngestStatePath, "progress file")
	dryRun := fs.Bool("dry-run", false, "list files without ingesting")
	fs.Parse(args)
	if fs.NArg() != 1 {
		printUsage()
		return fmt.Errorf("ingest needs exactly one directory")
	}
	if *sessionID == "" {
		printUsage()
		return ingest.ErrNoSession
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := session.NewManager(d.db, slog.Default()).Get(ctx, *sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session %s does not exist", *sessionID)
		}
		return fmt.Errorf("load session: %w", err)
	}

	runner := ingest.NewRunner(ingest.Config{
		Dir:            fs.Arg(0),
		ConversationID: *sessionID,
		StatePath:      *statePath,
		DryRun:         *dryRun,
	}, d.rag, d.bus, slog.Default())
	_, err = runner.Run(ctx)
	return err
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
