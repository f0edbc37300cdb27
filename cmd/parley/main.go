// Command parley runs the chat platform core.
//
// Usage:
//
//	parley serve --config parley.yaml
//	parley index --config parley.yaml --collection docs ./handbook
//	parley chat --config parley.yaml --model main
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/auth"
	"github.com/parley-chat/parley/pkg/chat"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/embedders"
	"github.com/parley-chat/parley/pkg/extract"
	"github.com/parley-chat/parley/pkg/lexical"
	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/logger"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/rag"
	"github.com/parley-chat/parley/pkg/server"
	"github.com/parley-chat/parley/pkg/store"
	"github.com/parley-chat/parley/pkg/tools"
	"github.com/parley-chat/parley/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Index   IndexCmd   `cmd:"" help:"Ingest documents into a collection."`
	Chat    ChatCmd    `cmd:"" help:"Interactive chat session on stdin."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"parley.yaml"`
	LogLevel  string `help:"Log level override (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format override (text, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("parley version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, cleanup, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defer cleanup()
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.catalog.Start(ctx)

	srv := server.New(
		&cfg.Server,
		stack.orchestrator,
		stack.catalog,
		stack.documents,
		stack.store,
		stack.verifier,
		stack.authorizer,
		stack.metrics,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// IndexCmd ingests every file under a path into one collection.
type IndexCmd struct {
	Collection string `help:"Target collection." required:""`
	Path       string `arg:"" help:"File or directory to ingest." type:"path"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cleanup, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()
	if stack.documents == nil {
		return fmt.Errorf("indexing requires an embedder; configure one under embedders")
	}

	var indexed, failed int
	err = filepath.WalkDir(c.Path, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc := &rag.Document{
			ID:         uuid.NewString(),
			Collection: c.Collection,
			Owner:      "cli",
			Title:      entry.Name(),
			MimeType:   mimeTypeForFile(path),
		}
		if err := stack.documents.Ingest(ctx, doc, data); err != nil {
			failed++
			slog.Warn("document ingestion failed", "file", path, "error", err)
			return nil
		}
		indexed++
		fmt.Printf("indexed %s (%d chunks)\n", path, doc.ChunkCount)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("done: %d indexed, %d failed\n", indexed, failed)
	return nil
}

func mimeTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

// ChatCmd runs a line-oriented chat loop against one model.
type ChatCmd struct {
	Model       string   `help:"Model id from the llms config section." required:""`
	Collections []string `help:"Collections to retrieve context from."`
	System      string   `help:"System prompt."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, cleanup, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	stack, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.catalog.Refresh(ctx)
	if stack.retriever != nil && len(c.Collections) > 0 {
		search := tools.NewSearchTool(stack.retriever, c.Collections, cfg.Retrieval.TopK)
		if err := stack.tools.RegisterTool(search); err != nil {
			return err
		}
	}

	conversationID := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			fmt.Print("> ")
			continue
		}
		if message == "/quit" || message == "/exit" {
			break
		}

		session, err := stack.orchestrator.Stream(ctx, &chat.Request{
			ConversationID: conversationID,
			Principal:      "cli",
			Models:         []string{c.Model},
			Message:        message,
			SystemPrompt:   c.System,
			Collections:    c.Collections,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			fmt.Print("> ")
			continue
		}
		printSession(os.Stdout, session)
		fmt.Print("> ")
	}
	fmt.Println()
	return scanner.Err()
}

func printSession(w io.Writer, session *chat.StreamSession) {
	for event := range session.Events() {
		switch payload := event.Payload.(type) {
		case chat.DeltaPayload:
			fmt.Fprint(w, payload.Text)
		case chat.ToolCallPayload:
			fmt.Fprintf(w, "\n[tool %s: %s]\n", payload.Name, payload.Result)
		case chat.ErrorPayload:
			fmt.Fprintf(w, "\n[error: %s]\n", payload.Message)
		case chat.DonePayload:
			fmt.Fprintln(w)
		}
	}
}

// runtimeStack holds every long-lived component a command needs.
type runtimeStack struct {
	store        *store.Store
	providers    *llms.ProviderRegistry
	catalog      *chat.Catalog
	retriever    *rag.Retriever
	documents    *rag.DocumentManager
	tools        *tools.Registry
	metrics      *observability.Metrics
	verifier     *auth.Verifier
	authorizer   *auth.ClaimsAuthorizer
	orchestrator *chat.Orchestrator

	embedder embedders.Embedder
	vectors  vector.Store
}

func (s *runtimeStack) Close() {
	if s.providers != nil {
		for _, provider := range s.providers.List() {
			_ = provider.Close()
		}
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.vectors != nil {
		_ = s.vectors.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// buildStack wires providers, retrieval and persistence from config.
// Retrieval components stay nil when no embedder is configured; chat
// still works without them.
func buildStack(ctx context.Context, cfg *config.Config) (*runtimeStack, error) {
	stack := &runtimeStack{}

	db, err := store.Open(cfg.Persistence.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	stack.store = db

	stack.providers = llms.NewProviderRegistry()
	if err := stack.providers.RegisterFromConfig(cfg.LLMs); err != nil {
		stack.Close()
		return nil, fmt.Errorf("failed to register llm providers: %w", err)
	}
	stack.catalog = chat.NewCatalog(stack.providers,
		time.Duration(cfg.Chat.ModelRefreshInterval)*time.Second)

	lex := lexical.NewIndex()
	if embCfg := primaryEmbedder(cfg.Embedders); embCfg != nil {
		embedder, err := embedders.NewEmbedder(embCfg)
		if err != nil {
			stack.Close()
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		stack.embedder = embedder

		vectors, err := vector.New(&cfg.VectorStore, embedder.Dimension())
		if err != nil {
			stack.Close()
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		stack.vectors = vectors

		chunker := rag.NewChunker(&cfg.Chunking)
		pipeline := rag.NewPipeline(embedder, vectors, lex, embCfg.BatchSize, embCfg.Concurrency)
		stack.documents = rag.NewDocumentManager(db, extract.NewRegistry(), chunker, pipeline)
		stack.retriever = rag.NewRetriever(embedder, vectors, lex, &cfg.Retrieval)
	} else {
		slog.Info("no embedder configured, retrieval disabled")
	}

	stack.tools = tools.NewRegistry()
	stack.metrics = observability.NewMetrics()
	stack.tools.Instrument(stack.metrics)
	if stack.retriever != nil {
		stack.retriever.Instrument(stack.metrics)
	}
	stack.verifier = auth.NewVerifier(&cfg.Server.Auth)
	stack.authorizer = auth.NewClaimsAuthorizer()

	var orchAuth chat.Authorizer = auth.AllowAll{}
	if stack.verifier.Enabled() {
		orchAuth = stack.authorizer
	}
	stack.orchestrator = chat.NewOrchestrator(
		stack.providers,
		stack.catalog,
		stack.retriever,
		stack.tools,
		db,
		orchAuth,
		&cfg.Chat,
	)
	stack.orchestrator.Instrument(stack.metrics)
	return stack, nil
}

// primaryEmbedder picks the embedder the retrieval pipeline indexes
// with. Config maps are unordered, so ties go to the first name in
// sorted order; an entry named "default" always wins.
func primaryEmbedder(configs map[string]*config.EmbedderConfig) *config.EmbedderConfig {
	if cfg, ok := configs["default"]; ok {
		return cfg
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	return configs[names[0]]
}

func loadConfig(cli *CLI) (*config.Config, func(), error) {
	config.LoadDotEnv()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}

	cleanup := func() {}
	var output io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		file, fileCleanup, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return nil, nil, err
		}
		output = file
		cleanup = fileCleanup
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), output, cfg.Logging.Format)
	return cfg, cleanup, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("parley"),
		kong.Description("Self-hosted multi-model chat platform with hybrid retrieval."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli))
}
