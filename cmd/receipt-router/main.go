package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-router/internal/batch"
	"github.com/zombor/receipt-router/internal/receipt"
	"github.com/zombor/receipt-router/internal/routing"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	os.Exit(run())
}

func run() int {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			return 0
		}
	}

	fs := ff.NewFlagSet("receipt-router")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipt-router.db", "Database file path")
		storagePath = fs.StringLong("storage", "./documents", "Storage directory path")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logFormat   = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_           = fs.StringLong("config", "", "Config file path (optional)")
		showVersion = fs.BoolLong("version", "Show version information")

		tierList = fs.StringLong("tiers", "tesseract,ollama,gemini,claude", "Comma separated tier order, cheapest first")
		budgets  = fs.StringLong("budgets", "1024,2048,4096,8192", "Output token budget ladder for structured engines")

		tesseractBin  = fs.StringLong("tesseract-bin", "tesseract", "Tesseract binary")
		tesseractLang = fs.StringLong("tesseract-lang", "eng", "Tesseract language")
		tesseractCost = fs.Float64Long("tesseract-cost", 0, "Estimated cost per tesseract call")

		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		ollamaCost  = fs.Float64Long("ollama-cost", 0, "Estimated cost per ollama call")

		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		geminiCost  = fs.Float64Long("gemini-cost", 0.002, "Estimated cost per gemini call")

		claudeKey   = fs.StringLong("claude-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		claudeModel = fs.StringLong("claude-model", "", "Anthropic model name")
		claudeCost  = fs.Float64Long("claude-cost", 0.01, "Estimated cost per claude call")

		threshold  = fs.Float64Long("threshold", routing.DefaultAcceptThreshold, "Minimum overall confidence to accept a result")
		exhaustion = fs.StringLong("exhaustion", "return-last", "When every tier is rejected: 'return-last' or 'strict'")
		forceTier  = fs.StringLong("force-tier", "", "Only route through this tier")

		concurrency = fs.IntLong("concurrency", 3, "Batch items in flight")
		stagger     = fs.DurationLong("stagger", 0, "Delay between batch worker starts")
		stopOnError = fs.BoolLong("stop-on-error", "Stop a batch at the first failed item")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_ROUTER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		return 0
	}

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	ladder, err := parseLadder(*budgets)
	if err != nil {
		slog.Error("Invalid budget ladder", "budgets", *budgets, "error", err)
		return 1
	}

	policy, err := routing.ParseExhaustionPolicy(*exhaustion)
	if err != nil {
		slog.Error("Invalid exhaustion policy", "error", err)
		return 1
	}

	if *geminiKey == "" {
		*geminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if *claudeKey == "" {
		*claudeKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	tiers, closeTiers, err := buildTiers(splitList(*tierList), tierSettings{
		ladder:        ladder,
		tesseractBin:  *tesseractBin,
		tesseractLang: *tesseractLang,
		tesseractCost: *tesseractCost,
		ollamaURL:     *ollamaURL,
		ollamaModel:   *ollamaModel,
		ollamaCost:    *ollamaCost,
		geminiKey:     *geminiKey,
		geminiModel:   *geminiModel,
		geminiCost:    *geminiCost,
		claudeKey:     *claudeKey,
		claudeModel:   *claudeModel,
		claudeCost:    *claudeCost,
	}, logger)
	if err != nil {
		slog.Error("Failed to configure tiers", "error", err)
		return 1
	}
	defer closeTiers()

	router, err := routing.New(routing.Config{
		Tiers:           tiers,
		AcceptThreshold: *threshold,
		Exhaustion:      policy,
		ForceTier:       *forceTier,
	}, logger)
	if err != nil {
		slog.Error("Invalid routing configuration", "error", err)
		return 1
	}
	for _, t := range router.Tiers() {
		slog.Info("Tier configured", "name", t.Name, "engine", t.Engine, "cost", t.Cost, "quality", t.Quality)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return 1
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		return 1
	}

	service := receipt.NewService(db, router, store)
	batchOpts := batch.Options{
		Concurrency: *concurrency,
		Stagger:     *stagger,
		StopOnError: *stopOnError,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if files := fs.GetArgs(); len(files) > 0 {
		return runBatch(ctx, service, files, batchOpts)
	}

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth, batchOpts)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		return 1
	}
	slog.Info("Shut down")
	return 0
}

// runBatch extracts every file and prints one JSON record per line
func runBatch(ctx context.Context, service *receipt.Service, files []string, opts batch.Options) int {
	uploads := make([]receipt.Upload, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read file", "path", path, "error", err)
			return 1
		}
		uploads = append(uploads, receipt.Upload{
			Filename:    path,
			ContentType: contentTypeForPath(path),
			Data:        data,
		})
	}

	opts.Progress = func(completed, total int) {
		slog.Info("Batch progress", "completed", completed, "total", total)
	}

	extractions, runErr := service.ExtractBatch(ctx, uploads, opts)

	enc := json.NewEncoder(os.Stdout)
	for _, e := range extractions {
		if e == nil {
			continue
		}
		if err := enc.Encode(e); err != nil {
			slog.Error("Failed to write result", "error", err)
			return 1
		}
	}

	if runErr != nil {
		slog.Error("Batch aborted", "error", runErr)
		return 1
	}
	return 0
}
