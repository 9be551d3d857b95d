package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/coincard/internal/ledger"
	"github.com/zombor/coincard/internal/record"
	"github.com/zombor/coincard/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("coincard")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "coincard.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./photos", "Photo storage directory path")
		scannerType   = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'remote'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.0-flash-lite", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		remoteURL     = fs.StringLong("remote-url", "", "Remote classification endpoint accepting {image} and answering {result} or {error}")
		checkURL      = fs.StringLong("check-url", "https://www.google.com", "URL checked with HEAD before remote classification (empty disables)")
		remoteTimeout = fs.DurationLong("remote-timeout", 60*time.Second, "Remote classification timeout")
		timezone      = fs.StringLong("timezone", "Asia/Ho_Chi_Minh", "Time zone for export dates")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("COINCARD"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		slog.Error("Invalid time zone", "timezone", *timezone, "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing database...", "path", *dbPath)
	kv, err := record.NewBoltKV(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	store := record.NewStore(kv)
	if err := store.Initialize(); err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	tags := record.NewTagIndex(kv)

	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "remote":
		slog.Info("Initializing remote scanner...", "url", *remoteURL, "timeout", *remoteTimeout)
		scanner, err = scanning.NewRemote(*remoteURL, *checkURL, *remoteTimeout)
		if err != nil {
			slog.Error("Failed to initialize remote scanner", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or remote")
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing photo storage...", "path", *storagePath)
	photos, err := record.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := ledger.NewService(store, tags, scanner, photos, loc)
	server := ledger.NewServer(service, ledger.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			slog.Error("Server error", "error", err)
		}
	case <-sigChan:
		slog.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
	}
}
