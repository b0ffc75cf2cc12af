// Package main is the Kaiwa CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/history"
	"github.com/hyperjump/kaiwa/internal/index"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/keyword"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/server"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/watcher"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kaiwa/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so "kaiwa server" from the project dir picks up the project's
// config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "session":
		runSession()
	case "upload":
		runUpload()
	case "chat":
		runChat()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "verify":
		runVerify()
	case "version", "--version", "-v":
		fmt.Printf("kaiwa version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Storage.UploadDir != "" {
		if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
			logger.Fatal("Failed to create upload dir", zap.Error(err))
		}
		ingestor := components.Ingestor
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(
			cfg.Storage.UploadDir,
			[]string{".pdf", ".docx", ".txt", ".csv"},
			func(path string) {
				content, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("watch read file failed", zap.String("path", path), zap.Error(err))
					return
				}
				if _, _, err := ingestor.Ingest(context.Background(), filepath.Base(path), content); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Ingestor,
		components.Chats,
		components.VectorIndex,
		components.Storage,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if cfg.Storage.VectorIndexPath != "" {
		if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index save failed", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runSession() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kaiwa session <create|close> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "create":
		resp, err := http.Post(*serverURL+"/api/v1/sessions", "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Create failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out.SessionID)
	case "close":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kaiwa session close [flags] <session-id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/sessions/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Close failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Session closed: %s\n", id)
	default:
		fmt.Printf("Unknown session subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	sessionID := fs.String("session", "", "session ID (required)")
	_ = fs.Parse(os.Args[2:])

	if *sessionID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa upload --session <id> <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read file failed: %v\n", err)
		os.Exit(1)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err == nil {
		_, err = part.Write(content)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Build upload failed: %v\n", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("%s/api/v1/sessions/%s/documents", *serverURL, *sessionID)
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "Upload failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Println(strings.TrimSpace(string(b)))
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	sessionID := fs.String("session", "", "session ID (required)")
	_ = fs.Parse(os.Args[2:])

	if *sessionID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: kaiwa chat --session <id> <message>")
		os.Exit(1)
	}
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))

	payload, _ := json.Marshal(map[string]string{"message": message})
	url := fmt.Sprintf("%s/api/v1/sessions/%s/chat", *serverURL, *sessionID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Chat failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Content  string   `json:"content"`
		ChunkIDs []string `json:"chunk_ids"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out.Content)
	if len(out.ChunkIDs) > 0 {
		fmt.Printf("\n(answer grounded in %d chunk(s))\n", len(out.ChunkIDs))
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	sessionID := fs.String("session", "", "session ID (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *sessionID == "" {
		fmt.Println("Usage: kaiwa history --session <id>")
		os.Exit(1)
	}
	url := fmt.Sprintf("%s/api/v1/sessions/%s/history", *serverURL, *sessionID)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "History failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	if *outputFormat == "json" {
		fmt.Println(string(b))
		return
	}
	var out struct {
		Messages []struct {
			Timestamp time.Time `json:"timestamp"`
			Role      string    `json:"role"`
			Content   string    `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	for _, m := range out.Messages {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}

// runVerify compares the TSV and CSV history logs directly on disk.
func runVerify() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := history.NewStore(cfg.Storage.TXTLogPath, cfg.Storage.CSVLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history logs: %v\n", err)
		os.Exit(1)
	}
	diffs, err := store.Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
		os.Exit(1)
	}
	if len(diffs) == 0 {
		fmt.Println("History logs agree.")
		return
	}
	for _, d := range diffs {
		fmt.Println(d)
	}
	os.Exit(1)
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  *index.Index
	KeywordIndex *keyword.BleveIndex
	History      *history.Store
	Ingestor     *ingest.Ingestor
	Chats        *chat.Manager
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	client, err := embedding.NewClient(&cfg.Embedding)
	if err != nil {
		logger.Warn("embedding client unavailable, using deterministic mock embeddings",
			zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = client
	}

	vectorIndex := index.New(embedder)
	if cfg.Storage.VectorIndexPath != "" {
		if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
			logger.Warn("vector index load skipped",
				zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
		}
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	hist, err := history.NewStore(cfg.Storage.TXTLogPath, cfg.Storage.CSVLogPath,
		history.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	model, err := llm.NewOpenAIClient(&cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}

	ingestor := ingest.NewIngestor(store, vectorIndex, keywordIndex, &cfg.Ingest,
		ingest.WithLogger(logger))
	chats := chat.NewManager(vectorIndex, keywordIndex, store, model, hist,
		&cfg.Chat, cfg.Model.MaxRetries, chat.WithLogger(logger))

	return &Components{
		Storage:      store,
		Embedder:     embedder,
		VectorIndex:  vectorIndex,
		KeywordIndex: keywordIndex,
		History:      hist,
		Ingestor:     ingestor,
		Chats:        chats,
	}, nil
}

func printUsage() {
	fmt.Println(`kaiwa - Chat with your documents

Usage:
  kaiwa server [flags]                      Start the HTTP server
  kaiwa session create [flags]              Create a chat session
  kaiwa session close [flags] <id>          Close a chat session
  kaiwa upload --session <id> <file>        Upload a document into a session
  kaiwa chat --session <id> <message>       Send a message
  kaiwa history --session <id>              Show a session's history
  kaiwa status [flags]                      Show server status
  kaiwa verify [flags]                      Check the two history logs agree
  kaiwa version                             Show version
  kaiwa help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kaiwa/config.yaml)
  --debug            Enable debug logging

Client Flags:
  --server string    Server URL (default: http://localhost:8080)
  --session string   Session ID
  --output string    Output format for history: text or json (default: text)

Examples:
  kaiwa server
  SID=$(kaiwa session create)
  kaiwa upload --session $SID report.pdf
  kaiwa chat --session $SID "What does the report conclude?"
  kaiwa history --session $SID
  kaiwa session close $SID`)
}
