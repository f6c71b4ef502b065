// Package main is the Ronbun CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ronbun/internal/answer"
	"github.com/hyperjump/ronbun/internal/cache"
	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/discovery"
	"github.com/hyperjump/ronbun/internal/gitrepo"
	"github.com/hyperjump/ronbun/internal/index"
	"github.com/hyperjump/ronbun/internal/pipeline"
	"github.com/hyperjump/ronbun/internal/server"
	"github.com/hyperjump/ronbun/internal/session"
	"github.com/hyperjump/ronbun/internal/watcher"
	"github.com/hyperjump/ronbun/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ronbun/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists it
// is used, so that "ronbun server" from the project dir uses the project's
// config (including debug). Returns the config and the path actually loaded.
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
	case "ask":
		runAsk()
	case "cache":
		runCache()
	case "version", "--version", "-v":
		fmt.Printf("ronbun version %s\n", version)
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
	debug := fs.Bool("debug", false, "enable debug logging (pipeline stages, index batches, etc.)")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(cfg.Storage.CloneDir, func(repoPath string) {
		logger.Warn("cloned repository removed from disk; it will be re-cloned on next use",
			zap.String("path", repoPath))
	}, watchOpts...)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start clone watcher", zap.Error(err))
	}
	defer watchSvc.Stop()

	sweepEvery := time.Duration(cfg.Session.SweepMinutes) * time.Minute
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := components.Sessions.SweepExpired(); n > 0 {
					logger.Info("expired sessions swept", zap.Int("count", n))
				}
			}
		}
	}()

	srv := server.NewServer(
		components.Orchestrator,
		components.Sessions,
		components.Cache,
		&cfg.Server,
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
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// runAsk is a one-shot client against a running server: create a session,
// initialize the paper, ask the question, print the answer.
func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: ronbun ask [flags] <arxiv-id> <question>")
		os.Exit(1)
	}
	arxivID := fs.Arg(0)
	question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))

	sessionID, err := createSessionViaHTTP(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session failed: %v\n", err)
		os.Exit(1)
	}

	initBody, err := postViaHTTP(*serverURL, "/api/v1/initialize", map[string]string{
		"session_id": sessionID,
		"arxiv_id":   arxivID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Initialize failed: %v\n", err)
		os.Exit(1)
	}
	var initResp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(initBody, &initResp); err != nil {
		fmt.Fprintf(os.Stderr, "Initialize failed: %v\n", err)
		os.Exit(1)
	}
	if !initResp.Success {
		fmt.Fprintf(os.Stderr, "Initialize failed (%s): %s\n", initResp.Error, initResp.Message)
		os.Exit(1)
	}

	chatBody, err := postViaHTTP(*serverURL, "/api/v1/chat", map[string]string{
		"session_id": sessionID,
		"message":    question,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		os.Stdout.Write(chatBody)
	case "text":
		var chatResp struct {
			Answer     string `json:"answer"`
			Confidence string `json:"confidence"`
			Snippets   []struct {
				FilePath string `json:"file_path"`
			} `json:"code_snippets"`
		}
		if err := json.Unmarshal(chatBody, &chatResp); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(chatResp.Answer)
		fmt.Printf("\nconfidence: %s\n", chatResp.Confidence)
		for _, s := range chatResp.Snippets {
			fmt.Printf("  source: %s\n", s.FilePath)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runCache() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ronbun cache <stats|delete|clear> [id]")
		fmt.Println("  ronbun cache stats        Show cached papers and disk usage")
		fmt.Println("  ronbun cache delete <id>  Evict one paper from the cache")
		fmt.Println("  ronbun cache clear        Evict everything")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "stats":
		resp, err := http.Get(*serverURL + "/api/v1/cache/stats")
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Stats failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var stats cache.Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			fmt.Printf("Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("papers:          %d\n", stats.Entries)
		fmt.Printf("total_accesses:  %d\n", stats.TotalAccesses)
		fmt.Printf("disk_bytes:      %d\n", stats.DiskBytes)
		for _, e := range stats.Papers {
			fmt.Printf("  %s  accesses=%d  repo=%t  concept_map=%t\n",
				e.ArxivID, e.AccessCount, e.HasRepo, e.HasConceptMap)
		}
	case "delete":
		if fs.NArg() < 1 {
			fmt.Println("Usage: ronbun cache delete <arxiv-id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/cache/"+url.PathEscape(id), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Delete failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Deleted: %s\n", id)
	case "clear":
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/cache", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Clear failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Println("Cache cleared")
	default:
		fmt.Printf("Unknown cache subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func createSessionViaHTTP(serverURL string) (string, error) {
	resp, err := http.Post(serverURL+"/api/v1/session", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.SessionID, nil
}

func postViaHTTP(serverURL, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return b, nil
}

// Components holds initialized services.
type Components struct {
	Cache        *cache.Store
	Sessions     *session.Store
	Indexer      *index.BleveIndexer
	Synth        *answer.Gemini
	Orchestrator *pipeline.Orchestrator
}

func (c *Components) Close() {
	if c.Indexer != nil {
		_ = c.Indexer.Close()
	}
	if c.Synth != nil {
		_ = c.Synth.Close()
	}
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	for _, dir := range []string{
		cfg.Storage.PapersDir,
		cfg.Storage.CloneDir,
		cfg.Storage.IndexRoot,
		cfg.Storage.ConceptMapsDir,
		filepath.Dir(cfg.Storage.DatabasePath),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cacheOpts := []cache.StoreOption{}
	if debug {
		cacheOpts = append(cacheOpts, cache.WithLogger(logger))
	}
	cacheStore, err := cache.Open(cfg.Storage.DatabasePath, cfg.Storage.ConceptMapsDir, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open paper cache: %w", err)
	}

	sessions := session.NewStore(time.Duration(cfg.Session.MaxIdleHours) * time.Hour)

	arxivOpts := []discovery.ArxivOption{}
	if debug {
		arxivOpts = append(arxivOpts, discovery.WithArxivLogger(logger))
	}
	papers := discovery.NewArxivClient(cfg.Storage.PapersDir, arxivOpts...)

	locatorOpts := []discovery.RepoLocatorOption{}
	if debug {
		locatorOpts = append(locatorOpts, discovery.WithRepoLogger(logger))
	}
	locator := discovery.NewRepoLocator(locatorOpts...)

	clonerOpts := []gitrepo.ClonerOption{}
	if debug {
		clonerOpts = append(clonerOpts, gitrepo.WithLogger(logger))
	}
	cloner := gitrepo.NewCloner(cfg.Storage.CloneDir, clonerOpts...)

	indexerOpts := []index.IndexerOption{}
	if debug {
		indexerOpts = append(indexerOpts, index.WithLogger(logger))
	}
	indexer := index.NewBleveIndexer(cfg.Storage.IndexRoot, cfg.Search.Extensions, cfg.Search.MaxFileKB, indexerOpts...)

	synthOpts := []answer.GeminiOption{}
	if debug {
		synthOpts = append(synthOpts, answer.WithLogger(logger))
	}
	synth, err := answer.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, synthOpts...)
	if err != nil {
		_ = indexer.Close()
		_ = cacheStore.Close()
		return nil, fmt.Errorf("failed to initialize answer synthesizer: %w", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Sessions: sessions,
		Cache:    cacheStore,
		Papers:   papers,
		Locator:  locator,
		Cloner:   cloner,
		Indexer:  indexer,
		Synth:    synth,
	}, &cfg.Search, logger)

	return &Components{
		Cache:        cacheStore,
		Sessions:     sessions,
		Indexer:      indexer,
		Synth:        synth,
		Orchestrator: orch,
	}, nil
}

func printUsage() {
	fmt.Println(`ronbun - Chat with the code behind a research paper

Usage:
  ronbun server [flags]                 Start the HTTP server
  ronbun ask [flags] <id> <question>    One-shot question about a paper's code
  ronbun cache <stats|delete|clear>     Manage the paper cache
  ronbun version                        Show version
  ronbun help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/ronbun/config.yaml)
  --debug            Enable debug logging (pipeline stages, index batches, etc.)

Ask Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Cache Flags:
  --server string    Server URL (default: http://localhost:8080)

Examples:
  ronbun server
  ronbun ask 1706.03762 "where is multi-head attention implemented?"
  ronbun ask --output json 1810.04805 "how is masking done?"
  ronbun cache stats
  ronbun cache delete 1706.03762
  ronbun cache clear`)
}
