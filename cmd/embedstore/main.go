// Package main is the embedstore CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedstore/internal/cli"
	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/internal/server"
	"github.com/hyperjump/embedstore/internal/watcher"
	"github.com/hyperjump/embedstore/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/embedstore/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	shutdownTimeout   = 10 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so running from a project dir uses its config.
// Returns the config and the path that was actually loaded.
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
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "failures":
		runFailures()
	case "precheck":
		runPrecheck()
	case "version", "--version", "-v":
		fmt.Printf("embedstore version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, builds a logger and initializes components. Any failure exits.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("root", cfg.Storage.Root),
		zap.String("backend", cfg.Storage.Backend),
	)
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func closeAll(logger *zap.Logger, components *Components) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	components.Close(ctx)
	_ = logger.Sync()
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer closeAll(logger, components)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		watchSvc := watcher.NewWatcher(components.Indexer, cfg.Watch.Directories, cfg.Indexer.Extensions,
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Watch.Debounce),
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go watchSvc.Sync(watchCtx)
	}

	srv := server.NewServer(components.Engine, components.Search, components.Indexer, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Stop(ctx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: embedstore search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  embedstore search vector databases
  embedstore search -namespace docs -limit 5 "release notes"
  embedstore search -group -min-similarity 0.3 error handling
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitNamespaces parses a comma-separated namespace list, dropping blanks.
func splitNamespaces(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newSearchQuery builds the query from parsed flags. A negative min similarity means unset.
func newSearchQuery(text, namespaces string, limit int, minSimilarity float64, group bool) *models.SimilarityQuery {
	q := &models.SimilarityQuery{
		Text:            text,
		Limit:           limit,
		Namespaces:      splitNamespaces(namespaces),
		GroupByDocument: group,
	}
	if minSimilarity >= 0 {
		q.MinSimilarity = &minSimilarity
	}
	return q
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the storage root directly)")
	namespaces := fs.String("namespace", "", "comma-separated namespaces to search (default all)")
	limit := fs.Int("limit", models.DefaultQueryLimit, "number of results")
	minSimilarity := fs.Float64("min-similarity", -1, "minimum cosine similarity (negative = no filter)")
	group := fs.Bool("group", false, "keep only the best chunk per document")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	text := buildSearchQuery(fs.Args())
	if text == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	query := newSearchQuery(text, *namespaces, *limit, *minSimilarity, *group)
	format := cli.ParseOutputFormat(*outputFormat)

	var response *models.SearchResponse
	if *serverURL != "" {
		var err error
		response, err = searchViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		var err error
		response, err = components.Search.Search(context.Background(), query)
		closeAll(logger, components)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SimilarityQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/stats.
type statusResponse struct {
	Namespaces         []models.NamespaceStats `json:"namespaces"`
	TotalVectors       int64                   `json:"total_vectors"`
	DiskUsageBytes     int64                   `json:"disk_usage_bytes"`
	ContinuousFailures int                     `json:"continuous_failures"`
	CircuitOpen        bool                    `json:"circuit_open"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the storage root directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	if *serverURL != "" {
		var err error
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		_, logger, components := setup(*configPath, false)
		status = &statusResponse{
			Namespaces:         components.Engine.Stats(),
			ContinuousFailures: components.Engine.ContinuousFailures(),
			CircuitOpen:        components.Engine.CircuitOpen(),
		}
		closeAll(logger, components)
		for _, st := range status.Namespaces {
			status.TotalVectors += int64(st.IndexSize)
			status.DiskUsageBytes += st.DiskBytes
		}
	}

	format := cli.ParseOutputFormat(*outputFormat)
	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := cli.WriteStats(os.Stdout, status.Namespaces, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("continuous_failures: %d\n", status.ContinuousFailures)
	fmt.Printf("circuit_open:        %t\n", status.CircuitOpen)
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	namespace := fs.String("namespace", "default", "target namespace")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: embedstore index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid path: %v\n", err)
		os.Exit(1)
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot index %s: %v\n", path, err)
		os.Exit(1)
	}

	_, logger, components := setup(*configPath, false)
	defer closeAll(logger, components)
	ctx := context.Background()

	if info.IsDir() {
		docs, result, err := components.Indexer.IndexDirectory(ctx, *namespace, path)
		printBatch(fmt.Sprintf("Indexed %d documents", docs), result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing stopped: %v\n", err)
			closeAll(logger, components)
			os.Exit(1)
		}
		return
	}
	result, err := components.Indexer.IndexFile(ctx, *namespace, filepath.Dir(path), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		closeAll(logger, components)
		os.Exit(1)
	}
	if result == nil {
		fmt.Printf("%s unchanged or not indexable, skipped\n", path)
		return
	}
	printBatch("Indexed "+path, result)
}

func printBatch(header string, result *models.BatchResult) {
	if result == nil {
		fmt.Println(header)
		return
	}
	fmt.Printf("%s: %d chunks stored, %d failed\n", header, len(result.Stored), len(result.Failed))
	for id, reason := range result.Failed {
		fmt.Printf("  %s: %s\n", id, reason)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	namespace := fs.String("namespace", "default", "namespace holding the embedding")
	document := fs.Bool("document", false, "treat the id as a document id and delete all its chunks")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: embedstore delete [flags] <id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	_, logger, components := setup(*configPath, false)
	defer closeAll(logger, components)
	ctx := context.Background()

	if *document {
		n := components.Indexer.DeleteDocument(ctx, *namespace, id)
		fmt.Printf("Deleted %d chunks of %s from %s\n", n, id, *namespace)
		return
	}
	if components.Engine.DeleteEmbedding(ctx, id, *namespace) {
		fmt.Printf("Deleted %s from %s\n", id, *namespace)
		return
	}
	fmt.Printf("%s not found in %s\n", id, *namespace)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false)
	defer closeAll(logger, components)

	names := fs.Args()
	if len(names) == 0 {
		for _, ns := range components.Engine.Namespaces() {
			names = append(names, ns.Name)
		}
	}
	failed := false
	for _, name := range names {
		if err := components.Engine.RebuildNamespace(context.Background(), name); err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild %s failed: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("Rebuilt %s\n", name)
	}
	if failed {
		closeAll(logger, components)
		os.Exit(1)
	}
}

func runFailures() {
	fs := flag.NewFlagSet("failures", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false)
	defer closeAll(logger, components)

	if err := cli.WriteFailures(os.Stdout, components.Engine.EmbeddingFailures(), cli.ParseOutputFormat(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
	}
}

func runPrecheck() {
	fs := flag.NewFlagSet("precheck", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false)
	ok := components.Engine.Precheck(context.Background())
	closeAll(logger, components)
	if !ok {
		fmt.Println("embedding service unavailable")
		os.Exit(1)
	}
	fmt.Println("ok")
}

func printUsage() {
	fmt.Println(`embedstore - namespaced vector embedding store

Usage:
  embedstore <command> [flags]

Commands:
  server     Start the HTTP API server
  search     Similarity search by text
  index      Chunk, embed and store a file or directory
  delete     Delete an embedding or, with -document, a document's chunks
  rebuild    Rebuild indexes from the ledger (all namespaces, or those named)
  status     Show per-namespace statistics
  failures   Show the embedding failure log
  precheck   Verify the embedding service responds (exit 1 if not)
  version    Show version

All commands accept -config (default ` + defaultConfigPath + `).
Run 'embedstore <command> -h' for command flags.`)
}
