// Package main is the hako CLI entry point.
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/cli"
	"github.com/hyperjump/hako/internal/config"
	"github.com/hyperjump/hako/internal/metrics"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/server"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vectorstore"
	"github.com/hyperjump/hako/internal/watcher"
	"github.com/hyperjump/hako/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hako/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead. A missing default config yields the
// built-in defaults rooted at the working directory.
// Returns the config and the path that was actually loaded ("" when none was).
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
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				return config.Default(cwd), "", nil
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
	case "serve", "server":
		runServe()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "get":
		runGet()
	case "delete":
		runDelete()
	case "drop":
		runDrop()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("hako version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config, builds a logger and initializes every component.
func setup(configPath string, debug bool, m *metrics.Collector) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger, m)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file ingests, requests, index saves)")
	_ = fs.Parse(os.Args[2:])

	m := metrics.New("")
	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug, m)
	defer logger.Sync()
	defer components.Close()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug))

	ctx := context.Background()
	ing := components.Ingester
	if n, err := ing.Prune(ctx); err != nil {
		logger.Warn("prune sources failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned vanished sources", zap.Int("records", n))
	}

	watchSvc := watcher.New(
		cfg.Ingest.Directories,
		watcher.Funcs{
			OnChange: func(path string) {
				if _, err := ing.IngestFile(context.Background(), path); err != nil {
					logger.Warn("watch ingest file failed", zap.String("path", path), zap.Error(err))
				}
			},
			OnRemove: func(path string) {
				if _, err := ing.RemovePath(context.Background(), path); err != nil {
					logger.Warn("watch remove path failed", zap.String("path", path), zap.Error(err))
				}
			},
		},
		watcher.WithLogger(logger),
		watcher.WithExtensions(cfg.Ingest.Extensions),
	)
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		ing,
		cfg,
		logger,
		server.WithMetrics(m),
		server.WithWatch(watchSvc, resolvedConfigPath),
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
	watchSvc.Stop()
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	prune := fs.Bool("prune", false, "also remove records of sources whose files no longer exist")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger, components := setup(*configPath, *debug, nil)
	defer logger.Sync()
	defer components.Close()

	paths := fs.Args()
	if len(paths) == 0 {
		paths = cfg.Ingest.Directories
	}
	if len(paths) == 0 {
		fmt.Println("Usage: hako ingest [flags] <file-or-directory>...")
		fmt.Println("With no arguments the ingest directories from the config are used.")
		os.Exit(1)
	}

	ctx := context.Background()
	for _, path := range paths {
		results, err := ingestPath(ctx, components.Ingester, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest %s failed: %v\n", path, err)
			os.Exit(1)
		}
		for _, r := range results {
			if r.Skipped {
				fmt.Printf("unchanged  %s\n", r.Path)
				continue
			}
			fmt.Printf("ingested   %s  values=%d schema=%d notes=%d removed=%d\n",
				r.Path, r.Values, r.Schema, r.Notes, r.Removed)
		}
	}
	if *prune {
		n, err := components.Ingester.Prune(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pruned %d record(s)\n", n)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: hako search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  hako search -collection orders_status_ValueDefinitions cancelled
  hako search -collection SchemaDefinitions -top 5 customer email
  hako search -collection orders_status_ValueDefinitions -keywords closed order state
  hako search -collection Notes -xlsx results.xlsx refund policy
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

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseKeys parses record keys given as decimal arguments.
func parseKeys(args []string) ([]uint64, error) {
	keys := make([]uint64, 0, len(args))
	for _, a := range args {
		k, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: must be an unsigned integer", a)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func parseOutputFormat(s string) (cli.SearchOutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "compact":
		return cli.OutputCompact, nil
	case "json":
		return cli.OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct storage mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	collection := fs.String("collection", "", "collection to search (required)")
	top := fs.Int("top", 0, "number of results (0 = configured default)")
	skip := fs.Int("skip", 0, "number of leading results to skip")
	keywords := fs.String("keywords", "", "comma separated keywords; hits must match at least one")
	tags := fs.String("tags", "", "comma separated tags; value hits must carry all of them")
	maxDistance := fs.Float64("max-distance", 0, "keep only hits closer than this distance (0 = no limit)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	xlsxPath := fs.String("xlsx", "", "also write the results to this Excel workbook")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" || *collection == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	req := &models.SearchRequest{
		Query:    queryStr,
		Top:      *top,
		Skip:     *skip,
		Keywords: splitList(*keywords),
		TagsAll:  splitList(*tags),
	}
	if *maxDistance > 0 {
		d := float32(*maxDistance)
		req.MaxDistance = &d
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the record store open; go through it when it is running.
		response, err = searchViaHTTP(*serverURL, *collection, req)
	} else {
		_, _, logger, components := setup(*configPath, false, nil)
		defer logger.Sync()
		defer components.Close()
		response, err = components.Engine.Search(context.Background(), *collection, req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if *xlsxPath != "" {
		if err := cli.WriteSearchResultsXLSX(*xlsxPath, response); err != nil {
			fmt.Fprintf(os.Stderr, "Excel export failed: %v\n", err)
			os.Exit(1)
		}
	}
}

func searchViaHTTP(serverURL, collection string, req *models.SearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := serverURL + "/api/v1/collections/" + url.PathEscape(collection) + "/search"
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runGet() {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	collection := fs.String("collection", "", "collection to read (required)")
	_ = fs.Parse(os.Args[2:])

	if *collection == "" || fs.NArg() < 1 {
		fmt.Println("Usage: hako get -collection <name> <key>...")
		os.Exit(1)
	}
	keys, err := parseKeys(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, _, logger, components := setup(*configPath, false, nil)
	defer logger.Sync()
	defer components.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, key := range keys {
		rec, ok, err := components.Engine.Get(context.Background(), *collection, key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "Record %d not found\n", key)
			continue
		}
		_ = enc.Encode(rec)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	collection := fs.String("collection", "", "collection holding the records")
	source := fs.Bool("source", false, "treat arguments as source paths and delete every record they produced")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 || (*collection == "" && !*source) {
		fmt.Println("Usage: hako delete -collection <name> <key>...")
		fmt.Println("       hako delete -source <file-or-directory>...")
		os.Exit(1)
	}

	_, _, logger, components := setup(*configPath, false, nil)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	if *source {
		for _, path := range fs.Args() {
			n, err := components.Ingester.RemovePath(ctx, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Removed %d record(s) from %s\n", n, path)
		}
		return
	}

	keys, err := parseKeys(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := components.Engine.Delete(ctx, *collection, keys...); err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d record(s) from %s\n", len(keys), vectorstore.SanitizeName(*collection))
}

func runDrop() {
	fs := flag.NewFlagSet("drop", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: hako drop [flags] <collection>...")
		os.Exit(1)
	}

	_, _, logger, components := setup(*configPath, false, nil)
	defer logger.Sync()
	defer components.Close()

	for _, name := range fs.Args() {
		if err := components.Store.DeleteCollection(context.Background(), name); err != nil {
			fmt.Fprintf(os.Stderr, "Drop %s failed: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("Dropped %s\n", vectorstore.SanitizeName(name))
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Collections      []vectorstore.CollectionStats `json:"collections"`
	Records          int64                         `json:"records"`
	DiskUsageBytes   *int64                        `json:"disk_usage_bytes,omitempty"`
	Sources          int                           `json:"sources"`
	WatchDirectories []string                      `json:"watch_directories,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, logger, components := setup(*configPath, false, nil)
		defer logger.Sync()
		defer components.Close()
		res, err := localStatus(context.Background(), cfg, components)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	}

	if err := writeStatus(os.Stdout, &status, *outputFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*statusResponse, error) {
	stats, err := c.Store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &statusResponse{Collections: stats}
	for _, s := range stats {
		status.Records += s.Records
	}
	if sources, err := c.Ingester.Sources(ctx); err == nil {
		status.Sources = len(sources)
	}
	if diskBytes, err := storage.DiskUsageBytes(cfg.Store.DatabasePath, cfg.Store.PersistDir); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func writeStatus(w io.Writer, status *statusResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "text":
		if err := cli.WriteStats(w, status.Collections, cli.OutputText); err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "records:            %d   # across all collections\n", status.Records)
		fmt.Fprintf(w, "sources:            %d   # tracked definition files\n", status.Sources)
		if status.DiskUsageBytes != nil {
			fmt.Fprintf(w, "disk_usage:         %s   # record store + indexes\n", cli.FormatBytes(*status.DiskUsageBytes))
		}
		for _, d := range status.WatchDirectories {
			fmt.Fprintf(w, "watching:           %s\n", d)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q; use text or json", format)
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: hako watch <add|remove|list> [path]")
		fmt.Println("  hako watch add <path>     Add directory to watch")
		fmt.Println("  hako watch remove <path>  Remove directory from watch")
		fmt.Println("  hako watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[3:])
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: hako watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		resp, err := http.Post(*serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Add failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: hako watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Remove failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(*serverURL + "/api/v1/watch/directories")
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("List failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Printf("Parse failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hako - Embedded vector store for database definitions

Usage:
  hako serve [flags]                         Start the HTTP server and watch ingest directories
  hako ingest [flags] [path...]              Load definition files into their collections
  hako search [flags] <query>                Search one collection
  hako get -collection <name> <key>...       Print records as JSON
  hako delete -collection <name> <key>...    Delete records
  hako delete -source <path>...              Delete every record a source produced
  hako drop <collection>...                  Delete collections with their indexes
  hako status [flags]                        Show collections, record counts and disk usage
  hako watch <add|remove|list>               Manage watched directories
  hako version                               Show version
  hako help                                  Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/hako/config.yaml, or ./config.yaml)
  --debug            Enable debug logging (serve, ingest)

Search Flags:
  --collection string    Collection to search (required)
  --server string        Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --top int              Number of results (default from config)
  --skip int             Results to skip
  --keywords string      Comma separated keywords
  --tags string          Comma separated tags every value hit must carry
  --max-distance float   Keep only hits closer than this distance
  --output string        text, compact or json (default: text)
  --xlsx string          Also write results to an Excel workbook

Examples:
  hako serve
  hako ingest ./definitions
  hako search -collection orders_status_ValueDefinitions cancelled
  hako search -collection SchemaDefinitions -output json customer email
  hako status --output json
  hako drop orders_status_ValueDefinitions
  hako watch add /path/to/definitions`)
}
