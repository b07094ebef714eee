// Package main is the contextrag CLI entry point.
package main

import (
	"context"
	"errors"
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/cli"
	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/server"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/watcher"
	"github.com/hyperjump/contextrag/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/contextrag/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development).
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
	// API keys may live in a .env next to the binary's working directory.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args, os.Stdout)
	case "ask":
		err = runAsk(args, os.Stdout)
	case "search":
		err = runSearch(args, os.Stdout)
	case "list":
		err = runList(args, os.Stdout)
	case "delete":
		err = runDelete(args, os.Stdout)
	case "stats":
		err = runStats(args, os.Stdout)
	case "snapshot":
		err = runSnapshot(args, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("contextrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `contextrag - retrieval-augmented answers over your documents

Usage:
  contextrag server   [--config path] [--debug]
  contextrag ingest   [--config path] <file-or-directory>
  contextrag ask      [--server url] [--model m] [--top-k n] [--docs id,id] [--format text|json] <question>
  contextrag search   [--server url] [--top-k n] [--docs id,id] [--format text|json] <query>
  contextrag list     [--server url] [--format text|json]
  contextrag delete   [--server url] <document-id>
  contextrag stats    [--server url] [--format text|json]
  contextrag snapshot [--server url] <save|load|list> [name]
  contextrag version

Without --server, commands open the database and index snapshot directly. Do not run
direct commands while a server is using the same data directory.
`)
}

// usageError is printed as is, without the "failed" prefix.
type usageError string

func (e usageError) Error() string { return string(e) }

// commonFlags are shared by every one-shot command.
type commonFlags struct {
	configPath *string
	debug      *bool
	serverURL  *string
	format     *string
}

func newFlagSet(name string, withServer, withFormat bool) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c := &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
	empty := ""
	c.serverURL, c.format = &empty, &empty
	if withServer {
		c.serverURL = fs.String("server", "", "server URL; empty opens the data directory directly")
	}
	if withFormat {
		c.format = fs.String("format", "text", "output format: text or json")
	}
	return fs, c
}

func (c *commonFlags) outputFormat() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(*c.format)
}

// open loads config and initializes components for direct (serverless) commands.
func (c *commonFlags) open(withGenerator bool) (*Components, *zap.Logger, error) {
	cfg, _, err := loadConfig(*c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug || *c.debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	components, err := initializeComponents(cfg, logger, withGenerator)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return components, logger, nil
}

// argsReorder moves flags that appear after positional arguments to the front so that
// flag.Parse sees them; the flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
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

// joinQuery joins positional args with spaces so multi-word questions work with or
// without shell quoting.
func joinQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitIDs parses a comma-separated id list, dropping blanks.
func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, file indexing, etc.)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, true)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchSvc := watcher.NewWatcher(cfg.Watch, components.Indexer, watcher.WithLogger(logger))
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.Store,
		cfg,
		logger,
		server.WithWatchService(watchSvc, resolvedConfigPath),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := components.Store.Save(cfg.Index.SnapshotName); err != nil {
		logger.Warn("final snapshot save failed", zap.String("snapshot", cfg.Index.SnapshotName), zap.Error(err))
	}
	return nil
}

func runIngest(args []string, out io.Writer) error {
	fs, common := newFlagSet("ingest", false, false)
	if err := fs.Parse(argsReorder(args)); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() < 1 {
		return usageError("Usage: contextrag ingest [flags] <file-or-directory>")
	}
	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	components, logger, err := common.open(false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	if info.IsDir() {
		n, err := components.Indexer.IngestDirectory(ctx, path, components.Config.Watch.Extensions)
		components.saveIndex(logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Indexed %d file(s) from %s\n", n, path)
		return nil
	}
	// A single named file is ingested whatever its extension.
	docID, skipped, err := components.Indexer.IngestFile(ctx, path, nil)
	if err != nil {
		return err
	}
	components.saveIndex(logger)
	if skipped {
		fmt.Fprintf(out, "Unchanged: %s\n", docID)
		return nil
	}
	fmt.Fprintf(out, "Document indexed: %s\n", docID)
	return nil
}

func runAsk(args []string, out io.Writer) error {
	fs, common := newFlagSet("ask", true, true)
	model := fs.String("model", "", "model to answer with (default from config)")
	topK := fs.Int("top-k", models.DefaultTopK, "number of chunks to retrieve")
	docs := fs.String("docs", "", "comma-separated document ids to restrict retrieval to")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return usageError(err.Error())
	}
	question := joinQuery(fs.Args())
	if question == "" {
		return usageError("Usage: contextrag ask [flags] <question>")
	}
	format, err := common.outputFormat()
	if err != nil {
		return usageError(err.Error())
	}
	req := &models.QueryRequest{Query: question, Model: *model, TopK: *topK, DocumentIDs: splitIDs(*docs)}

	var resp *models.QueryResponse
	if *common.serverURL != "" {
		resp = &models.QueryResponse{}
		if err := newAPIClient(*common.serverURL).post("/api/v1/rag/standard", req, resp); err != nil {
			return err
		}
	} else {
		components, logger, err := common.open(true)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		if resp, err = components.Engine.Answer(context.Background(), req); err != nil {
			return err
		}
	}
	return cli.WriteAnswer(out, resp, format)
}

func runSearch(args []string, out io.Writer) error {
	fs, common := newFlagSet("search", true, true)
	topK := fs.Int("top-k", models.DefaultTopK, "number of chunks to return")
	docs := fs.String("docs", "", "comma-separated document ids to restrict retrieval to")
	if err := fs.Parse(argsReorder(args)); err != nil {
		return usageError(err.Error())
	}
	query := joinQuery(fs.Args())
	if query == "" {
		return usageError("Usage: contextrag search [flags] <query>")
	}
	format, err := common.outputFormat()
	if err != nil {
		return usageError(err.Error())
	}
	req := &models.SearchRequest{Query: query, TopK: *topK, DocumentIDs: splitIDs(*docs)}

	var resp *models.SearchResponse
	if *common.serverURL != "" {
		resp = &models.SearchResponse{}
		if err := newAPIClient(*common.serverURL).post("/api/v1/search", req, resp); err != nil {
			return err
		}
	} else {
		components, logger, err := common.open(false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		if resp, err = components.Engine.Search(context.Background(), req); err != nil {
			return err
		}
	}
	return cli.WriteSearchResults(out, resp, format)
}

func runList(args []string, out io.Writer) error {
	fs, common := newFlagSet("list", true, true)
	limit := fs.Int("limit", 100, "maximum documents to list")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	format, err := common.outputFormat()
	if err != nil {
		return usageError(err.Error())
	}

	var docs []*models.Document
	if *common.serverURL != "" {
		var body struct {
			Documents []*models.Document `json:"documents"`
		}
		if err := newAPIClient(*common.serverURL).get(fmt.Sprintf("/api/v1/documents?limit=%d", *limit), &body); err != nil {
			return err
		}
		docs = body.Documents
	} else {
		components, logger, err := common.open(false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		if docs, err = components.Storage.ListDocuments(context.Background(), 0, *limit); err != nil {
			return err
		}
	}
	return cli.WriteDocuments(out, docs, format)
}

func runDelete(args []string, out io.Writer) error {
	fs, common := newFlagSet("delete", true, false)
	if err := fs.Parse(argsReorder(args)); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() < 1 {
		return usageError("Usage: contextrag delete [flags] <document-id>")
	}
	docID := fs.Arg(0)

	if *common.serverURL != "" {
		if err := newAPIClient(*common.serverURL).delete("/api/v1/documents/" + docID); err != nil {
			return err
		}
	} else {
		components, logger, err := common.open(false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer components.Close()
		if err := components.Indexer.DeleteDocument(context.Background(), docID); err != nil {
			return err
		}
		components.saveIndex(logger)
	}
	fmt.Fprintf(out, "Document deleted: %s\n", docID)
	return nil
}

func runStats(args []string, out io.Writer) error {
	fs, common := newFlagSet("stats", true, true)
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	format, err := common.outputFormat()
	if err != nil {
		return usageError(err.Error())
	}

	var st cli.Stats
	if *common.serverURL != "" {
		if err := newAPIClient(*common.serverURL).get("/api/v1/index/stats", &st); err != nil {
			return err
		}
		return cli.WriteStats(out, st, format)
	}

	components, logger, err := common.open(false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()
	if st.Documents, err = components.Storage.CountDocuments(ctx); err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if st.Chunks, err = components.Storage.CountChunks(ctx); err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	st.Index = components.Store.Stats()
	s := components.Config.Storage
	if usage, err := storage.MeasureDiskUsage(s.DatabasePath, s.SnapshotDir, s.UploadDir); err == nil {
		st.DiskUsage = &usage
	} else {
		logger.Warn("disk usage unavailable", zap.Error(err))
	}
	return cli.WriteStats(out, st, format)
}

// runSnapshot saves, loads or lists index snapshots. In direct mode "load" copies the
// named snapshot over the active one, since nothing stays running to hold it.
func runSnapshot(args []string, out io.Writer) error {
	fs, common := newFlagSet("snapshot", true, false)
	if err := fs.Parse(argsReorder(args)); err != nil {
		return usageError(err.Error())
	}
	const usage = "Usage: contextrag snapshot [flags] <save|load|list> [name]"
	if fs.NArg() < 1 {
		return usageError(usage)
	}
	action, name := fs.Arg(0), fs.Arg(1)
	switch action {
	case "save", "load", "list":
	default:
		return usageError(usage)
	}

	if *common.serverURL != "" {
		api := newAPIClient(*common.serverURL)
		if action == "list" {
			var body struct {
				Snapshots []string `json:"snapshots"`
			}
			if err := api.get("/api/v1/index/snapshots", &body); err != nil {
				return err
			}
			for _, n := range body.Snapshots {
				fmt.Fprintln(out, n)
			}
			return nil
		}
		var body struct {
			Name    string `json:"name"`
			Vectors int    `json:"vectors"`
		}
		if err := api.post("/api/v1/index/"+action, map[string]string{"name": name}, &body); err != nil {
			return err
		}
		fmt.Fprintf(out, "Snapshot %s %sd (%d vectors)\n", body.Name, action, body.Vectors)
		return nil
	}

	components, logger, err := common.open(false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer components.Close()
	active := components.Config.Index.SnapshotName
	if name == "" {
		name = active
	}
	store := components.Store
	switch action {
	case "list":
		names, err := store.Snapshots()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	case "save":
		if err := store.Save(name); err != nil {
			return err
		}
	case "load":
		if err := store.Load(name); err != nil {
			return err
		}
		if name != active {
			if err := store.Save(active); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(out, "Snapshot %s %sd (%d vectors)\n", name, action, store.Stats().TotalVectors)
	return nil
}
