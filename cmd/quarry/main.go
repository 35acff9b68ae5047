// Package main is the Quarry CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/chunker"
	"github.com/quarrydb/quarry/internal/cli"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/embedding"
	"github.com/quarrydb/quarry/internal/index"
	"github.com/quarrydb/quarry/internal/keyword"
	"github.com/quarrydb/quarry/internal/models"
	"github.com/quarrydb/quarry/internal/server"
	"github.com/quarrydb/quarry/internal/vector"
	"github.com/quarrydb/quarry/internal/watcher"
	"github.com/quarrydb/quarry/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/quarry/config.yaml"
	defaultServerURL  = "http://localhost:8400"
)

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence, so running from the project dir
// uses the project's config.
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
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "answer":
		runAnswer()
	case "documents":
		runDocuments()
	case "status":
		runStatus()
	case "reset":
		runReset()
	case "migrate":
		runMigrate()
	case "version", "--version", "-v":
		fmt.Printf("quarry version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
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
	if cfg.Watch.Directory != "" {
		engine := components.Engine
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.New(cfg.Watch.Directory, cfg.Watch.Extensions, func(path string) {
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("watch read file failed", zap.String("path", path), zap.Error(err))
				return
			}
			docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if _, err := engine.Ingest(context.Background(), docID, string(data), path, nil); err != nil {
				logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, watchOpts...)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExisting()
	}

	srv := server.NewServer(components.Engine, cfg.Addr(), logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	docID := fs.String("doc-id", "", "document ID (generated when empty)")
	source := fs.String("source", "", "source label stored with the document")
	tsFlag := fs.String("ts", "", "document timestamp (RFC 3339)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: quarry ingest [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}
	req := cli.IngestRequest{DocID: *docID, Text: string(data), Source: *source}
	if req.DocID == "" {
		req.DocID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if *tsFlag != "" {
		ts, err := time.Parse(time.RFC3339, *tsFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid timestamp: %v\n", err)
			os.Exit(1)
		}
		req.Timestamp = &ts
	}
	res, err := cli.NewClient(*serverURL).Ingest(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %s: %d chunk(s)\n", res.DocID, res.ChunksIndexed)
}

func parseSearchFlags(fs *flag.FlagSet, args []string) (cli.SearchRequest, cli.OutputFormat, *string) {
	serverURL := fs.String("server", defaultServerURL, "server URL")
	mode := fs.String("mode", "hybrid", "search mode: vector, keyword, or hybrid")
	k := fs.Int("k", 0, "number of results (0 = server default)")
	alpha := fs.Float64("alpha", -1, "fusion weight for the vector side, 0..1 (-1 = server default)")
	docID := fs.String("doc-id", "", "restrict to one document ID")
	source := fs.String("source", "", "restrict to one source label")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Printf("Usage: quarry %s [flags] <query>\n", fs.Name())
		os.Exit(1)
	}
	req := cli.SearchRequest{
		Query: strings.TrimSpace(strings.Join(fs.Args(), " ")),
		Mode:  *mode,
		K:     *k,
	}
	if *alpha >= 0 {
		req.Alpha = alpha
	}
	if *docID != "" || *source != "" {
		req.Filter = &models.Filter{DocID: *docID, Source: *source}
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return req, format, serverURL
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	req, format, serverURL := parseSearchFlags(fs, os.Args[2:])
	resp, err := cli.NewClient(*serverURL).Search(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteHits(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runAnswer() {
	fs := flag.NewFlagSet("answer", flag.ExitOnError)
	maxChars := fs.Int("max-chars", 0, "answer length cap in characters (0 = server default)")
	includeScores := fs.Bool("scores", false, "prefix each passage with its fused score")
	req, format, serverURL := parseSearchFlags(fs, os.Args[2:])
	a, err := cli.NewClient(*serverURL).Answer(cli.AnswerRequest{
		SearchRequest: req,
		MaxChars:      *maxChars,
		IncludeScores: *includeScores,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Answer failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, a, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := cli.NewClient(*serverURL).Documents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Documents failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d document(s)\n", resp.Count)
	for _, d := range resp.Documents {
		fmt.Printf("  %s  chunks=%d", d.DocID, d.ChunkCount)
		if d.Source != "" {
			fmt.Printf("  source=%s", d.Source)
		}
		fmt.Println()
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	stats, err := cli.NewClient(*serverURL).Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("documents:     %d\n", stats.Documents)
	fmt.Printf("chunks:        %d\n", stats.Chunks)
	fmt.Printf("vector_size:   %d\n", stats.VectorSize)
	fmt.Printf("backend:       %s\n", stats.Backend)
	fmt.Printf("embedder_dim:  %d\n", stats.EmbedderDim)
	if stats.DiskUsageBytes != nil {
		fmt.Printf("disk_bytes:    %d\n", *stats.DiskUsageBytes)
	}
}

func runReset() {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	_ = fs.Parse(os.Args[2:])

	if !*yes {
		fmt.Print("This deletes every indexed document. Continue? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}
	if err := cli.NewClient(*serverURL).Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Index reset.")
}

// runMigrate copies every vector and its chunk metadata from the local
// snapshot into a Qdrant collection, so a corpus built locally can move to
// the remote backend without re-embedding.
func runMigrate() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	batchSize := fs.Int("batch", 128, "points per upsert batch")
	batchesPerSec := fs.Float64("rate", 10, "maximum upsert batches per second")
	dropExisting := fs.Bool("drop-existing", false, "reset the target collection before copying")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	local, err := vector.NewLocalStore(cfg.Embedding.Dimensions, cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	remote, err := vector.NewQdrantStore(cfg.Embedding.Dimensions, vector.QdrantConfig{
		URL:        cfg.Vector.Qdrant.URL,
		APIKey:     cfg.Vector.Qdrant.APIKey,
		Collection: cfg.Vector.Qdrant.Collection,
		Timeout:    time.Duration(cfg.Vector.Qdrant.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Qdrant", zap.Error(err))
	}

	ctx := context.Background()
	if *dropExisting {
		if err := remote.Reset(ctx); err != nil {
			logger.Fatal("Failed to reset target collection", zap.Error(err))
		}
	}

	chunks, vectors := local.Export()
	if len(chunks) == 0 {
		fmt.Println("Nothing to migrate.")
		return
	}
	limiter := rate.NewLimiter(rate.Limit(*batchesPerSec), 1)
	migrated := 0
	for start := 0; start < len(chunks); start += *batchSize {
		end := start + *batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := limiter.Wait(ctx); err != nil {
			logger.Fatal("Rate limiter interrupted", zap.Error(err))
		}
		if err := remote.Add(ctx, chunks[start:end], vectors[start:end]); err != nil {
			logger.Fatal("Batch upsert failed",
				zap.Int("from", start), zap.Int("to", end), zap.Error(err))
		}
		migrated = end
		logger.Info("batch migrated", zap.Int("done", migrated), zap.Int("total", len(chunks)))
	}
	fmt.Printf("Migrated %d chunk(s) to %s/%s\n", migrated, cfg.Vector.Qdrant.URL, cfg.Vector.Qdrant.Collection)
}

// Components holds initialized services.
type Components struct {
	Catalog  *catalog.Catalog
	Embedder embedding.Embedder
	Store    vector.Store
	Engine   *index.Engine
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.NewEmbedder(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Remote: embedding.RemoteConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKeyEnv:  cfg.Embedding.APIKeyEnv,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := vector.NewStore(embedder.Dimensions(), vector.Config{
		Backend: cfg.Vector.Backend,
		DataDir: cfg.Storage.DataDir,
		Qdrant: vector.QdrantConfig{
			URL:        cfg.Vector.Qdrant.URL,
			APIKey:     cfg.Vector.Qdrant.APIKey,
			Collection: cfg.Vector.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Vector.Qdrant.TimeoutSeconds) * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	cat, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	engine := index.New(index.Config{
		DefaultK:       cfg.Search.DefaultK,
		MaxK:           cfg.Search.MaxK,
		DefaultAlpha:   cfg.Search.DefaultAlpha,
		CandidatePool:  cfg.Search.CandidatePool,
		AnswerMaxChars: cfg.Search.AnswerMaxChars,
		ArtifactPaths:  []string{cfg.Storage.DataDir, cfg.Storage.CatalogPath},
	}, chunker.New(cfg.Chunking.MaxChars), embedder, store, keyword.NewIndex(), cat,
		index.WithLogger(logger))

	// Rebuild in-memory state: the local store restores from its snapshot;
	// under the remote backend the catalog is the source of chunk records.
	if local, ok := store.(*vector.LocalStore); ok {
		engine.Restore(local.Chunks(), local.NextID())
	} else {
		chunks, err := cat.Chunks(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load chunks from catalog: %w", err)
		}
		nextID, err := cat.NextChunkID(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load ID counter from catalog: %w", err)
		}
		engine.Restore(chunks, nextID)
	}

	logger.Info("components initialized",
		zap.String("backend", store.Type()),
		zap.String("embedder", cfg.Embedding.Provider),
		zap.Int("dimensions", embedder.Dimensions()))

	return &Components{
		Catalog:  cat,
		Embedder: embedder,
		Store:    store,
		Engine:   engine,
	}, nil
}

func printUsage() {
	fmt.Println(`quarry - Hybrid retrieval engine with extractive answers

Usage:
  quarry server [flags]            Start the HTTP server
  quarry ingest [flags] <file>     Ingest a document
  quarry search [flags] <query>    Search the index
  quarry answer [flags] <query>    Build an extractive answer
  quarry documents [flags]         List ingested documents
  quarry status [flags]            Show corpus statistics
  quarry reset [flags]             Delete every indexed document
  quarry migrate [flags]           Copy the local index into Qdrant
  quarry version                   Show version
  quarry help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/quarry/config.yaml)
  --debug            Enable debug logging

Search/Answer Flags:
  --server string    Server URL (default: http://localhost:8400)
  --mode string      vector, keyword, or hybrid (default: hybrid)
  --k int            Number of results (0 = server default)
  --alpha float      Fusion weight for the vector side, 0..1
  --doc-id string    Restrict to one document ID
  --source string    Restrict to one source label
  --output string    text or json (default: text)

Migrate Flags:
  --config string    Config file path
  --batch int        Points per upsert batch (default: 128)
  --rate float       Maximum batches per second (default: 10)
  --drop-existing    Reset the target collection first

Examples:
  quarry server
  quarry ingest --source wiki notes.txt
  quarry search "vector databases"
  quarry search --mode keyword --k 3 indexing
  quarry answer --scores "how does fusion work"
  quarry migrate --drop-existing`)
}
