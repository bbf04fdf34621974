// brain is the knowledge-graph ingestion engine CLI: workers that drain the
// task queue, enqueue/status commands for ingestion jobs, and read-side
// graph and similarity queries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"brain/internal/chunker"
	"brain/internal/config"
	"brain/internal/embedding"
	"brain/internal/llm"
	"brain/internal/logging"
	"brain/internal/store"
	"brain/internal/tasks"
	"brain/internal/usage"
)

var (
	// Global flags
	configPath string
	brainID    string
	verbose    bool
	useMemory  bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "brain",
	Short: "brain - knowledge-graph ingestion engine",
	Long: `brain ingests unstructured text and structured records into a per-brain
knowledge graph.

A Scout extracts atomic entities, an Architect assembles them into
relationships around Event hubs, and a Janitor validates every batch before
it reaches the graph. Ingestion runs as queued tasks drained by a worker
pool; a consolidation pass reconciles each session with the existing graph.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(cfg.LogsDir(), logging.Options{
			Debug:      cfg.Logging.Debug || verbose,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVarP(&brainID, "brain", "b", "default", "brain to operate on")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "run without Redis (in-process queue and cache)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(brainsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

// buildEnv assembles the task-runtime environment: stores, cache, queue,
// model adapters, and the usage ledger. The caller owns Close.
func buildEnv(ctx context.Context) (*tasks.Env, error) {
	env := &tasks.Env{Cfg: cfg}

	env.Graph = store.NewGraphDB(cfg.DataDir)
	env.Vectors = store.NewVectorDB(cfg.DataDir)
	env.Docs = store.NewDocDB(cfg.DataDir)

	if useMemory || cfg.Redis.Addr == "" {
		env.Cache = store.NewMemoryCache(cfg.Worker.TaskRetentionDuration())
		env.Queue = tasks.NewMemoryQueue()
	} else {
		cache, err := store.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Worker.TaskRetentionDuration())
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
		}
		env.Cache = cache
		env.Queue = tasks.NewRedisQueue(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}

	client, err := llm.NewGeminiClient(cfg.LLM)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.LLM = client

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Embedder = engine

	env.Chunker = chunker.New(cfg.Ingestion.ChunkMaxRunes, cfg.Ingestion.ChunkOverlap)

	tracker, err := usage.NewTracker(cfg.DataDir)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Usage = tracker
	return env, nil
}

// signalContext returns a context canceled by SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logging.Boot("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
