// Command worker runs the asynchronous ingestion tier: it consumes source
// ingestion tasks from the configured queue and drives each source through
// extract -> chunk -> embed -> index.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"groundedqa/internal/analytics"
	"groundedqa/internal/config"
	"groundedqa/internal/objectstore"
	"groundedqa/internal/observability"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/ingest"
	"groundedqa/internal/rag/obs"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(os.Getenv("LOG_FILE_PATH"), cfg.Obs.LogLevel, os.Getenv("LOG_PRETTY") == "true")

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing/metrics export")
		shutdown = nil
	}
	if shutdown != nil {
		observability.EnableOTelLogs(cfg.Obs.ServiceName)
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)
	embedProvider := buildEmbedProvider(cfg, httpClient)
	sourceStore, chunkStore := buildWorkerStores(cfg)
	objectStore := buildWorkerObjectStore(cfg)
	analyticsSink := buildAnalytics(cfg)

	chunkOpts, extractOpts := ingest.PrepareOptions(cfg)

	pipeline := &ingest.Pipeline{
		Sources:      sourceStore,
		Chunks:       chunkStore,
		Objects:      objectStore,
		Embed:        embedProvider,
		Chunker:      chunker.SlidingWindowChunker{},
		ChunkOptions: chunkOpts,
		ExtractOpts:  extractOpts,
		EmbedBatch:   cfg.Embedding.BatchSize,
		Log:          obs.NewLogger(log.Logger),
		Analytics:    analyticsSink,
	}

	queue := ingest.NewQueue(cfg.Queue)
	worker := &ingest.Worker{
		Queue:    queue,
		Pipeline: pipeline,
		Cfg:      cfg.Worker,
		Log:      obs.NewLogger(log.Logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info().Msg("groundedqa worker shutting down")
		cancel()
	}()

	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("groundedqa worker started")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker exited with error")
	}
}

func buildEmbedProvider(cfg config.Config, httpClient *http.Client) provider.Provider {
	switch cfg.AIProvider {
	case "fake":
		return provider.NewFake(max(cfg.Embedding.Dim, 8))
	default:
		return provider.FromConfig(cfg.Embedding, cfg.ChatModel, cfg.Embedding.Dim)
	}
}

func buildWorkerStores(cfg config.Config) (store.SourceStore, store.ChunkStore) {
	if cfg.Database.Search.Backend == "memory" && cfg.Database.Vector.Backend == "memory" {
		return store.NewMemorySourceStore(), store.NewMemoryChunkStore()
	}
	pool, err := pgxpool.New(context.Background(), cfg.Database.DefaultDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	return store.NewPostgresSourceStore(pool, cfg.Embedding.Dim), buildWorkerChunkStore(cfg, pool)
}

// buildWorkerChunkStore mirrors the server's qdrant wiring so ingestion
// writes land in whichever vector backend is configured.
func buildWorkerChunkStore(cfg config.Config, pool *pgxpool.Pool) store.ChunkStore {
	pgChunks := store.NewPostgresChunkStore(pool)
	if cfg.Database.Vector.Backend != "qdrant" {
		return pgChunks
	}
	collection := "groundedqa_chunks"
	qdrantChunks, err := store.NewQdrantChunkStore(cfg.Database.Vector.DSN, collection, cfg.Embedding.Dim, pgChunks)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to qdrant")
	}
	return qdrantChunks
}

func buildWorkerObjectStore(cfg config.Config) objectstore.ObjectStore {
	switch cfg.Storage.Backend {
	case "s3":
		s3store, err := objectstore.NewS3Store(context.Background(), cfg.Storage.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 object store")
		}
		return s3store
	case "memory":
		return objectstore.NewMemoryStore()
	default:
		root := cfg.Storage.Root
		if root == "" {
			root = "./data/sources"
		}
		local, err := objectstore.NewLocalStore(root)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init local object store")
		}
		return local
	}
}

func buildAnalytics(cfg config.Config) analytics.Sink {
	if cfg.Analytics.Backend != "clickhouse" {
		return analytics.NoopSink{}
	}
	sink, err := analytics.NewClickHouseSink(context.Background(), cfg.Analytics.ClickHouseDSN)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse analytics sink unavailable, falling back to noop")
		return analytics.NoopSink{}
	}
	return sink
}
