// Command server runs the HTTP API tier of the grounded question-answering
// service: source ingestion endpoints, the query/verify endpoints, and
// answer retrieval.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"groundedqa/internal/analytics"
	"groundedqa/internal/config"
	"groundedqa/internal/httpapi"
	"groundedqa/internal/idempotency"
	"groundedqa/internal/objectstore"
	"groundedqa/internal/observability"
	"groundedqa/internal/ratelimit"
	"groundedqa/internal/rag/chunker"
	"groundedqa/internal/rag/diversify"
	"groundedqa/internal/rag/ingest"
	"groundedqa/internal/rag/obs"
	"groundedqa/internal/rag/provider"
	"groundedqa/internal/rag/rerank"
	"groundedqa/internal/rag/retrieve"
	"groundedqa/internal/rag/service"
	"groundedqa/internal/rag/store"
	"groundedqa/internal/rag/synth"
	"groundedqa/internal/rag/verify"
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

	if cfg.Debug {
		if raw, err := json.Marshal(cfg); err == nil {
			log.Debug().RawJSON("config", observability.RedactJSON(raw)).Msg("resolved config")
		}
	}

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

	embedProvider, chatProvider := buildProviders(cfg, httpClient)

	sourceStore, chunkStore, queryStore, answerStore := buildStores(cfg)
	objectStore := buildObjectStore(cfg)
	chunkOpts, extractOpts := ingest.PrepareOptions(cfg)

	queue := ingest.NewQueue(cfg.Queue)

	svc := &service.Service{
		Sources:       sourceStore,
		Chunks:        chunkStore,
		Queries:       queryStore,
		Answers:       answerStore,
		Objects:       objectStore,
		EmbedProvider: embedProvider,
		ChatProvider:  chatProvider,
		Queue:         queue,
		Clock:         service.SystemClock{},
		Log:           obs.NewLogger(log.Logger),
		Metrics:       obs.NewOtelMetrics(),
		Stages:        buildStages(cfg),
		Extract:       extractOpts,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Queue.Backend != "kafka" {
		// The memory queue is process-local, so tasks enqueued by this
		// process are only visible here: run the ingestion worker
		// in-process. Under kafka the dedicated worker command consumes
		// instead.
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
			Analytics:    buildAnalytics(cfg),
		}
		worker := &ingest.Worker{
			Queue:    queue,
			Pipeline: pipeline,
			Cfg:      cfg.Worker,
			Log:      obs.NewLogger(log.Logger),
		}
		go func() { _ = worker.Run(workerCtx) }()
		log.Info().Msg("in-process ingestion worker started (memory queue)")
	}

	limiter := buildRateLimiter(cfg)
	idemStore := buildIdempotencyStore(cfg)

	srv := httpapi.NewServer(svc, cfg.HTTP.APIKey, limiter, idemStore)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	go func() {
		log.Info().Str("addr", addr).Msg("groundedqa api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	} else {
		log.Info().Msg("groundedqa api stopped")
	}
}

func buildProviders(cfg config.Config, httpClient *http.Client) (provider.Provider, provider.Provider) {
	switch cfg.AIProvider {
	case "anthropic":
		embed := provider.FromConfig(cfg.Embedding, cfg.ChatModel, cfg.Embedding.Dim)
		chat := provider.NewAnthropic(provider.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:  cfg.Anthropic.Model,
		}, httpClient)
		return embed, chat
	case "real":
		p := provider.FromConfig(cfg.Embedding, cfg.ChatModel, cfg.Embedding.Dim)
		return p, p
	default:
		fake := provider.NewFake(max(cfg.Embedding.Dim, 8))
		return fake, fake
	}
}

func buildStores(cfg config.Config) (store.SourceStore, store.ChunkStore, store.QueryStore, store.AnswerStore) {
	if cfg.Database.Search.Backend == "memory" && cfg.Database.Vector.Backend == "memory" {
		return store.NewMemorySourceStore(), store.NewMemoryChunkStore(), store.NewMemoryQueryStore(), store.NewMemoryAnswerStore()
	}
	dsn := cfg.Database.DefaultDSN
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	sourceStore := store.NewPostgresSourceStore(pool, cfg.Embedding.Dim)
	queryStore := store.NewPostgresQueryStore(pool)
	answerStore := store.NewPostgresAnswerStore(pool)
	return sourceStore, buildChunkStore(cfg, pool), queryStore, answerStore
}

// buildChunkStore honors VECTOR_BACKEND=qdrant by delegating vector search
// to Qdrant while keeping full-text search and row lookups on the Postgres
// store it wraps.
func buildChunkStore(cfg config.Config, pool *pgxpool.Pool) store.ChunkStore {
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

func buildObjectStore(cfg config.Config) objectstore.ObjectStore {
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

func buildStages(cfg config.Config) service.Stages {
	retrieveOpts := retrieve.DefaultOptions()
	if cfg.Rerank.Candidates > 0 {
		retrieveOpts.Candidates = cfg.Rerank.Candidates
	}
	if cfg.PerSourceRetrievalLimit > 0 {
		retrieveOpts.PerSourceLimit = cfg.PerSourceRetrievalLimit
	}

	rerankOpts := rerank.DefaultOptions()
	rerankOpts.Enabled = cfg.Rerank.Enabled
	if cfg.Rerank.SnippetChars > 0 {
		rerankOpts.SnippetChars = cfg.Rerank.SnippetChars
	}

	mmrOpts := diversify.DefaultOptions()
	mmrOpts.Enabled = cfg.MMR.Enabled
	if cfg.MMR.Lambda > 0 {
		mmrOpts.Lambda = cfg.MMR.Lambda
	}
	if cfg.MaxChunksPerQuery > 0 {
		mmrOpts.K = cfg.MaxChunksPerQuery
	}

	synthOpts := synth.DefaultOptions()
	if cfg.Rerank.SnippetChars > 0 {
		synthOpts.SnippetChars = cfg.Rerank.SnippetChars
	}

	return service.Stages{
		Retrieve: retrieveOpts,
		Rerank:   rerankOpts,
		MMR:      mmrOpts,
		Synth:    synthOpts,
		Verify:   verify.Options{},
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

func buildRateLimiter(cfg config.Config) ratelimit.Limiter {
	if cfg.RateLimit.Backend != "external" {
		return ratelimit.NewInProcessLimiter(cfg.RateLimit.RatePerSec, cfg.RateLimit.Burst)
	}
	limiter, err := ratelimit.NewRedisLimiter(cfg.RateLimit.RedisAddr, int(cfg.RateLimit.RatePerSec), cfg.RateLimit.Burst)
	if err != nil {
		log.Warn().Err(err).Msg("redis rate limiter unavailable, falling back to in-process")
		return ratelimit.NewInProcessLimiter(cfg.RateLimit.RatePerSec, cfg.RateLimit.Burst)
	}
	return limiter
}

func buildIdempotencyStore(cfg config.Config) idempotency.Store {
	if cfg.Idempotency.RedisAddr == "" {
		return idempotency.NoopStore{}
	}
	idemStore, err := idempotency.NewRedisStore(cfg.Idempotency.RedisAddr)
	if err != nil {
		log.Warn().Err(err).Msg("redis idempotency store unavailable, disabling idempotency tracking")
		return idempotency.NoopStore{}
	}
	return idemStore
}
