// groundedqa/loader.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally a .env
// file), applying documented defaults for anything unset. A config.yaml or
// config.yml next to the process (or named by CONFIG_FILE) is merged in as a
// second layer of defaults below the environment: env vars always win,
// and config.yaml wins over the hardcoded default. A file value of false,
// zero or an empty string is treated as unset, so it does not replace a
// non-zero hardcoded default.
func Load() (Config, error) {
	_ = godotenv.Overload()

	fileCfg, err := loadYAMLFile()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{}

	cfg.HTTP.Host = firstNonEmpty(os.Getenv("HTTP_HOST"), fileCfg.HTTP.Host, "0.0.0.0")
	cfg.HTTP.Port = intFromEnvOr("PORT", fileCfg.HTTP.Port, 8080)
	cfg.HTTP.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("API_KEY")), fileCfg.HTTP.APIKey)

	cfg.Storage.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_BACKEND")), fileCfg.Storage.Backend, "local")
	cfg.Storage.Root = firstNonEmpty(strings.TrimSpace(os.Getenv("STORAGE_ROOT")), fileCfg.Storage.Root, "./data/sources")
	cfg.Storage.S3.Bucket = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_BUCKET")), fileCfg.Storage.S3.Bucket)
	cfg.Storage.S3.Region = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_REGION")), fileCfg.Storage.S3.Region)
	cfg.Storage.S3.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_ENDPOINT")), fileCfg.Storage.S3.Endpoint)
	cfg.Storage.S3.AccessKey = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")), fileCfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_SECRET_KEY")), fileCfg.Storage.S3.SecretKey)
	cfg.Storage.S3.Prefix = firstNonEmpty(strings.TrimSpace(os.Getenv("S3_PREFIX")), fileCfg.Storage.S3.Prefix, "sources")
	cfg.Storage.S3.UsePathStyle = boolFromEnvOr("S3_USE_PATH_STYLE", fileCfg.Storage.S3.UsePathStyle, false)

	cfg.Database.DefaultDSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("DB_DSN"), fileCfg.Database.DefaultDSN)
	cfg.Database.Search.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("SEARCH_BACKEND")), fileCfg.Database.Search.Backend, defaultBackend(cfg.Database.DefaultDSN))
	cfg.Database.Search.DSN = firstNonEmpty(os.Getenv("SEARCH_DSN"), fileCfg.Database.Search.DSN, cfg.Database.DefaultDSN)
	cfg.Database.Vector.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), fileCfg.Database.Vector.Backend, defaultBackend(cfg.Database.DefaultDSN))
	cfg.Database.Vector.DSN = firstNonEmpty(os.Getenv("VECTOR_DSN"), fileCfg.Database.Vector.DSN, cfg.Database.DefaultDSN)

	cfg.AIProvider = firstNonEmpty(strings.TrimSpace(os.Getenv("AI_PROVIDER")), fileCfg.AIProvider, "fake")
	cfg.ChatModel = firstNonEmpty(strings.TrimSpace(os.Getenv("CHAT_MODEL")), fileCfg.ChatModel, "gpt-4o-mini")
	cfg.Embedding.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_BASE_URL")), fileCfg.Embedding.BaseURL)
	cfg.Embedding.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_API_KEY")), fileCfg.Embedding.APIKey)
	cfg.Embedding.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_MODEL")), fileCfg.Embedding.Model, "text-embedding-3-small")
	cfg.Embedding.Dim = intFromEnvOr("EMBED_DIM", fileCfg.Embedding.Dim, 1536)
	cfg.Embedding.BatchSize = intFromEnvOr("EMBED_BATCH_SIZE", fileCfg.Embedding.BatchSize, 64)

	cfg.Anthropic.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")), fileCfg.Anthropic.APIKey)
	cfg.Anthropic.BaseURL = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")), fileCfg.Anthropic.BaseURL)
	cfg.Anthropic.Model = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), fileCfg.Anthropic.Model)

	cfg.Chunking.CharTarget = intFromEnvOr("CHUNK_CHAR_TARGET", fileCfg.Chunking.CharTarget, 5000)
	cfg.Chunking.CharOverlap = intFromEnvOr("CHUNK_CHAR_OVERLAP", fileCfg.Chunking.CharOverlap, 800)

	cfg.Rerank.Enabled = boolFromEnvOr("RERANK_ENABLED", fileCfg.Rerank.Enabled, true)
	cfg.Rerank.Candidates = intFromEnvOr("RERANK_CANDIDATES", fileCfg.Rerank.Candidates, 30)
	cfg.Rerank.SnippetChars = intFromEnvOr("RERANK_SNIPPET_CHARS", fileCfg.Rerank.SnippetChars, 900)

	cfg.MMR.Enabled = boolFromEnvOr("MMR_ENABLED", fileCfg.MMR.Enabled, true)
	cfg.MMR.Lambda = floatFromEnvOr("MMR_LAMBDA", fileCfg.MMR.Lambda, 0.7)
	cfg.MMR.Candidates = intFromEnvOr("MMR_CANDIDATES", fileCfg.MMR.Candidates, 30)

	cfg.MaxChunksPerQuery = intFromEnvOr("MAX_CHUNKS_PER_QUERY", fileCfg.MaxChunksPerQuery, 8)
	cfg.PerSourceRetrievalLimit = intFromEnvOr("PER_SOURCE_RETRIEVAL_LIMIT", fileCfg.PerSourceRetrievalLimit, 0)

	cfg.Extract.MaxPDFBytes = int64FromEnv("MAX_PDF_BYTES", firstNonZero64(fileCfg.Extract.MaxPDFBytes, 25_000_000))
	cfg.Extract.MaxPDFPages = intFromEnvOr("MAX_PDF_PAGES", fileCfg.Extract.MaxPDFPages, 300)
	cfg.Extract.MaxURLBytes = int64FromEnv("MAX_URL_BYTES", firstNonZero64(fileCfg.Extract.MaxURLBytes, 2_000_000))
	cfg.Extract.MaxTextBytes = int64FromEnv("MAX_TEXT_BYTES", firstNonZero64(fileCfg.Extract.MaxTextBytes, 2_000_000))
	if v := strings.TrimSpace(os.Getenv("URL_ALLOWLIST")); v != "" {
		cfg.Extract.URLAllowlist = parseCommaSeparatedList(v)
	} else if len(fileCfg.Extract.URLAllowlist) > 0 {
		cfg.Extract.URLAllowlist = fileCfg.Extract.URLAllowlist
	}

	cfg.Queue.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("QUEUE_BACKEND")), fileCfg.Queue.Backend, "memory")
	cfg.Queue.KafkaBrokers = firstNonEmpty(os.Getenv("KAFKA_BROKERS"), fileCfg.Queue.KafkaBrokers, "localhost:9092")
	cfg.Queue.KafkaTopic = firstNonEmpty(os.Getenv("KAFKA_INGEST_TOPIC"), fileCfg.Queue.KafkaTopic, "groundedqa.ingest")

	cfg.RateLimit.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("RATE_LIMIT_BACKEND")), fileCfg.RateLimit.Backend, "internal")
	cfg.RateLimit.RedisAddr = firstNonEmpty(os.Getenv("RATE_LIMIT_REDIS_ADDR"), os.Getenv("REDIS_ADDR"), fileCfg.RateLimit.RedisAddr)
	cfg.RateLimit.RatePerSec = floatFromEnvOr("RATE_LIMIT_PER_SEC", fileCfg.RateLimit.RatePerSec, 10)
	cfg.RateLimit.Burst = intFromEnvOr("RATE_LIMIT_BURST", fileCfg.RateLimit.Burst, 20)

	cfg.Idempotency.RedisAddr = firstNonEmpty(os.Getenv("IDEMPOTENCY_REDIS_ADDR"), os.Getenv("REDIS_ADDR"), fileCfg.Idempotency.RedisAddr)
	cfg.Idempotency.TTL = durationFromEnvOr("IDEMPOTENCY_TTL", fileCfg.Idempotency.TTL, 24*time.Hour)

	cfg.Analytics.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("ANALYTICS_BACKEND")), fileCfg.Analytics.Backend, "none")
	cfg.Analytics.ClickHouseDSN = firstNonEmpty(strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")), fileCfg.Analytics.ClickHouseDSN)

	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), fileCfg.Obs.ServiceName, "groundedqa")
	cfg.Obs.OTLPEndpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("OTLP_ENDPOINT")), fileCfg.Obs.OTLPEndpoint)
	cfg.Obs.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), fileCfg.Obs.LogLevel, "info")

	cfg.Worker.Concurrency = intFromEnvOr("WORKER_CONCURRENCY", fileCfg.Worker.Concurrency, 4)
	cfg.Worker.PrefetchMultiplier = intFromEnvOr("WORKER_PREFETCH_MULTIPLIER", fileCfg.Worker.PrefetchMultiplier, 4)
	cfg.Worker.MaxTasksPerChild = intFromEnvOr("WORKER_MAX_TASKS_PER_CHILD", fileCfg.Worker.MaxTasksPerChild, 1000)
	cfg.Worker.VisibilityTimeout = durationFromEnvOr("WORKER_VISIBILITY_TIMEOUT", fileCfg.Worker.VisibilityTimeout, 2*time.Minute)
	cfg.Worker.TaskSoftTimeLimit = durationFromEnvOr("WORKER_TASK_SOFT_TIME_LIMIT", fileCfg.Worker.TaskSoftTimeLimit, 4*time.Minute)
	cfg.Worker.TaskTimeLimit = durationFromEnvOr("WORKER_TASK_TIME_LIMIT", fileCfg.Worker.TaskTimeLimit, 5*time.Minute)

	cfg.Debug = boolFromEnvOr("DEBUG", fileCfg.Debug, false)

	if cfg.Embedding.Dim <= 0 {
		return Config{}, fmt.Errorf("EMBED_DIM must be positive, got %d", cfg.Embedding.Dim)
	}
	return cfg, nil
}

// loadYAMLFile reads an optional YAML config file (CONFIG_FILE env var, else
// config.yaml or config.yml in the working directory) into a Config used as
// a second-tier default below environment variables.
func loadYAMLFile() (Config, error) {
	var paths []string
	if p := strings.TrimSpace(os.Getenv("CONFIG_FILE")); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "config.yaml", "config.yml")

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("read %s: %w", p, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", p, err)
		}
		return fileCfg, nil
	}
	return Config{}, nil
}

func defaultBackend(defaultDSN string) string {
	if defaultDSN != "" {
		return "postgres"
	}
	return "memory"
}

func int64FromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnvOr(key string, fileVal, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	if fileVal {
		return true
	}
	return def
}

func intFromEnvOr(key string, fileVal, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := parseInt(v); err == nil {
			return n
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func floatFromEnvOr(key string, fileVal, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := parseFloat(v); err == nil {
			return f
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func durationFromEnvOr(key string, fileVal, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if fileVal != 0 {
		return fileVal
	}
	return def
}

func firstNonZero64(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
