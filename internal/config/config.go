// groundedqa/config.go

package config

import "time"

// HTTPConfig controls the API tier's listen address and auth.
type HTTPConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
}

// StorageConfig controls where source bytes live.
type StorageConfig struct {
	Backend string   `yaml:"backend"` // local|s3
	Root    string   `yaml:"root"`    // STORAGE_ROOT for the local backend
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	Prefix                string      `yaml:"prefix"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// S3SSEConfig configures server-side encryption for S3 object storage.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"`
	KMSKeyID string `yaml:"kms_key_id"`
}

// DBBackendConfig names a backend and its DSN for one store concern.
type DBBackendConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// DatabaseConfig wires up the search/vector/source/chunk/query/answer store
// backends. A single Postgres DSN commonly backs all of them.
type DatabaseConfig struct {
	DefaultDSN string          `yaml:"default_dsn"`
	Search     DBBackendConfig `yaml:"search"`
	Vector     DBBackendConfig `yaml:"vector"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding client.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dim       int    `yaml:"dim"`
	BatchSize int    `yaml:"batch_size"`
}

// AnthropicConfig configures the Anthropic chat-only provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ChunkingConfig mirrors internal/rag/chunker.Options.
type ChunkingConfig struct {
	CharTarget  int `yaml:"char_target"`
	CharOverlap int `yaml:"char_overlap"`
}

// RerankConfig controls internal/rag/rerank's deterministic reranker.
type RerankConfig struct {
	Enabled      bool `yaml:"enabled"`
	Candidates   int  `yaml:"candidates"`
	SnippetChars int  `yaml:"snippet_chars"`
}

// MMRConfig controls internal/rag/diversify's diversifier.
type MMRConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Lambda     float64 `yaml:"lambda"`
	Candidates int     `yaml:"candidates"`
}

// ExtractLimits bounds the extract stage's inputs per source type.
type ExtractLimits struct {
	MaxPDFBytes  int64    `yaml:"max_pdf_bytes"`
	MaxPDFPages  int      `yaml:"max_pdf_pages"`
	MaxURLBytes  int64    `yaml:"max_url_bytes"`
	MaxTextBytes int64    `yaml:"max_text_bytes"`
	URLAllowlist []string `yaml:"url_allowlist"`
}

// QueueConfig selects the ingestion task transport.
type QueueConfig struct {
	Backend      string `yaml:"backend"` // memory|kafka
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
}

// RateLimitConfig selects the request-rate limiter backend.
type RateLimitConfig struct {
	Backend    string  `yaml:"backend"` // internal|external
	RedisAddr  string  `yaml:"redis_addr"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// IdempotencyConfig configures the Redis-backed idempotency-key lock.
type IdempotencyConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// AnalyticsConfig selects the ingestion-stage timing sink.
type AnalyticsConfig struct {
	Backend       string `yaml:"backend"` // none|clickhouse
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// ObservabilityConfig controls tracing/log export.
type ObservabilityConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level"`
}

// WorkerConfig controls the ingestion worker tier.
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	PrefetchMultiplier int           `yaml:"prefetch_multiplier"`
	MaxTasksPerChild   int           `yaml:"max_tasks_per_child"`
	VisibilityTimeout  time.Duration `yaml:"visibility_timeout"`
	TaskSoftTimeLimit  time.Duration `yaml:"task_soft_time_limit"`
	TaskTimeLimit      time.Duration `yaml:"task_time_limit"`
}

// Config is the fully-resolved runtime configuration for both the API
// server and worker entrypoints.
type Config struct {
	HTTP       HTTPConfig      `yaml:"http"`
	Storage    StorageConfig   `yaml:"storage"`
	Database   DatabaseConfig  `yaml:"database"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
	ChatModel  string          `yaml:"chat_model"`
	AIProvider string          `yaml:"ai_provider"` // fake|real|anthropic
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Rerank     RerankConfig    `yaml:"rerank"`
	MMR        MMRConfig       `yaml:"mmr"`

	MaxChunksPerQuery       int `yaml:"max_chunks_per_query"`
	PerSourceRetrievalLimit int `yaml:"per_source_retrieval_limit"`

	Extract     ExtractLimits       `yaml:"extract"`
	Queue       QueueConfig         `yaml:"queue"`
	RateLimit   RateLimitConfig     `yaml:"rate_limit"`
	Idempotency IdempotencyConfig   `yaml:"idempotency"`
	Analytics   AnalyticsConfig     `yaml:"analytics"`
	Obs         ObservabilityConfig `yaml:"observability"`
	Worker      WorkerConfig        `yaml:"worker"`
	Debug       bool                `yaml:"debug"`
}
