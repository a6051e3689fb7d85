// Package config loads the process configuration from the environment, with
// an optional .env file for development. Every knob has a default so a bare
// environment still yields a runnable (if provider-less) server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Role selects which subsystems a process runs.
type Role string

const (
	// RoleCoordinator runs the scheduler loop and the HTTP API.
	RoleCoordinator Role = "coordinator"
	// RoleWorker runs task handlers and the worker execute endpoint.
	RoleWorker Role = "worker"
	// RoleHybrid runs both. Only one hybrid or coordinator process may serve a
	// given queue instance.
	RoleHybrid Role = "hybrid"
)

// ProviderDefaults carries the per-provider-type fallbacks used when a user
// credential omits a model or base URL.
type ProviderDefaults struct {
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	RerankModel    string
}

// Config is the full process configuration.
type Config struct {
	// HTTP
	Host        string
	Port        int
	PublicURL   string
	CORSOrigins []string
	MaxUploadMB int64

	// Auth
	JWTSecret     string
	JWTExpiry     time.Duration
	CredentialKey string // 32-byte hex key for AES-GCM credential sealing

	// Stores
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	// Blob store (S3-compatible)
	BlobEndpoint  string
	BlobRegion    string
	BlobBucket    string
	BlobAccessKey string
	BlobSecretKey string
	BlobPublicURL string

	// Node identity for the distributed queue
	NodeID   string
	NodeRole Role
	NodeHost string
	NodePort int
	Region   string

	// Worker pool
	IngestWorkers int

	// Embeddings
	EmbeddingDim int

	// Web search engine for the agent's web_search tool
	SearchEngine  string // tavily | bocha; empty disables web search
	SearchAPIKey  string
	SearchBaseURL string

	// Provider defaults keyed by provider type (openai, siliconflow, zhipu,
	// modelscope, anthropic, custom).
	Providers map[string]ProviderDefaults

	// Achievements seed file (YAML). Empty disables seeding.
	AchievementsPath string

	Debug bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:          envStr("ATHENEUM_HOST", "0.0.0.0"),
		Port:          envInt("ATHENEUM_PORT", 8080),
		PublicURL:     envStr("ATHENEUM_PUBLIC_URL", "http://localhost:8080"),
		CORSOrigins:   splitNonEmpty(envStr("ATHENEUM_CORS_ORIGINS", "*")),
		MaxUploadMB:   int64(envInt("ATHENEUM_MAX_UPLOAD_MB", 50)),
		JWTSecret:     envStr("ATHENEUM_JWT_SECRET", ""),
		JWTExpiry:     time.Duration(envInt("ATHENEUM_JWT_EXPIRY_MINUTES", 60*24)) * time.Minute,
		CredentialKey: envStr("ATHENEUM_CREDENTIAL_KEY", ""),
		DatabaseURL:   envStr("DATABASE_URL", "postgres://localhost:5432/atheneum"),
		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisDB:       envInt("REDIS_DB", 0),
		BlobEndpoint:  envStr("BLOB_ENDPOINT", ""),
		BlobRegion:    envStr("BLOB_REGION", "us-east-1"),
		BlobBucket:    envStr("BLOB_BUCKET", "atheneum"),
		BlobAccessKey: envStr("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: envStr("BLOB_SECRET_KEY", ""),
		BlobPublicURL: envStr("BLOB_PUBLIC_URL", ""),
		NodeID:        envStr("NODE_ID", ""),
		NodeRole:      Role(envStr("NODE_ROLE", string(RoleHybrid))),
		NodeHost:      envStr("NODE_HOST", "localhost"),
		NodePort:      envInt("NODE_PORT", 8080),
		Region:        envStr("NODE_REGION", "default"),
		IngestWorkers: envInt("INGEST_WORKERS", 4),
		EmbeddingDim:  envInt("EMBEDDING_DIM", 1024),
		SearchEngine:  envStr("SEARCH_ENGINE", ""),
		SearchAPIKey:  envStr("SEARCH_API_KEY", ""),
		SearchBaseURL: envStr("SEARCH_BASE_URL", ""),

		AchievementsPath: envStr("ACHIEVEMENTS_PATH", ""),
		Debug:            envBool("ATHENEUM_DEBUG", false),
	}

	cfg.Providers = map[string]ProviderDefaults{
		"openai": {
			BaseURL:        envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ChatModel:      envStr("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: envStr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		"siliconflow": {
			BaseURL:        envStr("SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1"),
			ChatModel:      envStr("SILICONFLOW_CHAT_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
			EmbeddingModel: envStr("SILICONFLOW_EMBEDDING_MODEL", "BAAI/bge-m3"),
			RerankModel:    envStr("SILICONFLOW_RERANK_MODEL", "BAAI/bge-reranker-v2-m3"),
		},
		"zhipu": {
			BaseURL:   envStr("ZHIPU_BASE_URL", "https://open.bigmodel.cn/api/paas/v4"),
			ChatModel: envStr("ZHIPU_CHAT_MODEL", "glm-4-flash"),
		},
		"modelscope": {
			BaseURL:   envStr("MODELSCOPE_BASE_URL", "https://api-inference.modelscope.cn/v1"),
			ChatModel: envStr("MODELSCOPE_CHAT_MODEL", "Qwen/Qwen2.5-72B-Instruct"),
		},
		"anthropic": {
			ChatModel: envStr("ANTHROPIC_CHAT_MODEL", "claude-sonnet-4-20250514"),
		},
		"custom": {},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.NodeRole {
	case RoleCoordinator, RoleWorker, RoleHybrid:
	default:
		return fmt.Errorf("config: invalid NODE_ROLE %q", c.NodeRole)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("config: ATHENEUM_MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// DefaultsFor returns the provider defaults for the given provider type.
// Unknown types fall back to the custom (empty) defaults.
func (c *Config) DefaultsFor(providerType string) ProviderDefaults {
	if d, ok := c.Providers[strings.ToLower(providerType)]; ok {
		return d
	}
	return c.Providers["custom"]
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
