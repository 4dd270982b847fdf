package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	embedopenai "recallweave/internal/adapter/embedding/openai"
	chromemdb "recallweave/internal/db/chromem"
	"recallweave/internal/db/opensearch"
	qdrantdb "recallweave/internal/db/qdrant"
	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/search"
)

// 向量检索后端
const (
	VectorBackendNone       = ""
	VectorBackendOpenSearch = "opensearch"
	VectorBackendQdrant     = "qdrant"
	VectorBackendChromem    = "chromem"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	ServiceName     string                `json:"service_name"`
	LogLevel        string                `json:"log_level"`
	LogFormat       string                `json:"log_format"`
	Server          ServerConfig          `json:"server"`
	Database        DatabaseConfig        `json:"database"`
	Redis           RedisConfig           `json:"redis"`
	Auth            AuthConfig            `json:"auth"`
	OpenSearch      opensearch.Config     `json:"opensearch"`
	Vector          VectorConfig          `json:"vector"`
	Embedding       embedopenai.Config    `json:"embedding"`
	Search          search.Config         `json:"search"`
	Memory          memory.ChainConfig    `json:"memory"`
	Context         contextsearch.Config  `json:"context"`
	Personalization PersonalizationConfig `json:"personalization"`
	Session         SessionConfig         `json:"session"`
	Cache           CacheConfig           `json:"cache"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// DatabaseConfig 用户记忆主存储；URL 为空时只使用缓存兜底
type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// VectorConfig 向量检索后端选择
type VectorConfig struct {
	Backend string           `json:"backend"`
	Qdrant  qdrantdb.Config  `json:"qdrant"`
	Chromem chromemdb.Config `json:"chromem"`
}

type PersonalizationConfig struct {
	Enabled bool `json:"enabled"`
	contextsearch.TermPersonalizerConfig
}

type SessionConfig struct {
	TTLSeconds int    `json:"ttl_seconds"`
	MaxQueries int    `json:"max_queries"`
	KeyPrefix  string `json:"key_prefix"`
}

type CacheConfig struct {
	ResultEnabled    bool `json:"result_enabled"`
	ResultTTLSeconds int  `json:"result_ttl_seconds"`
	MemoryTTLSeconds int  `json:"memory_ttl_seconds"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		ServiceName: "recallweave",
		LogLevel:    "info",
		LogFormat:   "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		OpenSearch: opensearch.Config{
			Index:       "passages",
			TimeoutMs:   2000,
			VectorField: "vector",
		},
		Vector: VectorConfig{
			Backend: VectorBackendOpenSearch,
			Qdrant: qdrantdb.Config{
				Port:       6334,
				Collection: "passages",
			},
			Chromem: chromemdb.Config{
				Collection: "passages",
			},
		},
		Embedding: embedopenai.Config{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Search:  *search.DefaultConfig(),
		Memory:  memory.DefaultChainConfig(),
		Context: contextsearch.DefaultConfig(),
		Personalization: PersonalizationConfig{
			Enabled:                true,
			TermPersonalizerConfig: contextsearch.DefaultTermPersonalizerConfig(),
		},
		Session: SessionConfig{
			TTLSeconds: 24 * 3600,
			MaxQueries: 50,
			KeyPrefix:  "sess:v1",
		},
		Cache: CacheConfig{
			ResultEnabled:    false,
			ResultTTLSeconds: 300,
			MemoryTTLSeconds: 1800,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	// .env 非必需，忽略错误
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("SERVICE_NAME", &c.ServiceName)
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENSEARCH_URL", &c.OpenSearch.URL)
	applyString("OPENSEARCH_USERNAME", &c.OpenSearch.Username)
	applyString("OPENSEARCH_PASSWORD", &c.OpenSearch.Password)
	applyString("OPENSEARCH_INDEX", &c.OpenSearch.Index)
	applyBool("OPENSEARCH_INSECURE_SKIP_VERIFY", &c.OpenSearch.InsecureSkipVerify)

	applyString("VECTOR_BACKEND", &c.Vector.Backend)
	applyString("QDRANT_HOST", &c.Vector.Qdrant.Host)
	applyInt("QDRANT_PORT", &c.Vector.Qdrant.Port)
	applyBool("QDRANT_USE_TLS", &c.Vector.Qdrant.UseTLS)
	applyString("QDRANT_API_KEY", &c.Vector.Qdrant.APIKey)
	applyString("QDRANT_COLLECTION", &c.Vector.Qdrant.Collection)
	applyString("CHROMEM_PATH", &c.Vector.Chromem.Path)
	applyString("CHROMEM_COLLECTION", &c.Vector.Chromem.Collection)

	applyString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	applyString("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	applyString("EMBEDDING_MODEL", &c.Embedding.Model)
	applyInt("EMBEDDING_DIMS", &c.Embedding.Dimensions)

	applyInt("SEARCH_BUDGET_MS", &c.Search.BudgetMs)
	applyInt("SEARCH_ADAPTER_TIMEOUT_MS", &c.Search.AdapterTimeoutMs)
	applyInt("SEARCH_DEFAULT_TOP_K", &c.Search.DefaultTopK)
	applyInt("SEARCH_MAX_TOP_K", &c.Search.MaxTopK)
	applyInt("SEARCH_FETCH_MULTIPLIER", &c.Search.FetchMultiplier)
	if v := os.Getenv("SEARCH_NORMALIZATION"); v != "" {
		c.Search.Normalization = search.Normalization(v)
	}
	applyFloat64("SEARCH_HYBRID_BOOST", &c.Search.HybridBoost)

	applyInt("MEMORY_PRIMARY_TIMEOUT_MS", &c.Memory.PrimaryTimeoutMs)
	applyInt("MEMORY_CACHE_TIMEOUT_MS", &c.Memory.CacheTimeoutMs)
	applyInt("MEMORY_MAX_ITEMS", &c.Memory.MaxItems)

	applyInt("CONTEXT_MEMORY_BUDGET_MS", &c.Context.MemoryBudgetMs)
	applyInt("CONTEXT_SESSION_TIMEOUT_MS", &c.Context.SessionTimeoutMs)

	applyBool("PERSONALIZATION_ENABLED", &c.Personalization.Enabled)
	applyInt("PERSONALIZATION_MAX_TERMS", &c.Personalization.MaxTerms)
	applyFloat64("PERSONALIZATION_WEIGHT", &c.Personalization.Weight)

	applyInt("SESSION_TTL_SECONDS", &c.Session.TTLSeconds)
	applyInt("SESSION_MAX_QUERIES", &c.Session.MaxQueries)

	applyBool("RESULT_CACHE_ENABLED", &c.Cache.ResultEnabled)
	applyInt("RESULT_CACHE_TTL", &c.Cache.ResultTTLSeconds)
	applyInt("MEMORY_CACHE_TTL", &c.Cache.MemoryTTLSeconds)
}

func (c *AppConfig) normalize() {
	c.Vector.Backend = strings.ToLower(strings.TrimSpace(c.Vector.Backend))
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = 24 * 3600
	}
	if c.Session.MaxQueries <= 0 {
		c.Session.MaxQueries = 50
	}
	c.Search.Normalize()
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	switch c.Vector.Backend {
	case VectorBackendNone, VectorBackendOpenSearch, VectorBackendChromem:
	case VectorBackendQdrant:
		if strings.TrimSpace(c.Vector.Qdrant.Host) == "" {
			return fmt.Errorf("QDRANT_HOST is required when VECTOR_BACKEND=qdrant")
		}
	default:
		return fmt.Errorf("unsupported VECTOR_BACKEND %q", c.Vector.Backend)
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
