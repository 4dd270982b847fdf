package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	embedopenai "recallweave/internal/adapter/embedding/openai"
	"recallweave/internal/api"
	chromemdb "recallweave/internal/db/chromem"
	"recallweave/internal/db/opensearch"
	"recallweave/internal/db/postgres"
	qdrantdb "recallweave/internal/db/qdrant"
	redisdb "recallweave/internal/db/redis"
	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/search"
	"recallweave/internal/domain/session"
	"recallweave/internal/platform/config"
	applog "recallweave/internal/platform/log"
	"recallweave/internal/tool"
	contexttool "recallweave/internal/tool/contextsearch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.ServiceName,
	})
	defer applog.Sync()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// 记忆链：PostgreSQL 主服务（可选）+ Redis 快照兜底
	var primary memory.Primary
	if db := initDatabase(cfg); db != nil {
		defer db.Close()
		store := postgres.NewMemoryStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.EnsureTable(ctx); err != nil {
			applog.Warnf("⚠️  Failed to ensure user_memories table: %v", err)
		}
		cancel()
		primary = store
	}
	memCache := redisdb.NewMemoryCache(redisdb.MemoryCacheConfig{
		Client: redisClient,
		TTL:    time.Duration(cfg.Cache.MemoryTTLSeconds) * time.Second,
	})
	chain := memory.NewChain(primary, memCache, cfg.Memory)

	sessionStore := redisdb.NewSessionStore(redisdb.SessionStoreConfig{
		Client:     redisClient,
		KeyPrefix:  cfg.Session.KeyPrefix,
		TTL:        time.Duration(cfg.Session.TTLSeconds) * time.Second,
		MaxQueries: cfg.Session.MaxQueries,
	})
	sessions := session.NewService(sessionStore, chain)
	applog.Infof("✅ Session store ready (ttl: %ds, max_queries: %d)", cfg.Session.TTLSeconds, cfg.Session.MaxQueries)

	vector, keyword := initSearchBackends(cfg)
	searchCfg := cfg.Search
	orchestrator := search.NewOrchestrator(vector, keyword, &searchCfg)
	merger := search.NewMerger(&searchCfg)

	engine := contextsearch.NewEngine(orchestrator, merger, cfg.Context)
	engine.SetSessions(sessions)
	engine.SetMemory(chain)
	if cfg.Personalization.Enabled {
		engine.SetPersonalizer(contextsearch.NewTermPersonalizer(cfg.Personalization.TermPersonalizerConfig))
		applog.Infof("✅ Personalization enabled (max_terms: %d, weight: %.2f)", cfg.Personalization.MaxTerms, cfg.Personalization.Weight)
	}
	if cfg.Cache.ResultEnabled {
		engine.SetCache(redisdb.NewResultCache(redisClient, cfg.Cache.ResultTTLSeconds))
		applog.Infof("✅ Result cache enabled (TTL: %ds)", cfg.Cache.ResultTTLSeconds)
	}

	registry := tool.NewRegistry()
	contexttool.Register(registry, engine, sessions, chain)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, api.Dependencies{
		Searcher: engine,
		Sessions: sessions,
		Memories: chain,
		Tools:    registry,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

func initRedis(cfg *config.AppConfig) *goredis.Client {
	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}

	client := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		applog.Fatalf("❌ Redis connection failed: %v", err)
	}
	applog.Info("✅ Connected to Redis")
	return client
}

// initDatabase DATABASE_URL 未配置或不可达时返回 nil，记忆只走缓存
func initDatabase(cfg *config.AppConfig) *sql.DB {
	if cfg.Database.URL == "" {
		applog.Info("ℹ️  No DATABASE_URL set, memory primary disabled")
		return nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Warnf("⚠️  Failed to open database: %v (memory primary disabled)", err)
		return nil
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		applog.Warnf("⚠️  Failed to ping database: %v (memory primary disabled)", err)
		_ = db.Close()
		return nil
	}
	applog.Info("✅ Connected to PostgreSQL")
	return db
}

// initSearchBackends 返回的 nil 适配器在编排时按 not_configured 处理
func initSearchBackends(cfg *config.AppConfig) (vector, keyword search.Adapter) {
	var embedder search.Embedder
	if cfg.Embedding.APIKey != "" {
		e := embedopenai.NewEmbedder(cfg.Embedding)
		embedder = e
		applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.Embedding.Model, e.Dims())
	}

	var osClient *opensearch.Client
	if cfg.OpenSearch.URL != "" {
		osClient = opensearch.NewClient(cfg.OpenSearch)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := osClient.Ping(ctx)
		cancel()
		if err != nil {
			applog.Warnf("⚠️  OpenSearch ping failed: %v (adapter stays registered)", err)
		} else {
			applog.Info("✅ Connected to OpenSearch")
			dims := 0
			if embedder != nil && cfg.Vector.Backend == config.VectorBackendOpenSearch {
				dims = embedder.Dims()
			}
			if err := osClient.EnsureIndex(context.Background(), dims); err != nil {
				applog.Warnf("⚠️  Failed to ensure OpenSearch index: %v", err)
			}
		}
		keyword = opensearch.NewKeywordAdapter(osClient)
	} else {
		applog.Info("ℹ️  No OPENSEARCH_URL set, keyword search disabled")
	}

	if embedder == nil {
		applog.Info("ℹ️  No embedding provider configured, vector search disabled")
		return nil, keyword
	}

	switch cfg.Vector.Backend {
	case config.VectorBackendOpenSearch:
		if osClient != nil {
			vector = opensearch.NewVectorAdapter(osClient, embedder)
			applog.Info("✅ Vector search via OpenSearch kNN")
		}
	case config.VectorBackendQdrant:
		adapter, err := qdrantdb.NewVectorAdapter(cfg.Vector.Qdrant, embedder)
		if err != nil {
			applog.Warnf("⚠️  Qdrant init failed: %v (vector search disabled)", err)
			break
		}
		vector = adapter
		applog.Infof("✅ Vector search via Qdrant (%s:%d/%s)", cfg.Vector.Qdrant.Host, cfg.Vector.Qdrant.Port, cfg.Vector.Qdrant.Collection)
	case config.VectorBackendChromem:
		adapter, err := chromemdb.NewVectorAdapter(cfg.Vector.Chromem, embedder)
		if err != nil {
			applog.Warnf("⚠️  Chromem init failed: %v (vector search disabled)", err)
			break
		}
		vector = adapter
		applog.Infof("✅ Vector search via chromem (passages: %d)", adapter.Count())
	}
	return vector, keyword
}
