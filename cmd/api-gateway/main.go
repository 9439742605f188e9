// Package main API Gateway 服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/internal/config"
	"recall-ai-api/internal/infrastructure/embedding"
	"recall-ai-api/internal/infrastructure/messaging"
	"recall-ai-api/internal/infrastructure/ner"
	"recall-ai-api/internal/infrastructure/persistence/milvus"
	"recall-ai-api/internal/infrastructure/persistence/neo4j"
	"recall-ai-api/internal/infrastructure/persistence/postgres"
	"recall-ai-api/internal/infrastructure/persistence/redis"
	"recall-ai-api/internal/interfaces/http/handler"
	"recall-ai-api/internal/interfaces/http/router"
	"recall-ai-api/pkg/logger"
	"recall-ai-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting api-gateway",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	// 初始化追踪
	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: Version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// 基础设施客户端
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Fatal(ctx, "failed to init milvus", err)
	}
	defer func() { _ = milvusClient.Close() }()

	neo4jClient, err := neo4j.NewClient(ctx, &cfg.Graph.Neo4j)
	if err != nil {
		logger.Fatal(ctx, "failed to init neo4j", err)
	}
	defer func() { _ = neo4jClient.Close(ctx) }()

	// 存储与消息
	statusRepo := postgres.NewStatusRepository(pgClient)
	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
	rateLimiter := redis.NewRateLimiter(redisClient)
	queryCache := redis.NewQueryCache(redisClient, cfg.Cache.QueryTTL)

	// 检索链路
	embedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init embedder", err)
	}
	nerClient := ner.NewClient(&cfg.NER)

	vectorRepo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	vectorStore := milvus.NewChunkStoreAdapter(vectorRepo)
	graphRepo := neo4j.NewRepository(neo4jClient)

	vectorRetriever := retrieval.NewVectorRetriever(embedder, vectorStore)
	graphRetriever := retrieval.NewGraphRetriever(nerClient, graphRepo, cfg.Retrieval.MaxHops, cfg.Retrieval.HopPenalty)
	aggregator := retrieval.NewAggregator(vectorRetriever, graphRetriever, cfg.Retrieval.BackendTimeout)
	ranker := retrieval.NewRanker(retrieval.RankerOptions{
		SemanticWeight:   cfg.Retrieval.SemanticWeight,
		StructuralWeight: cfg.Retrieval.StructuralWeight,
		RecencyWeight:    cfg.Retrieval.RecencyWeight,
		DiversityBonus:   cfg.Retrieval.DiversityBonus,
		VectorWeight:     cfg.Retrieval.VectorWeight,
		GraphWeight:      cfg.Retrieval.GraphWeight,
		RecencyHalfLife:  cfg.Retrieval.RecencyHalfLife,
	})

	defaultStrategy, err := retrieval.ParseStrategy(cfg.Retrieval.DefaultStrategy, retrieval.StrategyHybrid)
	if err != nil {
		logger.Fatal(ctx, "invalid default retrieval strategy", err)
	}
	engine := retrieval.NewEngine(aggregator, ranker, queryCache, defaultStrategy)

	// 同步摄取链路（sync=true 时走网关内协调器，不经过消息队列）
	chunker := ingestion.NewChunker(
		cfg.Ingestion.ChunkSizeWords,
		cfg.Ingestion.ChunkOverlapWords,
		cfg.Ingestion.SentenceLookaheadWords,
	)
	coordinator := ingestion.NewCoordinator(chunker, embedder, nerClient, vectorStore, graphRepo, statusRepo, ingestion.Options{
		MaxRetries:       cfg.Ingestion.MaxRetries,
		RetryInitial:     cfg.Ingestion.RetryBackoff.Initial,
		RetryMax:         cfg.Ingestion.RetryBackoff.Max,
		RetryMultiplier:  cfg.Ingestion.RetryBackoff.Multiplier,
		ChunkConcurrency: cfg.Ingestion.ChunkConcurrency,
	})

	// HTTP 路由
	r := router.New(cfg, router.Handlers{
		Health: handler.NewHealthHandler(pgClient, redisClient, milvusClient, neo4jClient),
		Memory: handler.NewMemoryHandler(producer, statusRepo, coordinator),
		Query:  handler.NewQueryHandler(engine),
	}, rateLimiter)

	// 创建 HTTP 服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	// 启动服务器
	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
