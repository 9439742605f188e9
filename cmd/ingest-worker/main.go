// Package main 记忆摄取执行器入口（ingest-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/config"
	"recall-ai-api/internal/infrastructure/embedding"
	"recall-ai-api/internal/infrastructure/messaging"
	"recall-ai-api/internal/infrastructure/ner"
	"recall-ai-api/internal/infrastructure/persistence/milvus"
	"recall-ai-api/internal/infrastructure/persistence/neo4j"
	"recall-ai-api/internal/infrastructure/persistence/postgres"
	"recall-ai-api/internal/infrastructure/persistence/redis"
	"recall-ai-api/pkg/logger"
	"recall-ai-api/pkg/tracer"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "ingest-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

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

	embedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init embedder", err)
	}
	nerClient := ner.NewClient(&cfg.NER)

	vectorRepo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	vectorStore := milvus.NewChunkStoreAdapter(vectorRepo)
	graphRepo := neo4j.NewRepository(neo4jClient)
	statusRepo := postgres.NewStatusRepository(pgClient)
	queryCache := redis.NewQueryCache(redisClient, cfg.Cache.QueryTTL)

	chunker := ingestion.NewChunker(
		cfg.Ingestion.ChunkSizeWords,
		cfg.Ingestion.ChunkOverlapWords,
		cfg.Ingestion.SentenceLookaheadWords,
	)
	coordinator := ingestion.NewCoordinator(
		chunker,
		embedder,
		nerClient,
		vectorStore,
		graphRepo,
		statusRepo,
		ingestion.Options{
			MaxRetries:       cfg.Ingestion.MaxRetries,
			RetryInitial:     cfg.Ingestion.RetryBackoff.Initial,
			RetryMax:         cfg.Ingestion.RetryBackoff.Max,
			RetryMultiplier:  cfg.Ingestion.RetryBackoff.Multiplier,
			ChunkConcurrency: cfg.Ingestion.ChunkConcurrency,
		},
	)

	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamMemoryIngest,
		Group:         messaging.ConsumerGroupIngestWorker,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  cfg.Messaging.RedisStream.BlockTimeout,
		ClaimInterval: cfg.Messaging.RedisStream.ClaimInterval,
		RetryLimit:    cfg.Messaging.RedisStream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
			Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
			Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
		},
	})

	consumer.RegisterHandler(messaging.TypeMemoryIngest, func(msgCtx context.Context, msg *messaging.Message) error {
		var payload messaging.IngestJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		report, err := coordinator.Ingest(msgCtx, ingestion.IngestInput{
			SourceID:   payload.SourceID,
			UserID:     payload.UserID,
			Text:       payload.Text,
			Language:   payload.Language,
			Tags:       payload.Tags,
			Category:   payload.Category,
			OccurredAt: payload.OccurredAt,
			Shared:     payload.Shared,
		})
		if err != nil {
			return err
		}

		// 写入改变了可检索内容，整体失效查询缓存
		if cacheErr := queryCache.InvalidateQueries(msgCtx); cacheErr != nil {
			logger.Warn(msgCtx, "failed to invalidate query cache", "error", cacheErr)
		}

		logger.Info(msgCtx, "source ingested",
			"source_id", payload.SourceID,
			"total_chunks", report.TotalChunks,
			"indexed", report.Indexed,
			"partial", report.Partial,
			"failed", report.Failed,
		)
		return nil
	})

	consumer.RegisterHandler(messaging.TypeMemoryPurge, func(msgCtx context.Context, msg *messaging.Message) error {
		var payload messaging.PurgeJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		if err := coordinator.Purge(msgCtx, payload.UserID, payload.SourceID); err != nil {
			return err
		}

		if cacheErr := queryCache.InvalidateQueries(msgCtx); cacheErr != nil {
			logger.Warn(msgCtx, "failed to invalidate query cache", "error", cacheErr)
		}

		logger.Info(msgCtx, "source purged", "source_id", payload.SourceID)
		return nil
	})

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	go consumer.MonitorDLQ(ctx, 100)

	log := logger.FromContext(ctx)
	log.Info("ingest-worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ingest-worker shutting down")
	consumer.Stop()
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
