// Package main 系统初始化入口：建表、建集合、建约束
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"recall-ai-api/internal/config"
	"recall-ai-api/internal/infrastructure/persistence/milvus"
	"recall-ai-api/internal/infrastructure/persistence/neo4j"
	"recall-ai-api/internal/infrastructure/persistence/postgres"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. PostgreSQL：摄取状态表
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to init postgres: %v", err)
	}
	defer func() { _ = pgClient.Close() }()

	statusRepo := postgres.NewStatusRepository(pgClient)
	if err := statusRepo.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate status tables: %v", err)
	}
	fmt.Println("Postgres status tables ready")

	// 3. Milvus：memory_chunks 集合与 HNSW 索引
	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		log.Fatalf("failed to init milvus: %v", err)
	}
	defer func() { _ = milvusClient.Close() }()

	vectorRepo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	if err := vectorRepo.EnsureMemoryChunksCollection(ctx); err != nil {
		log.Fatalf("failed to ensure milvus collection: %v", err)
	}
	fmt.Println("Milvus memory_chunks collection ready")

	// 4. Neo4j：唯一性约束
	neo4jClient, err := neo4j.NewClient(ctx, &cfg.Graph.Neo4j)
	if err != nil {
		log.Fatalf("failed to init neo4j: %v", err)
	}
	defer func() { _ = neo4jClient.Close(ctx) }()

	graphRepo := neo4j.NewRepository(neo4jClient)
	if err := graphRepo.EnsureConstraints(ctx); err != nil {
		log.Fatalf("failed to ensure neo4j constraints: %v", err)
	}
	fmt.Println("Neo4j constraints ready")

	fmt.Println("Bootstrap completed successfully")
}
