// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// IngestJobMessage 记忆摄取任务消息
type IngestJobMessage struct {
	JobID      string   `json:"job_id"`
	UserID     string   `json:"user_id"`
	SourceID   string   `json:"source_id"`
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Category   string   `json:"category,omitempty"`
	OccurredAt int64    `json:"occurred_at,omitempty"`
	Shared     bool     `json:"shared,omitempty"`
}

// PublishIngestJob 发布摄取任务
func (p *Producer) PublishIngestJob(ctx context.Context, job *IngestJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, TypeMemoryIngest, job.UserID, job.SourceID, job)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, StreamMemoryIngest, msg)
}

// PurgeJobMessage 记忆清除任务消息
type PurgeJobMessage struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	SourceID string `json:"source_id"`
}

// PublishPurgeJob 发布清除任务
func (p *Producer) PublishPurgeJob(ctx context.Context, job *PurgeJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, TypeMemoryPurge, job.UserID, job.SourceID, job)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, StreamMemoryIngest, msg)
}
