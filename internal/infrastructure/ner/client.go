// Package ner 提供实体抽取服务客户端
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/config"
	"recall-ai-api/internal/domain/memory"
)

// Client 实体抽取服务 HTTP 客户端
type Client struct {
	endpoint   string
	httpClient *http.Client
}

type extractRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type extractedEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position int    `json:"position"`
}

type extractResponse struct {
	Entities []extractedEntity `json:"entities"`
}

// NewClient 创建实体抽取客户端
func NewClient(cfg *config.NERConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ ingestion.EntityExtractor = (*Client)(nil)

// 抽取服务返回的类型到领域实体类型的映射；未知类型归入 topic
var entityTypes = map[string]memory.EntityType{
	"person":       memory.EntityTypePerson,
	"place":        memory.EntityTypePlace,
	"location":     memory.EntityTypePlace,
	"organization": memory.EntityTypeOrganization,
	"org":          memory.EntityTypeOrganization,
	"topic":        memory.EntityTypeTopic,
	"project":      memory.EntityTypeProject,
}

// Extract 调用抽取服务识别文本中的实体提及
func (c *Client) Extract(ctx context.Context, text, language string) ([]memory.RawMention, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	reqBody, err := json.Marshal(&extractRequest{
		Text:     text,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extract request: %w", err)
	}

	endpoint := strings.TrimRight(c.endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("ner endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ner endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/extract"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create extract request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extract request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("extract request failed: status=%d", httpResp.StatusCode)
	}

	var resp extractResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode extract response: %w", err)
	}

	mentions := make([]memory.RawMention, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		entityType, ok := entityTypes[strings.ToLower(strings.TrimSpace(e.Type))]
		if !ok {
			entityType = memory.EntityTypeTopic
		}
		mentions = append(mentions, memory.RawMention{
			RawName:  e.Name,
			Type:     entityType,
			Position: e.Position,
		})
	}
	return mentions, nil
}
