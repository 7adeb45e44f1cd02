// Package selector 通过 OpenAI 兼容的 chat completions 接口选择操作
package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"walkable-city/config"
	"walkable-city/query"

	"golang.org/x/time/rate"
)

// healthTimeout 健康检查不受 SetTimeout 影响
const healthTimeout = 3 * time.Second

// Client 操作选择器客户端
type Client struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	http        *http.Client
	limiter     *rate.Limiter
	cache       Cache
}

// New 创建客户端，cache 可以为 nil
func New(cfg config.SelectorConfig, cache Cache) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        &http.Client{},
		limiter:     rate.NewLimiter(limit, burst),
		cache:       cache,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Select 实现 query.Selector
// 连接失败、超时和非 2xx 状态返回普通错误；回复内容无法解析时返回 query.ErrSelectorMalformed
func (c *Client) Select(ctx context.Context, text string, menu query.Menu) (query.Selection, error) {
	key := cacheKey(menu.Location, text)
	if c.cache != nil {
		if sel, ok := c.cache.Get(ctx, key); ok {
			return sel, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return query.Selection{}, fmt.Errorf("selector rate limit: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(menu)},
			{Role: "user", Content: text},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return query.Selection{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return query.Selection{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return query.Selection{}, fmt.Errorf("selector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return query.Selection{}, fmt.Errorf("selector status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return query.Selection{}, fmt.Errorf("%w: decode response: %v", query.ErrSelectorMalformed, err)
	}
	if len(out.Choices) == 0 {
		return query.Selection{}, fmt.Errorf("%w: empty choices", query.ErrSelectorMalformed)
	}
	sel, err := ParseReply(out.Choices[0].Message.Content)
	if err != nil {
		return query.Selection{}, err
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, sel)
	}
	return sel, nil
}

// ParseReply 解析模型回复: 允许代码块包裹和前后多余文字，取第一个 { 到最后一个 } 之间的 JSON
func ParseReply(content string) (query.Selection, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	first, last := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if first < 0 || last < first {
		return query.Selection{}, fmt.Errorf("%w: no JSON object in reply", query.ErrSelectorMalformed)
	}
	var sel query.Selection
	if err := json.Unmarshal([]byte(s[first:last+1]), &sel); err != nil {
		return query.Selection{}, fmt.Errorf("%w: %v", query.ErrSelectorMalformed, err)
	}
	sel.Name = strings.TrimSpace(sel.Name)
	if sel.Name == "" {
		return query.Selection{}, fmt.Errorf("%w: missing operation name", query.ErrSelectorMalformed)
	}
	if len(sel.Arguments) == 0 {
		sel.Arguments = json.RawMessage("{}")
	}
	return sel, nil
}

// SetTimeout 设置 HTTP 客户端超时，0 表示只依赖 ctx
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.http.Timeout = d
	}
}

// Health GET <baseURL>/health，返回 200 视为在线
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}
