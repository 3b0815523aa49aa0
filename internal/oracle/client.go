package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.asi1.ai"
	defaultModel       = "gpt-4"
	defaultTimeout     = 30 * time.Second
	completionsPath    = "/v1/chat/completions"
	maxResponseBytes   = 1 << 20
	defaultTemperature = 0.3
)

// Config 预言机客户端配置
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions 单次调用参数
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
}

type completionRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client 评分预言机 HTTP 客户端（无状态）
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 创建预言机客户端
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	cfg.normalize()
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("oracle base_url is invalid: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

// Complete 发送一次 JSON 模式的对话请求，返回模型输出的 JSON 对象原文
func (c *Client) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload := completionRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	if c.cfg.MaxTokens > 0 && (payload.MaxTokens <= 0 || payload.MaxTokens > c.cfg.MaxTokens) {
		payload.MaxTokens = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		payload.Temperature = c.cfg.Temperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request failed", ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, wrapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope completionResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid completion envelope", ErrSchema)
	}
	if envelope.Error != nil && envelope.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, envelope.Error.Message)
	}
	if len(envelope.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrSchema)
	}
	content := strings.TrimSpace(envelope.Choices[0].Message.Content)
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```json"), "```")
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") || !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("%w: content is not a json object", ErrSchema)
	}
	return json.RawMessage(content), nil
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
