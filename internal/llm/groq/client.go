package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AgroSubsidy-Chain/internal/llm"
)

const (
	defaultBaseURL   = "https://api.groq.com/openai/v1"
	defaultModelName = "llama3-8b-8192"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 200
)

// Config 描述了调用 Groq Chat Completions API 所需的信息。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Client 通过 Groq 的 OpenAI 兼容接口生成批次摘要。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 Groq 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Groq API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Summarize 调用 Groq 生成一段批次摘要。
func (c *Client) Summarize(ctx context.Context, req llm.Request) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 Groq 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 Groq 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("Groq 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 Groq 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("Groq 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("Groq 响应内容为空")
	}
	return content, nil
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
		"max_tokens":  c.maxTokens,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 Groq 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the reporting assistant of an agricultural disaster relief agent. " +
	"Write one short factual paragraph in Chinese summarising the processed batch. " +
	"Mention the event, how many parties were assessed, eligible and paid. " +
	"Never invent amounts or parties that are not in the input."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 灾情事件\n")
	builder.WriteString(fmt.Sprintf("事件: %s | 区域: %s | 温度: %d | 降雨: %d | 干旱: %t | 洪涝: %t\n",
		req.Event.ID, req.Event.Region, req.Event.Temperature, req.Event.Rainfall,
		req.Event.DroughtAlert, req.Event.FloodAlert))

	if len(req.Outcomes) > 0 {
		builder.WriteString("\n## 处理结果\n")
		for idx, outcome := range req.Outcomes {
			if outcome.Skipped != "" {
				builder.WriteString(fmt.Sprintf("[%d] %s: 跳过（%s）\n", idx+1, outcome.Party, truncate(outcome.Skipped)))
				continue
			}
			builder.WriteString(fmt.Sprintf("[%d] %s: 符合=%t 金额=%s 已拨付=%t 模拟=%t 理由=%s\n",
				idx+1, outcome.Party, outcome.Eligible, outcome.Amount,
				outcome.Paid, outcome.Virtual, truncate(outcome.Reason)))
		}
	}

	if len(req.Knowledge) > 0 {
		builder.WriteString("\n## 政策知识\n")
		for idx, card := range req.Knowledge {
			builder.WriteString(fmt.Sprintf("[%d] %s: %s\n",
				idx+1,
				strings.TrimSpace(card.Title),
				truncate(card.Content),
			))
			if idx >= 4 {
				break
			}
		}
	}

	builder.WriteString("\n请基于上述事实输出一段中文摘要。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
