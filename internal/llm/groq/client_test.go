package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgroSubsidy-Chain/internal/llm"
)

func sampleRequest() llm.Request {
	return llm.Request{
		Event: llm.EventDigest{
			ID:           "evt-1",
			Region:       "North",
			Temperature:  3000,
			Rainfall:     500,
			DroughtAlert: true,
		},
		Outcomes: []llm.PartyOutcome{
			{Party: "0xabc", Eligible: true, Amount: "1.5", Paid: true, Reason: "drought severity"},
			{Party: "0xdef", Skipped: "档案未激活"},
		},
		Knowledge: []llm.KnowledgeCard{{Title: "干旱补贴", Content: "干旱预警区域适用 scheme-001。"}},
	}
}

func TestClientSummarize(t *testing.T) {
	var captured struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  本批次共评估 2 户。  "}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	summary, err := client.Summarize(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary != "本批次共评估 2 户。" {
		t.Fatalf("unexpected summary: %q", summary)
	}

	if captured.Model != defaultModelName {
		t.Fatalf("unexpected model: %q", captured.Model)
	}
	if captured.MaxTokens != defaultMaxTokens {
		t.Fatalf("unexpected max_tokens: %d", captured.MaxTokens)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(captured.Messages))
	}
	userPrompt := captured.Messages[1].Content
	for _, want := range []string{"evt-1", "North", "0xabc", "跳过"} {
		if !strings.Contains(userPrompt, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, userPrompt)
		}
	}
}

func TestClientSummarizeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Summarize(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestFallbackSummaryCounts(t *testing.T) {
	summary := llm.Fallback(sampleRequest())
	for _, want := range []string{"evt-1", "North", "评估 2 户", "符合条件 1 户", "完成拨付 1 笔", "跳过 1 户"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("fallback summary missing %q: %s", want, summary)
		}
	}
}
