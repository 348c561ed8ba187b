package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tjfontaine/messages-bridge/internal/api/openai"
	"github.com/tjfontaine/messages-bridge/internal/config"
)

func TestRouteClient(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Secondary.BaseURL = upstream.URL + "/openai/deployments/mini"
	route := Resolve(cfg, "claude-3-5-haiku")

	client := route.Client(config.UpstreamConfig{RequestTimeout: 5 * time.Second}, upstream.Client(), nil)
	resp, err := client.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{
		Model:    route.Model,
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: openai.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error = %v", err)
	}
	if resp.ID != "chatcmpl-1" {
		t.Errorf("ID = %q, want chatcmpl-1", resp.ID)
	}
	if gotPath != "/openai/deployments/mini/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "2024-06-01" {
		t.Errorf("api-version = %q, want 2024-06-01", gotQuery)
	}
	if gotKey != "sk-small" {
		t.Errorf("api-key = %q, want sk-small", gotKey)
	}
}
