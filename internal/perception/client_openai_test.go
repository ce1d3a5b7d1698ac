package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(url string) *OpenAIClient {
	return NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gpt-4o",
		Timeout: 5 * time.Second,
	})
}

func TestChatParsesResponse(t *testing.T) {
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"Proceed with the plan."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "decide"},
		{Role: "user", Content: "go"},
	}, ChatOptions{Temperature: 0.7, MaxTokens: 50})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Proceed with the plan." {
		t.Errorf("Chat = %q", got)
	}
	if gotReq.Temperature != 0.7 || gotReq.MaxTokens != 50 {
		t.Errorf("request tuning = temp %v, max_tokens %d", gotReq.Temperature, gotReq.MaxTokens)
	}
	if gotReq.Stream {
		t.Error("Chat must not request streaming")
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"x","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || attempts != 2 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	c := NewOpenAIClient("")
	if _, err := c.Chat(context.Background(), nil, ChatOptions{}); err == nil {
		t.Error("missing API key should fail fast")
	}
}

func sseHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStreamTextDeltas(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"content":"Wild"}}]}`,
		`{"choices":[{"delta":{"content":"fire"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.Stream(context.Background(), StreamRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, events)
	if len(got) != 3 {
		t.Fatalf("events = %d: %+v", len(got), got)
	}
	if got[0].Delta != "Wild" || got[1].Delta != "fire" {
		t.Errorf("deltas = %q, %q", got[0].Delta, got[1].Delta)
	}
	if got[2].Kind != EventRunCompleted {
		t.Errorf("terminal event = %v, want EventRunCompleted", got[2].Kind)
	}
}

func TestStreamAssemblesSplitToolCall(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"census","arguments":"{\"lat\""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":": 39.5, \"lon\": -105.2}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.Stream(context.Background(), StreamRequest{
		Messages: []Message{{Role: "user", Content: "population?"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, events)
	if len(got) != 1 || got[0].Kind != EventToolCallRequested {
		t.Fatalf("events = %+v, want one EventToolCallRequested", got)
	}
	call := got[0].ToolCalls[0]
	if call.ID != "call_9" || call.Name != "census" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments["lat"] != 39.5 || call.Arguments["lon"] != -105.2 {
		t.Errorf("arguments = %v, fragments not reassembled", call.Arguments)
	}
}

func TestStreamMalformedArgumentsKeptRaw(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"census","arguments":"{not json"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.Stream(context.Background(), StreamRequest{
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, events)
	call := got[0].ToolCalls[0]
	if call.Arguments != nil {
		t.Errorf("Arguments = %v, want nil so the dispatcher reports the parse failure", call.Arguments)
	}
	if call.RawArguments != "{not json" {
		t.Errorf("RawArguments = %q", call.RawArguments)
	}
}

func TestStreamNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.Stream(context.Background(), StreamRequest{}); err == nil {
		t.Error("5xx response should fail Stream up front")
	}
}
