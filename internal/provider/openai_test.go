package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

func testConfig() *config.Config { return config.Defaults() }

func completionResponse(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": text}},
		},
	})
	return string(b)
}

func TestOpenAI_Generate(t *testing.T) {
	var gotReq oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionResponse("hello from the model")))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Model:   "small-model",
		Logger:  testLogger(),
	})

	got, err := p.Generate(context.Background(), domain.GenerateRequest{
		System:   "be brief",
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "hello from the model" {
		t.Fatalf("unexpected reply %q", got)
	}

	if gotReq.Model != "small-model" {
		t.Fatalf("expected default model, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %+v", gotReq.Messages)
	}
}

func TestOpenAI_AdvancedModelSelection(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req oaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Write([]byte(completionResponse("ok")))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{
		APIBase:       srv.URL,
		Model:         "small-model",
		AdvancedModel: "big-model",
		Logger:        testLogger(),
	})

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{Advanced: true}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotModel != "big-model" {
		t.Fatalf("expected advanced model, got %q", gotModel)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(completionResponse("recovered")))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})

	got, err := p.Generate(context.Background(), domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("generate should succeed on the third attempt: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("unexpected reply %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestOpenAI_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != int32(maxAttempts) {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, calls.Load())
	}
}

func TestOpenAI_NonRetryableClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{}); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestOpenAI_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"Hel", "lo", "!"}
		for _, c := range chunks {
			b, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
			})
			w.Write([]byte("data: " + string(b) + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})

	out := make(chan string, 8)
	if err := p.GenerateStream(context.Background(), domain.GenerateRequest{}, out); err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got string
	for token := range out {
		got += token
	}
	if got != "Hello!" {
		t.Fatalf("expected assembled stream, got %q", got)
	}
}

func TestFactory_ChainDisabledProvider(t *testing.T) {
	// No enabled providers: the chain is nil and the LLM path is off.
	cfg := testConfig()
	f := NewFactory(cfg, testLogger())

	p, err := f.Chain()
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil provider when nothing is enabled")
	}
}

func TestFactory_CachesInstances(t *testing.T) {
	cfg := testConfig()
	pc := cfg.Providers["openai"]
	pc.Enabled = true
	pc.APIBase = "http://localhost:9"
	cfg.Providers["openai"] = pc

	f := NewFactory(cfg, testLogger())
	a, err := f.Get("openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := f.Get("openai")
	if a != b {
		t.Fatal("expected the cached instance")
	}
}
