package openai_provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(config.LLMProvider{APIKey: "test", BaseURL: url, MaxRetries: retries})
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("auth header = %q", got)
		}
		_, _ = w.Write([]byte(`{
  "choices": [{"message": {"content": "hello"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3}
}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	text, usage, err := c.ChatCompletion(context.Background(), "model-x", []Message{{Role: "user", Content: "hi"}}, 0.7)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q", text)
	}
	if usage.PromptTokens != 12 || usage.CompletionTokens != 3 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestChatCompletionRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "recovered"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	text, _, err := c.ChatCompletion(context.Background(), "model-x", nil, 0)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("text = %q", text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("server saw %d calls, want 2", calls)
	}
}

func TestChatCompletionDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad model"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	if _, _, err := c.ChatCompletion(context.Background(), "model-x", nil, 0); err == nil {
		t.Fatalf("expected error for 400")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("client error retried: %d calls", calls)
	}
}

func TestCreateEmbeddingOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately out of order; the client must reassemble by index.
		_, _ = w.Write([]byte(`{
  "data": [
    {"index": 1, "embedding": [0, 1]},
    {"index": 0, "embedding": [1, 0]}
  ]
}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	vecs, err := c.CreateEmbedding(context.Background(), "embed-x", []string{"a", "b"})
	if err != nil {
		t.Fatalf("CreateEmbedding: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors not ordered by index: %v", vecs)
	}
}

func TestCreateEmbeddingEmptyInput(t *testing.T) {
	c := newTestClient("http://unused.invalid", 0)
	vecs, err := c.CreateEmbedding(context.Background(), "embed-x", nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input = %v, %v", vecs, err)
	}
}
