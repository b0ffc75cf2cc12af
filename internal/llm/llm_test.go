package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/kaiwa/internal/config"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"wrapped api error", fmt.Errorf("call failed: %w", &APIError{StatusCode: 500}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func newTestOpenAIClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	t.Setenv("TEST_MODEL_KEY", "sk-test")
	cfg := &config.ModelConfig{
		BaseURL:        baseURL,
		APIKeyEnv:      "TEST_MODEL_KEY",
		Name:           "test-model",
		TimeoutSeconds: 5,
	}
	c, err := NewOpenAIClient(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"the answer"}}]}`)
	}))
	defer srv.Close()

	c := newTestOpenAIClient(t, srv.URL)
	reply, err := c.Complete(context.Background(), "system", "question")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "the answer" {
		t.Errorf("reply = %q", reply)
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	c := newTestOpenAIClient(t, srv.URL)
	_, err := c.Complete(context.Background(), "system", "question")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "slow down" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if !IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := newTestOpenAIClient(t, srv.URL)
	if _, err := c.Complete(context.Background(), "system", "question"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestMockClient(t *testing.T) {
	m := &MockClient{
		Replies: []string{"first", "second"},
		Errs:    []error{nil, errors.New("boom")},
	}
	reply, err := m.Complete(context.Background(), "sys", "q1")
	if err != nil || reply != "first" {
		t.Fatalf("call 1 = %q, %v", reply, err)
	}
	if _, err := m.Complete(context.Background(), "sys", "q2"); err == nil {
		t.Fatal("call 2 should fail")
	}
	if m.Calls() != 2 {
		t.Errorf("Calls = %d", m.Calls())
	}
	if len(m.Prompts) != 2 || m.Prompts[0] != "q1" {
		t.Errorf("Prompts = %v", m.Prompts)
	}
}
