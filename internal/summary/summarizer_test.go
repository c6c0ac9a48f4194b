package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAI_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Errorf("got %d messages, want 2", len(req.Messages))
		} else if !strings.Contains(req.Messages[1].Content, "next v15 (stable)") {
			t.Errorf("user message = %q, want it to name the cohort", req.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Short summary.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-model"})
	got, err := o.Summarize(context.Background(), "next v15 (stable)", "notes")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "Short summary." {
		t.Errorf("Summarize() = %q, want %q", got, "Short summary.")
	}
}

func TestOpenAI_SummarizeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{APIKey: "nope", BaseURL: srv.URL + "/v1"})
	if _, err := o.Summarize(context.Background(), "t", "b"); err == nil {
		t.Error("expected an error for a rejected API key")
	}
}

func TestOpenAI_SummarizeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Faster ", "builds."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	var out strings.Builder
	got, err := o.SummarizeStream(context.Background(), "t", "b", &out)
	if err != nil {
		t.Fatalf("SummarizeStream() error = %v", err)
	}
	if got != "Faster builds." || out.String() != "Faster builds." {
		t.Errorf("SummarizeStream() = %q, streamed %q, want %q for both", got, out.String(), "Faster builds.")
	}
}
