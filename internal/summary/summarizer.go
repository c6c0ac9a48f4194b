// Package summary generates cohort summaries and keeps the cohort summary cache consistent
// under concurrent writers.
package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Summarizer turns release notes into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, title, body string) (string, error)
	// SummarizeStream writes the summary to w as it is produced and returns the full text.
	SummarizeStream(ctx context.Context, title, body string, w io.Writer) (string, error)
}

const systemPrompt = "You summarize software release notes for developers. " +
	"Write a short plain-text overview of the most important changes, breaking changes first. " +
	"Do not invent changes that are not in the notes."

// OpenAI is a Summarizer backed by the OpenAI chat completions API (or any compatible server).
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIOptions configures NewOpenAI.
type OpenAIOptions struct {
	APIKey    string // #nosec G117 -- configuration field, not a hardcoded credential
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAI creates an OpenAI summarizer.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	slog.Info("initializing summarizer", "model", model)
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: opts.MaxTokens,
	}
}

func (o *OpenAI) request(title, body string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: title + "\n\n" + body},
		},
	}
	if o.maxTokens > 0 {
		req.MaxCompletionTokens = o.maxTokens
	}
	return req
}

// Summarize returns the summary in one call.
func (o *OpenAI) Summarize(ctx context.Context, title, body string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(title, body))
	if err != nil {
		return "", fmt.Errorf("summarization request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summarization returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// SummarizeStream streams the summary to w chunk by chunk.
func (o *OpenAI) SummarizeStream(ctx context.Context, title, body string, w io.Writer) (string, error) {
	req := o.request(title, body)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarization stream failed: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("summarization stream interrupted: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if _, err := io.WriteString(w, chunk); err != nil {
			return "", fmt.Errorf("failed to forward summary chunk: %w", err)
		}
	}
	return strings.TrimSpace(full.String()), nil
}
