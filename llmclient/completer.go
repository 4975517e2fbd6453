// Package llmclient defines the generic LLM completion capability the
// engine depends on and an OpenAI-backed implementation, following the
// teacher's llm-interface/provider.go convention of a single-method
// Provider interface any backend can satisfy.
package llmclient

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"convomem/model"
)

// Completer is the capability interface the Summarizer and Pipeline
// Orchestrator depend on, so both are testable with deterministic
// in-memory fakes.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// CompleterFunc adapts a plain function into a Completer, mirroring the
// teacher's ProviderFunc convenience wrapper.
type CompleterFunc func(ctx context.Context, systemPrompt, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	return f(ctx, systemPrompt, prompt)
}

// OpenAICompleter calls the chat completion endpoint via go-openai.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter builds a Completer backed by an existing go-openai
// client and model name.
func NewOpenAICompleter(client *openai.Client, model string) *OpenAICompleter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{client: client, model: model}
}

// Complete sends systemPrompt + prompt as a two-message chat completion
// request and returns the first choice's content, translating transport
// failures to KindLLMUnavailable.
func (c *OpenAICompleter) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", model.NewError(model.KindLLMUnavailable, "LLM completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", model.NewError(model.KindLLMUnavailable, "LLM returned no choices", nil)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
