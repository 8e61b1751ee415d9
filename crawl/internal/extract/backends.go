// CLAUDE:SUMMARY LLM backends: Anthropic via llmkit structured output, Gemini via genai JSON responses.
package extract

import (
	"context"
	"fmt"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"google.golang.org/genai"
)

// ModelConfig holds settings shared by backends.
type ModelConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// AnthropicModel calls Claude through llmkit with the record JSON schema.
type AnthropicModel struct {
	cfg    ModelConfig
	prompt func(system, user, schema, apiKey string, settings types.RequestSettings) (*types.AnthropicResponse, error)
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg ModelConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("extract: anthropic: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	return &AnthropicModel{cfg: cfg, prompt: promptWithSettings}, nil
}

func promptWithSettings(system, user, schema, apiKey string, settings types.RequestSettings) (*types.AnthropicResponse, error) {
	return anthropic.PromptWithSettings(system, user, schema, apiKey, settings)
}

// Complete implements Model. llmkit calls are not context-aware, so the
// call runs in its own goroutine and ctx only bounds how long we wait. The
// abandoned call finishes into a buffered channel.
func (m *AnthropicModel) Complete(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		settings := types.RequestSettings{
			Model:       m.cfg.Model,
			MaxTokens:   m.cfg.MaxTokens,
			Temperature: m.cfg.Temperature,
		}
		resp, err := m.prompt(p.System, p.User, p.Schema, m.cfg.APIKey, settings)
		if err != nil {
			ch <- reply{err: fmt.Errorf("anthropic: %w", err)}
			return
		}
		if len(resp.Content) == 0 {
			ch <- reply{err: fmt.Errorf("anthropic: no content in response")}
			return
		}
		ch <- reply{text: resp.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

// GeminiModel calls Gemini through the genai SDK in JSON response mode.
type GeminiModel struct {
	client *genai.Client
	cfg    ModelConfig
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, cfg ModelConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("extract: gemini: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: gemini client: %w", err)
	}
	return &GeminiModel{client: client, cfg: cfg}, nil
}

// Complete implements Model.
func (m *GeminiModel) Complete(ctx context.Context, p Prompt) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
			Temperature:       genai.Ptr(float32(m.cfg.Temperature)),
			MaxOutputTokens:   int32(m.cfg.MaxTokens),
			ResponseMIMEType:  "application/json",
		})
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return text, nil
}

// NewModel builds the backend named by provider ("anthropic" or "gemini").
func NewModel(ctx context.Context, provider string, cfg ModelConfig) (Model, error) {
	switch provider {
	case "anthropic", "":
		m, err := NewAnthropic(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "gemini":
		m, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("extract: unknown provider %q", provider)
	}
}
