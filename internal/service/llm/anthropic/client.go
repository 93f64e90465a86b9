// Package anthropic adapts the Claude Messages API to the narrator and
// text-completion ports.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"fabula/internal/domain/ports"
)

// Defaults for the narrator call. The original tuning: creative
// temperature, enough output budget for narration plus the structured
// keys around it.
const (
	defaultModel    = "claude-haiku-4-5-20251001"
	turnMaxTokens   = 2048
	turnTemperature = 0.8
)

// Provider implements ports.LLMPort and ports.TextCompletionPort against
// the Anthropic API.
type Provider struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewProvider creates an Anthropic-backed provider with the given API key.
func NewProvider(apiKey, model string, logger *slog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{
		client: &client,
		model:  model,
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// CompleteTurn runs one narrator call: the turn context is rendered into
// a system+user prompt pair, the raw text comes back, and the structured
// output is extracted leniently. The call holds no locks; the engine's
// lease is the only thing bounding it.
func (p *Provider) CompleteTurn(ctx context.Context, turnCtx *ports.TurnContext) (*ports.LLMTurnOutput, error) {
	systemPrompt, userPrompt := BuildTurnPrompt(turnCtx)

	text, err := p.complete(ctx, systemPrompt, userPrompt, turnMaxTokens, turnTemperature)
	if err != nil {
		return nil, err
	}

	output, err := ParseTurnOutput(text)
	if err != nil {
		return nil, fmt.Errorf("parse narrator output: %w", err)
	}
	return output, nil
}

// Complete satisfies ports.TextCompletionPort: plain system+user text in,
// text out. Used by the attachment summarizer.
func (p *Provider) Complete(ctx context.Context, systemPrompt, prompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = turnMaxTokens
	}
	return p.complete(ctx, systemPrompt, prompt, maxTokens, temperature)
}

func (p *Provider) complete(ctx context.Context, systemPrompt, prompt string, maxTokens int, temperature float64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		}
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	text := sb.String()

	p.logger.Debug("anthropic completion",
		"model", string(message.Model),
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens,
		"stop_reason", string(message.StopReason),
	)

	return text, nil
}
