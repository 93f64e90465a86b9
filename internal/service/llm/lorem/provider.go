// Package lorem is the mock narrator: lorem ipsum prose behind the same
// ports as the real provider, so the full turn pipeline runs in dev and
// tests without API keys.
package lorem

import (
	"context"
	"log/slog"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"fabula/internal/domain/ports"
)

// responseDelay simulates provider latency while keeping dev play snappy.
const responseDelay = 250 * time.Millisecond

// Provider generates lorem ipsum narration and completions.
type Provider struct {
	generator *loremgen.Lorem
	logger    *slog.Logger
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider(logger *slog.Logger) *Provider {
	return &Provider{
		generator: loremgen.New(),
		logger:    logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// CompleteTurn fabricates a plausible structured response: a paragraph of
// narration, a summary line, a small XP award and a state echo of the
// action, so every downstream path (patch, summary, progression) sees
// realistic data. Actions mentioning "look" also produce a scene prompt
// to exercise the image pipeline.
func (p *Provider) CompleteTurn(ctx context.Context, turnCtx *ports.TurnContext) (*ports.LLMTurnOutput, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	output := &ports.LLMTurnOutput{
		Narration:     p.generator.Paragraph(3, 5),
		StateUpdate:   map[string]any{"last_event": clipWords(turnCtx.Action, 8)},
		SummaryUpdate: p.generator.Sentence(8, 14),
		XPAwarded:     5,
	}
	if strings.Contains(strings.ToLower(turnCtx.Action), "look") {
		output.SceneImagePrompt = p.generator.Sentence(12, 20)
	}
	return output, nil
}

// Complete generates lorem ipsum text sized to roughly maxTokens.
// Estimate: 1 token ≈ 4 characters.
func (p *Provider) Complete(ctx context.Context, systemPrompt, prompt string, maxTokens int, temperature float64) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}

	targetChars := maxTokens * 4
	if targetChars < 200 {
		targetChars = 200
	}

	var sb strings.Builder
	for sb.Len() < targetChars {
		sb.WriteString(p.generator.Paragraph(3, 5))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *Provider) wait(ctx context.Context) error {
	select {
	case <-time.After(responseDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clipWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:max], " ")
}
