// Package llm selects and wires the narrator provider. The engine only
// sees ports.LLMPort and ports.TextCompletionPort; which model sits
// behind them is a deployment concern.
package llm

import (
	"fmt"
	"log/slog"

	"fabula/internal/config"
	"fabula/internal/domain/ports"
	"fabula/internal/service/llm/anthropic"
	"fabula/internal/service/llm/lorem"
)

// SetupProvider builds the configured provider. Both ports are served by
// the same instance: the narrator call and the attachment summarizer
// should hit the same backend.
func SetupProvider(cfg *config.Config, logger *slog.Logger) (ports.LLMPort, ports.TextCompletionPort, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey, cfg.LLMModel, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic provider: %w", err)
		}
		logger.Info("llm provider configured", "provider", "anthropic", "model", cfg.LLMModel)
		return provider, provider, nil

	case "lorem":
		provider := lorem.NewProvider(logger)
		logger.Warn("llm provider configured with mock narrator - set ANTHROPIC_API_KEY for real play",
			"provider", "lorem")
		return provider, provider, nil

	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q (want anthropic or lorem)", cfg.LLMProvider)
	}
}
