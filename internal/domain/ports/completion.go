package ports

import (
	"context"
)

// TextCompletionPort is a plain system+user text completion, used by the
// attachment summarizer. Distinct from LLMPort: no turn context, no
// structured output contract.
type TextCompletionPort interface {
	Complete(ctx context.Context, systemPrompt, prompt string, maxTokens int, temperature float64) (string, error)
}
