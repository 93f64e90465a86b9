package attachments

// MaxAttachmentBytes rejects uploads before any model call.
const MaxAttachmentBytes = 500_000

// Summarization budget. The usable window is the model context minus the
// prompt overhead around the attachment and the response reserve.
const (
	chunkTokens           = 2_000
	modelCtxTokens        = 200_000
	promptOverheadTokens  = 6_000
	responseReserveTokens = 4_000
	maxParallel           = 4
	maxChunks             = 8

	guardToken = "--COMPLETED SUMMARY--"

	budgetTokens = modelCtxTokens - promptOverheadTokens - responseReserveTokens
)

// estimateTokens approximates the tokenizer at ~4 bytes per token. Only
// budget math depends on it; the provider enforces the real limit.
func estimateTokens(text string) int {
	return len(text) / 4
}
