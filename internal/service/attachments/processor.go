// Package attachments condenses player-uploaded text files until they
// fit the turn context budget. Large files are split on paragraph
// boundaries, summarized in parallel, and condensed again when the
// joined summaries still run over.
package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"fabula/internal/domain"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/services"
)

// Processor implements services.AttachmentService over a plain text
// completion port.
type Processor struct {
	completion ports.TextCompletionPort
	logger     *slog.Logger
}

func NewProcessor(completion ports.TextCompletionPort, logger *slog.Logger) *Processor {
	return &Processor{completion: completion, logger: logger}
}

var _ services.AttachmentService = (*Processor)(nil)

// SummarizeAttachment validates the upload and returns either the
// original text (when one chunk already fits the budget) or a summary.
// An empty result with a nil error means every chunk summary failed; the
// caller proceeds without the attachment.
func (p *Processor) SummarizeAttachment(ctx context.Context, filename, content string) (string, error) {
	if name := strings.ToLower(strings.TrimSpace(filename)); name != "" && !strings.HasSuffix(name, ".txt") {
		return "", fmt.Errorf("unsupported attachment %q, only .txt files are read: %w", filename, domain.ErrValidation)
	}
	if len(content) > MaxAttachmentBytes {
		return "", fmt.Errorf("file too large (%dKB, limit %dKB): %w",
			len(content)/1024, MaxAttachmentBytes/1024, domain.ErrValidation)
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return "", nil
	}
	return p.summarizeLongText(ctx, text)
}

func (p *Processor) summarizeLongText(ctx context.Context, text string) (string, error) {
	totalTokens := estimateTokens(text)
	targetChunkTokens := max(chunkTokens, totalTokens/maxChunks)
	charsPerTok := float64(len(text)) / float64(max(totalTokens, 1))
	chunkCharTarget := int(float64(targetChunkTokens) * charsPerTok)

	chunks := splitParagraphChunks(text, chunkCharTarget)
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) == 1 && estimateTokens(chunks[0]) <= budgetTokens {
		return chunks[0], nil
	}

	p.logger.Info("summarizing attachment",
		"text_len", len(text),
		"total_tokens", totalTokens,
		"chunk_char_target", chunkCharTarget,
		"chunks", len(chunks),
	)

	summaryMaxTokens := min(1500, max(800, targetChunkTokens/4))
	summaries := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, chunk := range chunks {
		g.Go(func() error {
			summaries[i] = p.summarizeChunk(gctx, chunk, summaryMaxTokens)
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		if summary != "" {
			kept = append(kept, summary)
		}
	}
	if len(kept) == 0 {
		p.logger.Error("all chunk summaries failed")
		return "", nil
	}

	joined := strings.Join(kept, "\n\n")
	if estimateTokens(joined) <= budgetTokens {
		return joined, nil
	}

	// Over budget even summarized: condense the oversized summaries down
	// to an even per-slot share, then hard-truncate whatever still spills.
	targetTokensPer := budgetTokens / len(kept)
	targetCharsPer := int(float64(targetTokensPer) * charsPerTok)
	cg, cctx := errgroup.WithContext(ctx)
	cg.SetLimit(maxParallel)
	for i, summary := range kept {
		if estimateTokens(summary) <= targetTokensPer {
			continue
		}
		cg.Go(func() error {
			if condensed := p.condenseSummary(cctx, summary, targetTokensPer, targetCharsPer); condensed != "" {
				kept[i] = condensed
			}
			return nil
		})
	}
	_ = cg.Wait()

	joined = strings.Join(kept, "\n\n")
	if estimateTokens(joined) > budgetTokens {
		maxBytes := int(float64(budgetTokens) * charsPerTok * 0.9)
		joined = truncateWithMarker(joined, maxBytes)
	}
	return joined, nil
}

func (p *Processor) summarizeChunk(ctx context.Context, chunk string, maxTokens int) string {
	system := "Summarise the following text passage for a text-adventure campaign. " +
		"Preserve all character names, plot points, locations, and key events. " +
		"Be detailed but concise. End with the exact line: " + guardToken

	result, err := p.completion.Complete(ctx, system, chunk, maxTokens, 0.3)
	if err != nil {
		p.logger.Warn("chunk summarization failed", "error", err)
		return ""
	}
	result = strings.TrimSpace(result)
	if !strings.Contains(result, guardToken) {
		p.logger.Warn("guard token missing, retrying chunk")
		retry, err := p.completion.Complete(ctx, system, chunk, maxTokens, 0.3)
		if err != nil {
			p.logger.Warn("chunk summarization retry failed", "error", err)
			return ""
		}
		result = strings.TrimSpace(retry)
		if !strings.Contains(result, guardToken) {
			p.logger.Warn("guard token still missing, accepting as-is")
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(result, guardToken, ""))
}

func (p *Processor) condenseSummary(ctx context.Context, summary string, targetTokens, targetChars int) string {
	system := fmt.Sprintf("Condense this summary to roughly %d tokens (~%d characters) "+
		"while preserving all character names, plot points, and locations. End with: %s",
		targetTokens, targetChars, guardToken)

	result, err := p.completion.Complete(ctx, system, summary, targetTokens+50, 0.2)
	if err != nil {
		p.logger.Warn("summary condensation failed", "error", err)
		return ""
	}
	result = strings.TrimSpace(result)
	if !strings.Contains(result, guardToken) {
		p.logger.Warn("guard token missing in condensation, accepting as-is")
	}
	return strings.TrimSpace(strings.ReplaceAll(result, guardToken, ""))
}

// splitParagraphChunks packs paragraphs into chunks of roughly
// chunkCharTarget bytes. A paragraph longer than the target gets its own
// chunk rather than being split mid-sentence.
func splitParagraphChunks(text string, chunkCharTarget int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current []string
	currentLen := 0
	for _, para := range paragraphs {
		if currentLen+len(para)+2 > chunkCharTarget && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = []string{para}
			currentLen = len(para)
		} else {
			current = append(current, para)
			currentLen += len(para) + 2
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

func truncateWithMarker(s string, maxBytes int) string {
	const marker = "... [truncated]"
	if len(s) <= maxBytes || maxBytes <= len(marker) {
		return s
	}
	cut := maxBytes - len(marker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
