package services

import "context"

// AttachmentService condenses player-uploaded text files so they fit the
// turn context budget
type AttachmentService interface {
	// SummarizeAttachment returns either the original content (when small
	// enough) or a chunked summary of it. Filename is used for logging and
	// extension checks only.
	SummarizeAttachment(ctx context.Context, filename, content string) (string, error)
}
