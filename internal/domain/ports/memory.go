package ports

import (
	"context"
)

// MemoryHit is one semantic-search result over past turns. Only TurnID is
// interpreted by the core (for visibility filtering); the rest passes
// through to the prompt builder.
type MemoryHit struct {
	TurnID  int64   `json:"turn_id"`
	Score   float64 `json:"score"`
	Kind    string  `json:"kind"`
	Content string  `json:"content"`
}

// MemorySearchPort is the external long-term memory over turns. The core
// never stores embeddings itself; after a rewind it asks the port to drop
// entries for deleted turns via DeleteTurnsAfter.
type MemorySearchPort interface {
	Search(ctx context.Context, campaignID, query string, limit int) ([]MemoryHit, error)
	DeleteTurnsAfter(ctx context.Context, campaignID string, afterTurnID int64) error
}
