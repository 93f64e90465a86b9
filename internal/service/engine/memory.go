package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fabula/internal/domain"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// memoryService implements the MemoryService interface
type memoryService struct {
	store  *repositories.Store
	memory ports.MemorySearchPort
	logger *slog.Logger
}

// NewMemoryService creates a new memory service. The search port may be
// nil when no long-term memory backend is deployed; searches then return
// nothing.
func NewMemoryService(store *repositories.Store, memory ports.MemorySearchPort, logger *slog.Logger) services.MemoryService {
	return &memoryService{
		store:  store,
		memory: memory,
		logger: logger,
	}
}

// SearchVisible queries the memory port and applies the campaign's
// visibility watermark to the hits.
func (s *memoryService) SearchVisible(ctx context.Context, campaignID, query string, limit int) ([]ports.MemoryHit, error) {
	if s.memory == nil {
		return nil, nil
	}
	hits, err := s.memory.Search(ctx, campaignID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	return s.FilterVisible(ctx, campaignID, hits)
}

// FilterVisible keeps hits at or below the watermark. The watermark only
// moves on turn commit and rewind, so hits referencing rewound turns
// disappear here even before the external index catches up.
func (s *memoryService) FilterVisible(ctx context.Context, campaignID string, hits []ports.MemoryHit) ([]ports.MemoryHit, error) {
	campaign, err := s.store.Campaigns.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.MemoryVisibleMaxTurnID == nil {
		return hits, nil
	}
	watermark := *campaign.MemoryVisibleMaxTurnID
	visible := make([]ports.MemoryHit, 0, len(hits))
	for _, hit := range hits {
		if hit.TurnID <= watermark {
			visible = append(visible, hit)
		}
	}
	return visible, nil
}
