package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/pixelsmith-dev/pixelsmith/pkg/apperrors"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
)

// LineageService resolves "which of my last N images" references into
// concrete ledger rows for edit-on-existing-image flows.
type LineageService interface {
	// ResolveBySlot resolves a 1-based index into the user's recent
	// history (slot 1 is the most recent generation). A slot outside
	// [1, len(history)] returns apperrors.ErrSlotOutOfRange.
	ResolveBySlot(ctx context.Context, userID string, slot, historyLimit int) (*models.Generation, error)

	// ResolveByID resolves a generation id and checks ownership. A
	// missing id and an id owned by another user are the same outcome,
	// apperrors.ErrGenerationNotFound.
	ResolveByID(ctx context.Context, userID string, id int64) (*models.Generation, error)
}

type lineageService struct {
	repo repositories.GenerationRepository
}

// NewLineageService creates a lineage selector over the ledger.
func NewLineageService(repo repositories.GenerationRepository) LineageService {
	return &lineageService{repo: repo}
}

var _ LineageService = (*lineageService)(nil)

func (s *lineageService) ResolveBySlot(ctx context.Context, userID string, slot, historyLimit int) (*models.Generation, error) {
	if slot < 1 {
		return nil, apperrors.ErrSlotOutOfRange
	}

	recent, err := s.repo.GetRecent(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent generations: %w", err)
	}
	if slot > len(recent) {
		return nil, apperrors.ErrSlotOutOfRange
	}

	return recent[slot-1], nil
}

func (s *lineageService) ResolveByID(ctx context.Context, userID string, id int64) (*models.Generation, error) {
	gen, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up generation: %w", err)
	}
	if gen.UserID != userID {
		return nil, apperrors.ErrGenerationNotFound
	}

	return gen, nil
}
