package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/imagegen"
	"github.com/pixelsmith-dev/pixelsmith/pkg/logging"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
	"github.com/pixelsmith-dev/pixelsmith/pkg/storage"
)

// GenerateRequest asks for a new image from a text prompt, optionally
// transforming an uploaded base image.
type GenerateRequest struct {
	UserID    string
	Prompt    string
	BaseImage []byte // optional; nil means pure text-to-image
	Size      string
	Quality   string
}

// EditRequest asks for an edit of a prior generation, referenced either
// by history slot (1 = most recent) or by generation id.
type EditRequest struct {
	UserID       string
	Slot         int   // used when > 0
	GenerationID int64 // used when Slot == 0
	Prompt       string
	Size         string
}

// GenerationResult is the outcome of a completed request. Unrecorded is
// set when the artifact was produced but the ledger write failed: the
// image is still usable but will not appear in history, and no quota was
// charged.
type GenerationResult struct {
	Generation *models.Generation // nil when Unrecorded
	Image      []byte
	Quota      *Decision
	Unrecorded bool
}

// GenerationService coordinates the request lifecycle: quota admission,
// the external image call, artifact storage, ledger recording and
// history pruning.
type GenerationService interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error)
	Edit(ctx context.Context, req EditRequest) (*GenerationResult, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.Generation, error)
}

type generationService struct {
	repo     repositories.GenerationRepository
	guard    QuotaGuard
	images   imagegen.ImageService
	store    storage.ArtifactStore
	lineage  LineageService
	notifier Notifier
	limits   config.LimitsConfig
	defaults config.OpenAIConfig

	// sem bounds concurrent upstream calls; everything before and after
	// the call runs unbounded so one slow generation cannot stall other
	// users' quota checks.
	sem    *semaphore.Weighted
	now    func() time.Time
	logger *zap.Logger
}

// NewGenerationService creates the generation orchestrator.
func NewGenerationService(
	repo repositories.GenerationRepository,
	guard QuotaGuard,
	images imagegen.ImageService,
	store storage.ArtifactStore,
	lineage LineageService,
	notifier Notifier,
	limits config.LimitsConfig,
	defaults config.OpenAIConfig,
	logger *zap.Logger,
) GenerationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &generationService{
		repo:     repo,
		guard:    guard,
		images:   images,
		store:    store,
		lineage:  lineage,
		notifier: notifier,
		limits:   limits,
		defaults: defaults,
		sem:      semaphore.NewWeighted(int64(limits.MaxConcurrentGenerations)),
		now:      time.Now,
		logger:   logger.Named("generation"),
	}
}

var _ GenerationService = (*generationService)(nil)

func (s *generationService) Generate(ctx context.Context, req GenerateRequest) (*GenerationResult, error) {
	opts := s.options(req.Size, req.Quality)

	if req.BaseImage == nil {
		return s.run(ctx, req.UserID, req.Prompt, models.SourceTypeBase, nil,
			func(ctx context.Context) ([]byte, error) {
				return s.images.Generate(ctx, req.Prompt, opts)
			})
	}

	base := req.BaseImage
	return s.run(ctx, req.UserID, req.Prompt, models.SourceTypeEditFromUpload, nil,
		func(ctx context.Context) ([]byte, error) {
			return s.images.Edit(ctx, base, req.Prompt, opts)
		})
}

func (s *generationService) Edit(ctx context.Context, req EditRequest) (*GenerationResult, error) {
	// Reference resolution is input validation: it happens before any
	// quota consumption or external call.
	var parent *models.Generation
	var err error
	if req.Slot > 0 {
		parent, err = s.lineage.ResolveBySlot(ctx, req.UserID, req.Slot, s.limits.HistoryPerUser)
	} else {
		parent, err = s.lineage.ResolveByID(ctx, req.UserID, req.GenerationID)
	}
	if err != nil {
		return nil, err
	}

	baseImage, err := s.store.Load(ctx, parent.ImageLocator)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent artifact: %w", err)
	}

	opts := s.options(req.Size, "")
	parentID := parent.ID
	return s.run(ctx, req.UserID, req.Prompt, models.SourceTypeEdit, &parentID,
		func(ctx context.Context) ([]byte, error) {
			return s.images.Edit(ctx, baseImage, req.Prompt, opts)
		})
}

func (s *generationService) ListRecent(ctx context.Context, userID string, limit int) ([]*models.Generation, error) {
	return s.repo.GetRecent(ctx, userID, limit)
}

// run walks the request state machine: quota reservation, the upstream
// call, artifact save, ledger insert and prune. The reservation is
// committed only after the row exists and released on every earlier
// failure, so quota is charged if and only if a row was written.
func (s *generationService) run(
	ctx context.Context,
	userID, prompt string,
	sourceType models.SourceType,
	parentID *int64,
	call func(ctx context.Context) ([]byte, error),
) (*GenerationResult, error) {
	now := s.now()

	decision, err := s.guard.Reserve(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate quota: %w", err)
	}
	if !decision.Allowed {
		s.logger.Info("request denied by usage policy",
			zap.String("user_id", userID),
			zap.String("reason", string(decision.Reason)))
		return nil, &PolicyDeniedError{Decision: decision}
	}

	imageBytes, err := s.generate(ctx, call)
	if err != nil {
		s.abort(ctx, decision)
		classified := imagegen.Classify(err)
		s.notifier.Notify(ctx, fmt.Sprintf("image request for user %s failed: %s",
			userID, logging.SanitizeError(classified)))
		return nil, classified
	}

	// The artifact exists from here on. Recording must run to completion
	// even if the caller has gone away, so the remaining steps ignore
	// cancellation.
	ctx = context.WithoutCancel(ctx)

	locator, err := s.store.Save(ctx, userID, imageBytes)
	if err != nil {
		s.abort(ctx, decision)
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	gen, err := s.repo.Insert(ctx, &models.Generation{
		UserID:             userID,
		Prompt:             prompt,
		ImageLocator:       locator,
		SourceType:         sourceType,
		ParentGenerationID: parentID,
		CostUsd:            s.limits.CostPerImageUsd,
	})
	if err != nil {
		// The one irrecoverable partial failure: the artifact was
		// produced but not recorded. The bytes still go back to the
		// caller, marked unrecorded; no quota is charged.
		s.abort(ctx, decision)
		s.logger.Error("generation completed but ledger write failed",
			zap.String("user_id", userID),
			zap.String("locator", locator),
			zap.Error(err))
		s.notifier.Notify(ctx, fmt.Sprintf("ledger write failed for user %s (artifact %s kept): %s",
			userID, locator, logging.SanitizeError(err)))
		return &GenerationResult{Image: imageBytes, Quota: decision, Unrecorded: true}, nil
	}

	if err := s.guard.Commit(ctx, decision); err != nil {
		s.logger.Warn("failed to commit quota reservation", zap.Error(err))
	}

	if err := s.repo.Prune(ctx, userID, s.limits.HistoryPerUser); err != nil {
		// The row is recorded; a failed sweep just defers pruning to the
		// next insert.
		s.logger.Warn("failed to prune history",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	s.logger.Info("generation recorded",
		zap.String("user_id", userID),
		zap.Int64("generation_id", gen.ID),
		zap.String("source_type", string(sourceType)))

	return &GenerationResult{Generation: gen, Image: imageBytes, Quota: decision}, nil
}

// generate runs the upstream call under the concurrency bound.
func (s *generationService) generate(ctx context.Context, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	return call(ctx)
}

func (s *generationService) abort(ctx context.Context, decision *Decision) {
	if err := s.guard.Release(ctx, decision); err != nil {
		s.logger.Error("failed to release quota reservation", zap.Error(err))
	}
}

func (s *generationService) options(size, quality string) imagegen.GenerateOptions {
	if size == "" {
		size = s.defaults.DefaultSize
	}
	if quality == "" {
		quality = s.defaults.DefaultQuality
	}
	return imagegen.GenerateOptions{Size: size, Quality: quality}
}
