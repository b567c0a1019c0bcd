package services

import (
	"context"
	"sync"
	"time"

	"github.com/pixelsmith-dev/pixelsmith/pkg/apperrors"
	"github.com/pixelsmith-dev/pixelsmith/pkg/imagegen"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
)

// fakeGenerationRepo is an in-memory GenerationRepository. Error fields
// inject failures for the corresponding call.
type fakeGenerationRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Generation

	insertErr error
	pruneErr  error

	pruneCalls int
}

var _ repositories.GenerationRepository = (*fakeGenerationRepo)(nil)

func newFakeGenerationRepo() *fakeGenerationRepo {
	return &fakeGenerationRepo{nextID: 1}
}

func (f *fakeGenerationRepo) Insert(_ context.Context, gen *models.Generation) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if gen.ParentGenerationID != nil {
		found := false
		for _, r := range f.rows {
			if r.ID == *gen.ParentGenerationID {
				found = true
				break
			}
		}
		if !found {
			return nil, apperrors.ErrNotFound
		}
	}
	stored := *gen
	stored.ID = f.nextID
	f.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	f.rows = append(f.rows, &stored)
	return &stored, nil
}

func (f *fakeGenerationRepo) GetRecent(_ context.Context, userID string, limit int) ([]*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Generation
	for i := len(f.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if f.rows[i].UserID == userID {
			out = append(out, f.rows[i])
		}
	}
	return out, nil
}

func (f *fakeGenerationRepo) GetByID(_ context.Context, id int64) (*models.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeGenerationRepo) Prune(_ context.Context, userID string, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	if f.pruneErr != nil {
		return f.pruneErr
	}
	var kept []*models.Generation
	seen := 0
	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if r.UserID == userID {
			seen++
			if seen > keep {
				continue
			}
		}
		kept = append([]*models.Generation{r}, kept...)
	}
	f.rows = kept
	return nil
}

func (f *fakeGenerationRepo) CountInRange(_ context.Context, userID string, start, end time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if userID != "" && r.UserID != userID {
			continue
		}
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			n++
		}
	}
	return n, nil
}

func (f *fakeGenerationRepo) CountByUserInRange(_ context.Context, start, end time.Time) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, r := range f.rows {
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			out[r.UserID]++
		}
	}
	return out, nil
}

func (f *fakeGenerationRepo) SumCostInRange(_ context.Context, start, end time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0.0
	for _, r := range f.rows {
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			sum += r.CostUsd
		}
	}
	return sum, nil
}

func (f *fakeGenerationRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeImageService returns canned bytes or a canned error.
type fakeImageService struct {
	mu            sync.Mutex
	result        []byte
	err           error
	generateCalls int
	editCalls     int
	lastBase      []byte
	lastPrompt    string
}

var _ imagegen.ImageService = (*fakeImageService)(nil)

func (f *fakeImageService) Generate(_ context.Context, prompt string, _ imagegen.GenerateOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	f.lastPrompt = prompt
	return f.result, f.err
}

func (f *fakeImageService) Edit(_ context.Context, baseImage []byte, prompt string, _ imagegen.GenerateOptions) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCalls++
	f.lastBase = baseImage
	f.lastPrompt = prompt
	return f.result, f.err
}

// fakeArtifactStore keeps artifacts in a map keyed by locator.
type fakeArtifactStore struct {
	mu      sync.Mutex
	saved   map[string][]byte
	nextN   int
	saveErr error
	loadErr error
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{saved: make(map[string][]byte)}
}

func (f *fakeArtifactStore) Save(_ context.Context, userID string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.nextN++
	locator := userID + "/" + string(rune('a'+f.nextN-1)) + ".png"
	f.saved[locator] = data
	return locator, nil
}

func (f *fakeArtifactStore) Load(_ context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	data, ok := f.saved[locator]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return data, nil
}

// fakeQuotaGuard records reservation lifecycle calls.
type fakeQuotaGuard struct {
	mu       sync.Mutex
	decision *Decision
	err      error
	reserves int
	commits  int
	releases int
}

func allowAllGuard() *fakeQuotaGuard {
	return &fakeQuotaGuard{decision: &Decision{Allowed: true, DailyLimit: 5, RemainingToday: 4}}
}

func (f *fakeQuotaGuard) Reserve(_ context.Context, _ string, _ time.Time) (*Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.err != nil {
		return nil, f.err
	}
	d := *f.decision
	return &d, nil
}

func (f *fakeQuotaGuard) Commit(_ context.Context, _ *Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeQuotaGuard) Release(_ context.Context, _ *Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

// fakeNotifier collects notification messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
