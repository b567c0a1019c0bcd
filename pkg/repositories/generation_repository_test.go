//go:build integration

package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsmith-dev/pixelsmith/pkg/apperrors"
	"github.com/pixelsmith-dev/pixelsmith/pkg/database"
	"github.com/pixelsmith-dev/pixelsmith/pkg/models"
	"github.com/pixelsmith-dev/pixelsmith/pkg/testhelpers"
)

func testRepo(t *testing.T) GenerationRepository {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	return NewGenerationRepository(&database.DB{Pool: testDB.Pool})
}

// cleanupUser removes all rows for the user so tests stay independent on
// the shared container.
func cleanupUser(t *testing.T, userID string) {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	t.Cleanup(func() {
		_, err := testDB.Pool.Exec(context.Background(),
			"DELETE FROM generations WHERE user_id = $1", userID)
		require.NoError(t, err)
	})
}

func insertN(t *testing.T, repo GenerationRepository, userID string, n int) []*models.Generation {
	t.Helper()
	out := make([]*models.Generation, 0, n)
	for i := 0; i < n; i++ {
		gen, err := repo.Insert(context.Background(), &models.Generation{
			UserID:       userID,
			Prompt:       fmt.Sprintf("prompt %d", i),
			ImageLocator: fmt.Sprintf("%s/%d.png", userID, i),
			SourceType:   models.SourceTypeBase,
			CostUsd:      0.04,
		})
		require.NoError(t, err)
		out = append(out, gen)
	}
	return out
}

func TestGenerationRepository_InsertAssignsIDAndTimestamp(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-insert")

	gen, err := repo.Insert(context.Background(), &models.Generation{
		UserID:       "repo-insert",
		Prompt:       "a red barn",
		ImageLocator: "repo-insert/a.png",
		SourceType:   models.SourceTypeBase,
		CostUsd:      0.04,
	})
	require.NoError(t, err)

	assert.Greater(t, gen.ID, int64(0))
	assert.WithinDuration(t, time.Now(), gen.CreatedAt, time.Minute)
	assert.Nil(t, gen.ParentGenerationID)
}

func TestGenerationRepository_InsertChecksParentExists(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-parent")

	parent := insertN(t, repo, "repo-parent", 1)[0]

	child, err := repo.Insert(context.Background(), &models.Generation{
		UserID:             "repo-parent",
		Prompt:             "edit",
		ImageLocator:       "repo-parent/b.png",
		SourceType:         models.SourceTypeEdit,
		ParentGenerationID: &parent.ID,
		CostUsd:            0.04,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *child.ParentGenerationID)

	missing := parent.ID + 100000
	_, err = repo.Insert(context.Background(), &models.Generation{
		UserID:             "repo-parent",
		Prompt:             "edit of nothing",
		ImageLocator:       "repo-parent/c.png",
		SourceType:         models.SourceTypeEdit,
		ParentGenerationID: &missing,
		CostUsd:            0.04,
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerationRepository_GetRecentOrdering(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-order")

	inserted := insertN(t, repo, "repo-order", 5)

	recent, err := repo.GetRecent(context.Background(), "repo-order", 10)
	require.NoError(t, err)
	require.Len(t, recent, 5)

	// Most recent first; identical timestamps fall back to id order.
	for i := 0; i < 5; i++ {
		assert.Equal(t, inserted[4-i].ID, recent[i].ID)
	}

	limited, err := repo.GetRecent(context.Background(), "repo-order", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, inserted[4].ID, limited[0].ID)
}

func TestGenerationRepository_GetByID(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-byid")

	gen := insertN(t, repo, "repo-byid", 1)[0]

	got, err := repo.GetByID(context.Background(), gen.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.ID, got.ID)
	assert.Equal(t, "repo-byid", got.UserID)

	_, err = repo.GetByID(context.Background(), gen.ID+100000)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerationRepository_PruneKeepsNewest(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-prune")
	ctx := context.Background()

	inserted := insertN(t, repo, "repo-prune", 12)

	require.NoError(t, repo.Prune(ctx, "repo-prune", 10))

	recent, err := repo.GetRecent(ctx, "repo-prune", 20)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, inserted[11].ID, recent[0].ID)
	assert.Equal(t, inserted[2].ID, recent[9].ID)

	// Pruning again is a no-op.
	require.NoError(t, repo.Prune(ctx, "repo-prune", 10))
	recent, err = repo.GetRecent(ctx, "repo-prune", 20)
	require.NoError(t, err)
	assert.Len(t, recent, 10)
}

func TestGenerationRepository_PruneLeavesOtherUsersAlone(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-prune-a")
	cleanupUser(t, "repo-prune-b")
	ctx := context.Background()

	insertN(t, repo, "repo-prune-a", 3)
	insertN(t, repo, "repo-prune-b", 3)

	require.NoError(t, repo.Prune(ctx, "repo-prune-a", 1))

	a, err := repo.GetRecent(ctx, "repo-prune-a", 10)
	require.NoError(t, err)
	assert.Len(t, a, 1)

	b, err := repo.GetRecent(ctx, "repo-prune-b", 10)
	require.NoError(t, err)
	assert.Len(t, b, 3)
}

func TestGenerationRepository_PruneMayDangleParents(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-dangle")
	ctx := context.Background()

	parent := insertN(t, repo, "repo-dangle", 1)[0]
	child, err := repo.Insert(ctx, &models.Generation{
		UserID:             "repo-dangle",
		Prompt:             "edit",
		ImageLocator:       "repo-dangle/b.png",
		SourceType:         models.SourceTypeEdit,
		ParentGenerationID: &parent.ID,
		CostUsd:            0.04,
	})
	require.NoError(t, err)

	// Pruning to 1 removes the parent but keeps the child, which still
	// carries the now-dangling reference.
	require.NoError(t, repo.Prune(ctx, "repo-dangle", 1))

	got, err := repo.GetByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ParentGenerationID)
	assert.Equal(t, parent.ID, *got.ParentGenerationID)

	_, err = repo.GetByID(ctx, parent.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerationRepository_RangeCounts(t *testing.T) {
	repo := testRepo(t)
	cleanupUser(t, "repo-range-a")
	cleanupUser(t, "repo-range-b")
	ctx := context.Background()

	insertN(t, repo, "repo-range-a", 2)
	insertN(t, repo, "repo-range-b", 1)

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	n, err := repo.CountInRange(ctx, "repo-range-a", start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Window entirely in the past excludes the rows.
	past, err := repo.CountInRange(ctx, "repo-range-a", start.Add(-2*time.Hour), start)
	require.NoError(t, err)
	assert.Equal(t, 0, past)

	byUser, err := repo.CountByUserInRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, byUser["repo-range-a"])
	assert.Equal(t, 1, byUser["repo-range-b"])

	sum, err := repo.SumCostInRange(ctx, start, end)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum, 0.12-1e-9)
}
