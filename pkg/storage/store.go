// Package storage provides artifact byte storage and attachment fetching.
package storage

import "context"

// ArtifactStore persists produced image bytes. Artifacts are append-only:
// they are created once and never mutated, only orphaned when the ledger
// row referencing them is pruned.
type ArtifactStore interface {
	// Save persists the bytes and returns an opaque locator for them.
	Save(ctx context.Context, userID string, data []byte) (string, error)

	// Load reads back the bytes behind a locator.
	Load(ctx context.Context, locator string) ([]byte, error)
}
