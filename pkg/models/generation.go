package models

import "time"

// SourceType classifies how a generation was produced.
type SourceType string

const (
	// SourceTypeBase is a pure text-to-image generation with no parent.
	SourceTypeBase SourceType = "base"
	// SourceTypeEditFromUpload is an edit of an image the user uploaded;
	// it has no parent row in the ledger.
	SourceTypeEditFromUpload SourceType = "edit-from-upload"
	// SourceTypeEdit is an edit of a prior generation and carries its
	// parent's id.
	SourceTypeEdit SourceType = "edit"
)

// Generation represents one persisted image-production event. Rows are
// written exactly once, after the artifact bytes have been produced and
// saved, and are never updated afterwards.
type Generation struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	Prompt       string     `json:"prompt"`
	ImageLocator string     `json:"image_locator"`
	SourceType   SourceType `json:"source_type"`

	// ParentGenerationID links an edit to the generation it was derived
	// from. Nil for roots. Pruning does not cascade, so the referenced
	// row may no longer exist; readers must treat a missing parent as a
	// root.
	ParentGenerationID *int64 `json:"parent_generation_id,omitempty"`

	// CostUsd is the fixed per-image cost estimate attributed at insert
	// time, not a measured amount.
	CostUsd float64 `json:"cost_usd"`
}

// IsRoot reports whether this generation starts a lineage chain.
func (g *Generation) IsRoot() bool {
	return g.ParentGenerationID == nil
}
