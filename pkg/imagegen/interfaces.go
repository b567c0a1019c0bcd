// Package imagegen provides the OpenAI image generation/edit client.
package imagegen

import "context"

// GenerateOptions control a single generation or edit call.
type GenerateOptions struct {
	Size    string // e.g. "1024x1024"
	Quality string // e.g. "medium"; ignored by edit calls
}

// ImageService defines the external image capability consumed by the
// generation service. Use this interface for dependency injection to
// enable mocking in tests.
type ImageService interface {
	// Generate produces image bytes (PNG) from a text prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]byte, error)

	// Edit produces image bytes (PNG) by editing baseImage according to
	// the prompt.
	Edit(ctx context.Context, baseImage []byte, prompt string, opts GenerateOptions) ([]byte, error)
}

// Ensure Client implements ImageService at compile time.
var _ ImageService = (*Client)(nil)
