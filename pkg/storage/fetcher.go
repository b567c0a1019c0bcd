package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/retry"
)

// DefaultFetchTimeout is the maximum time to wait for a single attachment
// download attempt.
const DefaultFetchTimeout = 30 * time.Second

// maxAttachmentBytes caps downloads; anything larger than this is not a
// reasonable image upload.
const maxAttachmentBytes = 32 << 20 // 32 MiB

// DownloadFailedError reports a non-success HTTP status from the CDN.
type DownloadFailedError struct {
	StatusCode int
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("attachment download failed with status %d", e.StatusCode)
}

// IsRetryable implements retry.RetryableError: only server-side statuses
// are worth another attempt.
func (e *DownloadFailedError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AttachmentFetcher downloads user-supplied images from a CDN URL before
// editing.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches attachments over HTTP with bounded retries for
// transient failures.
type HTTPFetcher struct {
	httpClient *http.Client
	retryCfg   *retry.Config
	logger     *zap.Logger
}

var _ AttachmentFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an attachment fetcher with default timeout and
// retry policy.
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: DefaultFetchTimeout},
		retryCfg:   retry.DefaultConfig(),
		logger:     logger.Named("fetcher"),
	}
}

// Fetch downloads the attachment bytes from url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := retry.DoWithResult(ctx, f.retryCfg, func() ([]byte, error) {
		return f.fetchOnce(ctx, url)
	})
	if err != nil {
		f.logger.Warn("attachment download failed", zap.Error(err))
		return nil, err
	}
	return data, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attachment request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadFailedError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}

	return data, nil
}
