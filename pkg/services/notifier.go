package services

import "context"

// Notifier is an optional operator-facing sink for failure detail. It is
// best-effort: implementations swallow their own failures, and its
// absence or failure must never fail the primary request.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

var _ Notifier = (*NopNotifier)(nil)

func (NopNotifier) Notify(ctx context.Context, message string) {}
