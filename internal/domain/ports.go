package domain

import (
	"context"
)

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// RecordSink receives normalized records produced by long-running
// collectors such as the firehose subscriber.
type RecordSink interface {
	Write(ctx context.Context, records ...Record) error
}

// RecordDeleter removes records deleted at the source. Sinks implement it
// optionally.
type RecordDeleter interface {
	Delete(ctx context.Context, key string) error
}
