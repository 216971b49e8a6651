package repository

import (
	"context"

	"spacegraph/internal/codec"
	"spacegraph/internal/domain"
)

// TraceStore persists applied batches and reads them back in apply order
type TraceStore interface {
	// Record appends one tick's batch. It satisfies core.Recorder.
	Record(ctx context.Context, tick uint64, batch []domain.Incoming) error

	// Records visits every record in (tick, position) order
	Records(ctx context.Context, fn func(codec.TraceRecord) error) error

	// Batches visits every recorded tick with its decoded batch
	Batches(ctx context.Context, fn func(tick uint64, batch []domain.Incoming) error) error

	// Close releases resources
	Close() error
}
