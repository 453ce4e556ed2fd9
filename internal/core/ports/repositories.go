package ports

import (
	"context"
	"io"

	"relaycast/internal/core/domain"
)

// Registry is the authoritative store of Stream and ScheduledStream records.
// List methods return records in creation order. Implementations must make
// each method atomic; ordering of whole operations is the command service's
// responsibility.
type Registry interface {
	InsertStream(ctx context.Context, stream *domain.Stream) error
	GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	UpdateStream(ctx context.Context, stream *domain.Stream) error
	RemoveStream(ctx context.Context, id domain.StreamID) error
	ListStreams(ctx context.Context) ([]*domain.Stream, error)

	InsertScheduled(ctx context.Context, stream *domain.ScheduledStream) error
	GetScheduled(ctx context.Context, id domain.StreamID) (*domain.ScheduledStream, error)
	UpdateScheduled(ctx context.Context, stream *domain.ScheduledStream) error
	RemoveScheduled(ctx context.Context, id domain.StreamID) error
	ListScheduled(ctx context.Context) ([]*domain.ScheduledStream, error)
}

// FileStore owns the downloaded source assets. The engine only ever refers to
// files by name; a missing file surfaces as a start-time failure, never as a
// dangling reference.
type FileStore interface {
	Fetch(ctx context.Context, url, name string) error
	Save(ctx context.Context, name string, r io.Reader) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	Path(name string) string
}
