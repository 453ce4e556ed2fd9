package ports

import (
	"context"
	"time"

	"relaycast/internal/core/domain"
)

// StartCommand carries everything needed to start a stream immediately.
type StartCommand struct {
	SourceKind  domain.SourceKind
	SourceRef   string
	Destination domain.Destination
}

// ScheduleCommand defers a StartCommand to a future window.
type ScheduleCommand struct {
	StartCommand
	Start time.Time
	End   *time.Time
}

// CommandService validates and applies stream lifecycle commands. All
// mutations go through a single serialization point shared with the
// scheduler sweep.
type CommandService interface {
	StartStream(ctx context.Context, cmd StartCommand) (*domain.Stream, error)
	ScheduleStream(ctx context.Context, cmd ScheduleCommand) (*domain.ScheduledStream, error)
	ToggleStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	DeleteStream(ctx context.Context, id domain.StreamID) error
	DeleteScheduled(ctx context.Context, id domain.StreamID) error
	PromoteScheduled(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	ListStreams(ctx context.Context) ([]*domain.Stream, error)
	ListScheduled(ctx context.Context) ([]*domain.ScheduledStream, error)
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

// Transmitter is the external capability that performs the actual media
// relay. Start and Stop may be slow; callers must not hold registry locks
// across them.
type Transmitter interface {
	Start(ctx context.Context, stream *domain.Stream) error
	Stop(ctx context.Context, id domain.StreamID) error
	IsAlive(id domain.StreamID) bool
}

// Publisher pushes state to connected observers. Both methods are
// best-effort and must never block the caller on a slow observer.
type Publisher interface {
	Broadcast(snapshot *domain.Snapshot)
	BroadcastEvent(event domain.Event)
}

// Metrics records engine counters and gauges. Implementations must be safe
// for concurrent use.
type Metrics interface {
	SetStreamCounts(active, paused, scheduled int)
	RecordPromotion()
	RecordPromotionFailure()
	RecordScheduleDropped()
	RecordTransmitterFailure()
	RecordBroadcast()
}

// DownloadService resolves remote file references and materializes them in
// the file store.
type DownloadService interface {
	Download(ctx context.Context, rawURL, customName string) (string, error)
	DeleteFile(ctx context.Context, name string) error
	ListFiles(ctx context.Context) ([]string, error)
}

// StatsService reports host resource usage plus engine entity counts.
type StatsService interface {
	Collect(ctx context.Context) (*domain.ServerStats, error)
}
