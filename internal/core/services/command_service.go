package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
	"relaycast/pkg/errors"
	"relaycast/pkg/utils"

	"go.uber.org/zap"
)

// CommandService validates and applies stream lifecycle commands against the
// registry. Its mutex is the single serialization point shared by inbound
// commands and the scheduler sweep, so no two mutations ever interleave.
// Transmitter start/stop calls run outside the critical section; only the
// resulting state change is committed under the lock.
type CommandService struct {
	registry    ports.Registry
	files       ports.FileStore
	transmitter ports.Transmitter
	publisher   ports.Publisher
	metrics     ports.Metrics

	mu          sync.Mutex
	stopTimeout time.Duration
	now         func() time.Time
	logger      *zap.SugaredLogger
}

var _ ports.CommandService = (*CommandService)(nil)

func NewCommandService(
	registry ports.Registry,
	files ports.FileStore,
	transmitter ports.Transmitter,
	publisher ports.Publisher,
	metrics ports.Metrics,
	stopTimeout time.Duration,
	logger *zap.SugaredLogger,
) *CommandService {
	return &CommandService{
		registry:    registry,
		files:       files,
		transmitter: transmitter,
		publisher:   publisher,
		metrics:     metrics,
		stopTimeout: stopTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// StartStream validates the command, starts the transmitter and only then
// inserts the active record. A failed start never leaves a phantom active
// stream behind.
func (s *CommandService) StartStream(ctx context.Context, cmd ports.StartCommand) (*domain.Stream, error) {
	if err := s.validateStart(ctx, cmd); err != nil {
		return nil, err
	}

	stream := &domain.Stream{
		ID:          domain.StreamID(utils.NewStreamID()),
		SourceKind:  cmd.SourceKind,
		SourceRef:   cmd.SourceRef,
		Destination: cmd.Destination,
		Active:      true,
		CreatedAt:   s.now(),
	}

	if err := s.transmitter.Start(ctx, stream); err != nil {
		s.metrics.RecordTransmitterFailure()
		return nil, errors.NewTransmitterError("failed to start transmission", err)
	}

	s.mu.Lock()
	err := s.registry.InsertStream(ctx, stream)
	s.mu.Unlock()
	if err != nil {
		s.stopTransmitter(ctx, stream.ID)
		return nil, errors.NewInternalError("failed to insert stream", err)
	}

	s.publishSnapshot(ctx)
	return stream, nil
}

// ScheduleStream validates the command and inserts a deferred record. The
// transmitter is not touched until promotion.
func (s *CommandService) ScheduleStream(ctx context.Context, cmd ports.ScheduleCommand) (*domain.ScheduledStream, error) {
	if err := validateCommand(cmd.StartCommand); err != nil {
		return nil, err
	}

	now := s.now()
	if !cmd.Start.After(now) {
		return nil, errors.NewValidationError("schedule_time must be in the future")
	}
	if cmd.End != nil && !cmd.End.After(cmd.Start) {
		return nil, errors.NewValidationError("schedule_end_time must be after schedule_time")
	}

	scheduled := &domain.ScheduledStream{
		ID:             domain.StreamID(utils.NewStreamID()),
		SourceKind:     cmd.SourceKind,
		SourceRef:      cmd.SourceRef,
		Destination:    cmd.Destination,
		ScheduledStart: cmd.Start,
		ScheduledEnd:   cmd.End,
		CreatedAt:      now,
	}

	s.mu.Lock()
	err := s.registry.InsertScheduled(ctx, scheduled)
	s.mu.Unlock()
	if err != nil {
		return nil, errors.NewInternalError("failed to insert scheduled stream", err)
	}

	s.publishSnapshot(ctx)
	return scheduled, nil
}

// ToggleStream flips the active flag. The flip is committed even when the
// transmitter call fails; the transmitter's exit callback reconciles actual
// liveness asynchronously.
func (s *CommandService) ToggleStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	s.mu.Lock()
	stream, err := s.registry.GetStream(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("stream")
	}
	target := !stream.Active
	s.mu.Unlock()

	var callErr error
	if target {
		callErr = s.transmitter.Start(ctx, stream)
	} else {
		callErr = s.stopTransmitter(ctx, id)
	}

	s.mu.Lock()
	stream, err = s.registry.GetStream(ctx, id)
	if err != nil {
		// Deleted while the transmitter call was in flight.
		s.mu.Unlock()
		if target && callErr == nil {
			s.stopTransmitter(ctx, id)
		}
		return nil, errors.NewNotFoundError("stream")
	}
	stream.Active = target
	if err := s.registry.UpdateStream(ctx, stream); err != nil {
		s.mu.Unlock()
		return nil, errors.NewInternalError("failed to update stream", err)
	}
	s.mu.Unlock()

	s.publishSnapshot(ctx)

	if callErr != nil {
		s.metrics.RecordTransmitterFailure()
		s.logger.Warnw("transmitter call failed during toggle", "stream_id", id, "target_active", target, "error", callErr)
		return stream, errors.NewTransmitterError("transmitter did not confirm the toggle", callErr)
	}
	return stream, nil
}

// DeleteStream stops the transmitter if needed and removes the record.
// Deleting an unknown id is a no-op success.
func (s *CommandService) DeleteStream(ctx context.Context, id domain.StreamID) error {
	s.mu.Lock()
	stream, err := s.registry.GetStream(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil
	}
	active := stream.Active
	s.mu.Unlock()

	if active {
		if err := s.stopTransmitter(ctx, id); err != nil {
			s.logger.Warnw("transmitter stop failed during delete, removing record anyway", "stream_id", id, "error", err)
		}
	}

	s.mu.Lock()
	err = s.registry.RemoveStream(ctx, id)
	s.mu.Unlock()
	if err != nil && err != domain.ErrStreamNotFound {
		return errors.NewInternalError("failed to remove stream", err)
	}

	s.publishSnapshot(ctx)
	return nil
}

// DeleteScheduled removes a deferred record before its start time.
func (s *CommandService) DeleteScheduled(ctx context.Context, id domain.StreamID) error {
	s.mu.Lock()
	err := s.registry.RemoveScheduled(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return errors.NewNotFoundError("scheduled stream")
	}

	s.publishSnapshot(ctx)
	return nil
}

// PromoteScheduled converts a deferred record into an active stream through
// the same start path as StartStream. The scheduled record is removed only
// after the transmitter accepted the start.
func (s *CommandService) PromoteScheduled(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	s.mu.Lock()
	scheduled, err := s.registry.GetScheduled(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, errors.NewNotFoundError("scheduled stream")
	}
	s.mu.Unlock()

	// A record whose whole window already passed can never usefully start.
	if scheduled.ScheduledEnd != nil && !scheduled.ScheduledEnd.After(s.now()) {
		return nil, errors.NewScheduleExpiredError("scheduled window has already ended")
	}
	stream := scheduled.Promote(s.now())

	if err := s.validateStart(ctx, ports.StartCommand{
		SourceKind:  stream.SourceKind,
		SourceRef:   stream.SourceRef,
		Destination: stream.Destination,
	}); err != nil {
		return nil, err
	}

	if err := s.transmitter.Start(ctx, stream); err != nil {
		s.metrics.RecordTransmitterFailure()
		return nil, errors.NewTransmitterError("failed to start scheduled transmission", err)
	}

	s.mu.Lock()
	if _, err := s.registry.GetScheduled(ctx, id); err != nil {
		// Deleted while the transmitter start was in flight.
		s.mu.Unlock()
		s.stopTransmitter(ctx, stream.ID)
		return nil, errors.NewNotFoundError("scheduled stream")
	}
	if err := s.registry.InsertStream(ctx, stream); err != nil {
		s.mu.Unlock()
		s.stopTransmitter(ctx, stream.ID)
		return nil, errors.NewInternalError("failed to insert promoted stream", err)
	}
	if err := s.registry.RemoveScheduled(ctx, id); err != nil && err != domain.ErrScheduledNotFound {
		s.logger.Errorw("failed to remove promoted scheduled stream", "stream_id", id, "error", err)
	}
	s.mu.Unlock()

	s.metrics.RecordPromotion()
	s.publishSnapshot(ctx)
	return stream, nil
}

func (s *CommandService) ListStreams(ctx context.Context) ([]*domain.Stream, error) {
	return s.registry.ListStreams(ctx)
}

func (s *CommandService) ListScheduled(ctx context.Context) ([]*domain.ScheduledStream, error) {
	return s.registry.ListScheduled(ctx)
}

// Snapshot assembles the full observable state under the serialization
// point, so observers never see a stream as both scheduled and active.
func (s *CommandService) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx)
}

func (s *CommandService) snapshotLocked(ctx context.Context) (*domain.Snapshot, error) {
	streams, err := s.registry.ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	scheduled, err := s.registry.ListScheduled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled streams: %w", err)
	}
	files, err := s.files.List(ctx)
	if err != nil {
		s.logger.Warnw("failed to list files for snapshot", "error", err)
		files = []string{}
	}
	return &domain.Snapshot{
		Files:            files,
		Streams:          streams,
		ScheduledStreams: scheduled,
	}, nil
}

// HandleTransmitterExit reconciles registry state when a transmitter process
// terminates on its own. The record is marked inactive and retained.
func (s *CommandService) HandleTransmitterExit(id domain.StreamID, exitErr error) {
	ctx := context.Background()

	s.mu.Lock()
	stream, err := s.registry.GetStream(ctx, id)
	if err != nil || !stream.Active {
		s.mu.Unlock()
		return
	}
	stream.Active = false
	if err := s.registry.UpdateStream(ctx, stream); err != nil {
		s.logger.Errorw("failed to mark stream inactive after transmitter exit", "stream_id", id, "error", err)
	}
	s.mu.Unlock()

	if exitErr != nil {
		s.metrics.RecordTransmitterFailure()
		s.publisher.BroadcastEvent(domain.Event{
			Level:    "error",
			Message:  fmt.Sprintf("transmission ended unexpectedly: %v", exitErr),
			StreamID: id,
			Time:     s.now(),
		})
	}
	s.publishSnapshot(ctx)
}

func (s *CommandService) validateStart(ctx context.Context, cmd ports.StartCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	if cmd.SourceKind == domain.SourceFile {
		ok, err := s.files.Exists(ctx, cmd.SourceRef)
		if err != nil {
			return errors.NewInternalError("failed to check source file", err)
		}
		if !ok {
			return errors.NewValidationError(fmt.Sprintf("file %q is not downloaded", cmd.SourceRef))
		}
	}
	return nil
}

// validateCommand checks the source/destination fields shared by start and
// schedule commands.
func validateCommand(cmd ports.StartCommand) error {
	switch cmd.SourceKind {
	case domain.SourceFile:
		if cmd.SourceRef == "" {
			return errors.NewValidationError("file is required for file streams")
		}
	case domain.SourceDevice:
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown source %q", cmd.SourceKind))
	}

	if cmd.Destination.Credential == "" {
		return errors.NewValidationError("stream key is required")
	}

	switch cmd.Destination.Platform {
	case domain.PlatformYouTube, domain.PlatformFacebook:
	case domain.PlatformCustom:
		if cmd.Destination.CustomEndpoint == "" {
			return errors.NewValidationError("custom RTMP URL is required for custom platform")
		}
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown platform %q", cmd.Destination.Platform))
	}
	return nil
}

// stopTransmitter requests a stop with a bounded timeout so a stuck external
// process can never wedge the registry.
func (s *CommandService) stopTransmitter(ctx context.Context, id domain.StreamID) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stopTimeout)
	defer cancel()

	if err := s.transmitter.Stop(stopCtx, id); err != nil {
		s.logger.Warnw("transmitter stop did not complete, possible orphaned process", "stream_id", id, "error", err)
		return err
	}
	return nil
}

func (s *CommandService) publishSnapshot(ctx context.Context) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Errorw("failed to build snapshot for broadcast", "error", err)
		return
	}

	active := 0
	for _, st := range snap.Streams {
		if st.Active {
			active++
		}
	}
	s.metrics.SetStreamCounts(active, len(snap.Streams)-active, len(snap.ScheduledStreams))

	s.publisher.Broadcast(snap)
}
