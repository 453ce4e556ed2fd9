package services

import (
	"context"
	"fmt"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/pkg/errors"

	"go.uber.org/zap"
)

// Scheduler periodically sweeps the registry: due scheduled streams are
// promoted to active, active streams past their scheduled end are retired.
// All mutations go through the command service, so a sweep can never race a
// manual toggle or delete on the same record.
type Scheduler struct {
	svc         *CommandService
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *zap.SugaredLogger
	stopChan    chan struct{}
}

func NewScheduler(svc *CommandService, interval time.Duration, maxAttempts int, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		svc:         svc,
		interval:    interval,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or the context ends.
// Timing precision is bounded by the sweep interval; a late tick still fires
// everything that came due in the meantime.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the sweep loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Sweep runs one due-time check over scheduled and active streams.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	s.promoteDue(ctx, now)
	s.expireEnded(ctx, now)
}

func (s *Scheduler) promoteDue(ctx context.Context, now time.Time) {
	scheduled, err := s.svc.ListScheduled(ctx)
	if err != nil {
		s.logger.Errorw("sweep failed to list scheduled streams", "error", err)
		return
	}

	for _, rec := range scheduled {
		if !rec.Due(now) {
			continue
		}

		if _, err := s.svc.PromoteScheduled(ctx, rec.ID); err != nil {
			if errors.IsCode(err, errors.ErrCodeNotFound) {
				// Deleted between listing and promotion.
				continue
			}
			if errors.IsCode(err, errors.ErrCodeScheduleExpired) {
				s.dropScheduled(ctx, rec.ID, err)
				continue
			}
			s.svc.metrics.RecordPromotionFailure()
			s.recordFailedAttempt(ctx, rec.ID, err)
			continue
		}

		s.logger.Infow("promoted scheduled stream", "stream_id", rec.ID, "scheduled_start", rec.ScheduledStart)
	}
}

// recordFailedAttempt bumps the retry counter and drops the record once the
// attempt budget is exhausted, reporting the failure to observers.
func (s *Scheduler) recordFailedAttempt(ctx context.Context, id domain.StreamID, cause error) {
	s.svc.mu.Lock()
	rec, err := s.svc.registry.GetScheduled(ctx, id)
	if err != nil {
		s.svc.mu.Unlock()
		return
	}
	rec.Attempts++
	dropped := rec.Attempts >= s.maxAttempts
	if dropped {
		if err := s.svc.registry.RemoveScheduled(ctx, id); err != nil {
			s.logger.Errorw("failed to drop scheduled stream", "stream_id", id, "error", err)
		}
	} else {
		if err := s.svc.registry.UpdateScheduled(ctx, rec); err != nil {
			s.logger.Errorw("failed to record promotion attempt", "stream_id", id, "error", err)
		}
	}
	s.svc.mu.Unlock()

	if dropped {
		s.svc.metrics.RecordScheduleDropped()
		s.logger.Errorw("scheduled stream dropped after repeated failures",
			"stream_id", id, "attempts", rec.Attempts, "error", cause)
		s.svc.publisher.BroadcastEvent(domain.Event{
			Level:    "error",
			Message:  fmt.Sprintf("scheduled stream dropped after %d failed start attempts: %v", rec.Attempts, cause),
			StreamID: id,
			Time:     s.now(),
		})
		s.svc.publishSnapshot(ctx)
		return
	}

	s.logger.Warnw("scheduled stream start failed, will retry next sweep",
		"stream_id", id, "attempts", rec.Attempts, "error", cause)
}

// dropScheduled removes a record that can never start, such as one whose
// whole window passed while the engine was down.
func (s *Scheduler) dropScheduled(ctx context.Context, id domain.StreamID, cause error) {
	s.svc.mu.Lock()
	err := s.svc.registry.RemoveScheduled(ctx, id)
	s.svc.mu.Unlock()
	if err != nil {
		return
	}

	s.svc.metrics.RecordScheduleDropped()
	s.logger.Warnw("dropped unstartable scheduled stream", "stream_id", id, "reason", cause)
	s.svc.publisher.BroadcastEvent(domain.Event{
		Level:    "warning",
		Message:  fmt.Sprintf("scheduled stream dropped: %v", cause),
		StreamID: id,
		Time:     s.now(),
	})
	s.svc.publishSnapshot(ctx)
}

func (s *Scheduler) expireEnded(ctx context.Context, now time.Time) {
	streams, err := s.svc.ListStreams(ctx)
	if err != nil {
		s.logger.Errorw("sweep failed to list streams", "error", err)
		return
	}

	for _, stream := range streams {
		if !stream.Expired(now) {
			continue
		}

		// Stop outside the lock, then commit the state change. The record is
		// retained inactive for audit, same as a manual toggle off.
		if err := s.svc.stopTransmitter(ctx, stream.ID); err != nil {
			s.logger.Warnw("transmitter stop failed during expiry", "stream_id", stream.ID, "error", err)
		}

		s.svc.mu.Lock()
		rec, err := s.svc.registry.GetStream(ctx, stream.ID)
		if err != nil {
			s.svc.mu.Unlock()
			continue
		}
		rec.Active = false
		rec.ScheduledEnd = nil
		if err := s.svc.registry.UpdateStream(ctx, rec); err != nil {
			s.logger.Errorw("failed to mark expired stream inactive", "stream_id", stream.ID, "error", err)
		}
		s.svc.mu.Unlock()

		s.logger.Infow("retired stream past scheduled end", "stream_id", stream.ID)
		s.svc.publishSnapshot(ctx)
	}
}
