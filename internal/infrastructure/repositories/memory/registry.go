package memory

import (
	"context"
	"sync"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
)

// MemoryRegistry keeps all stream records in process memory. Insertion order
// is preserved so lists come back in creation order.
type MemoryRegistry struct {
	streams     map[domain.StreamID]*domain.Stream
	streamOrder []domain.StreamID
	scheduled   map[domain.StreamID]*domain.ScheduledStream
	schedOrder  []domain.StreamID
	mu          sync.RWMutex
}

func NewMemoryRegistry() ports.Registry {
	return &MemoryRegistry{
		streams:   make(map[domain.StreamID]*domain.Stream),
		scheduled: make(map[domain.StreamID]*domain.ScheduledStream),
	}
}

func (r *MemoryRegistry) InsertStream(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[stream.ID]; exists {
		return domain.ErrStreamExists
	}
	r.streams[stream.ID] = cloneStream(stream)
	r.streamOrder = append(r.streamOrder, stream.ID)
	return nil
}

func (r *MemoryRegistry) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.streams[id]
	if !exists {
		return nil, domain.ErrStreamNotFound
	}
	return cloneStream(stream), nil
}

func (r *MemoryRegistry) UpdateStream(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[stream.ID]; !exists {
		return domain.ErrStreamNotFound
	}
	r.streams[stream.ID] = cloneStream(stream)
	return nil
}

func (r *MemoryRegistry) RemoveStream(ctx context.Context, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[id]; !exists {
		return domain.ErrStreamNotFound
	}
	delete(r.streams, id)
	r.streamOrder = removeID(r.streamOrder, id)
	return nil
}

func (r *MemoryRegistry) ListStreams(ctx context.Context) ([]*domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	streams := make([]*domain.Stream, 0, len(r.streamOrder))
	for _, id := range r.streamOrder {
		streams = append(streams, cloneStream(r.streams[id]))
	}
	return streams, nil
}

func (r *MemoryRegistry) InsertScheduled(ctx context.Context, stream *domain.ScheduledStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scheduled[stream.ID]; exists {
		return domain.ErrStreamExists
	}
	r.scheduled[stream.ID] = cloneScheduled(stream)
	r.schedOrder = append(r.schedOrder, stream.ID)
	return nil
}

func (r *MemoryRegistry) GetScheduled(ctx context.Context, id domain.StreamID) (*domain.ScheduledStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.scheduled[id]
	if !exists {
		return nil, domain.ErrScheduledNotFound
	}
	return cloneScheduled(stream), nil
}

func (r *MemoryRegistry) UpdateScheduled(ctx context.Context, stream *domain.ScheduledStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scheduled[stream.ID]; !exists {
		return domain.ErrScheduledNotFound
	}
	r.scheduled[stream.ID] = cloneScheduled(stream)
	return nil
}

func (r *MemoryRegistry) RemoveScheduled(ctx context.Context, id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scheduled[id]; !exists {
		return domain.ErrScheduledNotFound
	}
	delete(r.scheduled, id)
	r.schedOrder = removeID(r.schedOrder, id)
	return nil
}

func (r *MemoryRegistry) ListScheduled(ctx context.Context) ([]*domain.ScheduledStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scheduled := make([]*domain.ScheduledStream, 0, len(r.schedOrder))
	for _, id := range r.schedOrder {
		scheduled = append(scheduled, cloneScheduled(r.scheduled[id]))
	}
	return scheduled, nil
}

// Records are copied on the way in and out so callers can never mutate
// registry state outside the serialization point.
func cloneStream(s *domain.Stream) *domain.Stream {
	c := *s
	if s.ScheduledEnd != nil {
		end := *s.ScheduledEnd
		c.ScheduledEnd = &end
	}
	return &c
}

func cloneScheduled(s *domain.ScheduledStream) *domain.ScheduledStream {
	c := *s
	if s.ScheduledEnd != nil {
		end := *s.ScheduledEnd
		c.ScheduledEnd = &end
	}
	return &c
}

func removeID(ids []domain.StreamID, id domain.StreamID) []domain.StreamID {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
