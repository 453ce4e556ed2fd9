package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores stream records as JSON values plus per-kind order
// lists, so listings come back in creation order like the memory registry.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client) ports.Registry {
	return &RedisRegistry{
		client: client,
		prefix: "relaycast:",
	}
}

func (r *RedisRegistry) streamKey(id domain.StreamID) string {
	return r.prefix + "stream:" + string(id)
}

func (r *RedisRegistry) scheduledKey(id domain.StreamID) string {
	return r.prefix + "scheduled:" + string(id)
}

func (r *RedisRegistry) streamOrderKey() string {
	return r.prefix + "stream:order"
}

func (r *RedisRegistry) scheduledOrderKey() string {
	return r.prefix + "scheduled:order"
}

func (r *RedisRegistry) InsertStream(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set stream in Redis: %w", err)
	}
	if !ok {
		return domain.ErrStreamExists
	}

	if err := r.client.RPush(ctx, r.streamOrderKey(), string(stream.ID)).Err(); err != nil {
		return fmt.Errorf("failed to append stream order: %w", err)
	}
	return nil
}

func (r *RedisRegistry) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	data, err := r.client.Get(ctx, r.streamKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal([]byte(data), &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &stream, nil
}

func (r *RedisRegistry) UpdateStream(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update stream in Redis: %w", err)
	}
	if !ok {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (r *RedisRegistry) RemoveStream(ctx context.Context, id domain.StreamID) error {
	removed, err := r.client.Del(ctx, r.streamKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete stream from Redis: %w", err)
	}
	if removed == 0 {
		return domain.ErrStreamNotFound
	}

	if err := r.client.LRem(ctx, r.streamOrderKey(), 1, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove stream order entry: %w", err)
	}
	return nil
}

func (r *RedisRegistry) ListStreams(ctx context.Context) ([]*domain.Stream, error) {
	ids, err := r.client.LRange(ctx, r.streamOrderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stream order: %w", err)
	}

	streams := make([]*domain.Stream, 0, len(ids))
	for _, id := range ids {
		stream, err := r.GetStream(ctx, domain.StreamID(id))
		if err == domain.ErrStreamNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

func (r *RedisRegistry) InsertScheduled(ctx context.Context, stream *domain.ScheduledStream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled stream: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.scheduledKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set scheduled stream in Redis: %w", err)
	}
	if !ok {
		return domain.ErrStreamExists
	}

	if err := r.client.RPush(ctx, r.scheduledOrderKey(), string(stream.ID)).Err(); err != nil {
		return fmt.Errorf("failed to append scheduled order: %w", err)
	}
	return nil
}

func (r *RedisRegistry) GetScheduled(ctx context.Context, id domain.StreamID) (*domain.ScheduledStream, error) {
	data, err := r.client.Get(ctx, r.scheduledKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrScheduledNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled stream from Redis: %w", err)
	}

	var stream domain.ScheduledStream
	if err := json.Unmarshal([]byte(data), &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scheduled stream: %w", err)
	}
	return &stream, nil
}

func (r *RedisRegistry) UpdateScheduled(ctx context.Context, stream *domain.ScheduledStream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled stream: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.scheduledKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update scheduled stream in Redis: %w", err)
	}
	if !ok {
		return domain.ErrScheduledNotFound
	}
	return nil
}

func (r *RedisRegistry) RemoveScheduled(ctx context.Context, id domain.StreamID) error {
	removed, err := r.client.Del(ctx, r.scheduledKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete scheduled stream from Redis: %w", err)
	}
	if removed == 0 {
		return domain.ErrScheduledNotFound
	}

	if err := r.client.LRem(ctx, r.scheduledOrderKey(), 1, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove scheduled order entry: %w", err)
	}
	return nil
}

func (r *RedisRegistry) ListScheduled(ctx context.Context) ([]*domain.ScheduledStream, error) {
	ids, err := r.client.LRange(ctx, r.scheduledOrderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled order: %w", err)
	}

	scheduled := make([]*domain.ScheduledStream, 0, len(ids))
	for _, id := range ids {
		stream, err := r.GetScheduled(ctx, domain.StreamID(id))
		if err == domain.ErrScheduledNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled, stream)
	}
	return scheduled, nil
}
