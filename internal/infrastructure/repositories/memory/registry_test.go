package memory

import (
	"context"
	"testing"
	"time"

	"relaycast/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func testStream(id string) *domain.Stream {
	return &domain.Stream{
		ID:         domain.StreamID(id),
		SourceKind: domain.SourceDevice,
		Destination: domain.Destination{
			Platform:   domain.PlatformYouTube,
			Credential: "key",
		},
		Active:    true,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryRegistry_StreamCRUD(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	assert.NoError(t, reg.InsertStream(ctx, testStream("a")))
	assert.ErrorIs(t, reg.InsertStream(ctx, testStream("a")), domain.ErrStreamExists)

	got, err := reg.GetStream(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, domain.StreamID("a"), got.ID)

	got.Active = false
	assert.NoError(t, reg.UpdateStream(ctx, got))

	got, err = reg.GetStream(ctx, "a")
	assert.NoError(t, err)
	assert.False(t, got.Active)

	assert.NoError(t, reg.RemoveStream(ctx, "a"))
	assert.ErrorIs(t, reg.RemoveStream(ctx, "a"), domain.ErrStreamNotFound)

	_, err = reg.GetStream(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestMemoryRegistry_UpdateUnknownStream(t *testing.T) {
	reg := NewMemoryRegistry()

	err := reg.UpdateStream(context.Background(), testStream("ghost"))
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestMemoryRegistry_ListPreservesInsertionOrder(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		assert.NoError(t, reg.InsertStream(ctx, testStream(id)))
	}
	assert.NoError(t, reg.RemoveStream(ctx, "a"))
	assert.NoError(t, reg.InsertStream(ctx, testStream("d")))

	listed, err := reg.ListStreams(ctx)
	assert.NoError(t, err)

	ids := make([]string, 0, len(listed))
	for _, s := range listed {
		ids = append(ids, string(s.ID))
	}
	assert.Equal(t, []string{"c", "b", "d"}, ids)
}

func TestMemoryRegistry_ReturnsCopies(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	assert.NoError(t, reg.InsertStream(ctx, testStream("a")))

	got, err := reg.GetStream(ctx, "a")
	assert.NoError(t, err)

	// Mutating a returned record must not leak into the registry.
	got.Active = false
	got.Credential = "changed"

	fresh, err := reg.GetStream(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, fresh.Active)
	assert.Equal(t, "key", fresh.Credential)
}

func TestMemoryRegistry_ScheduledCRUD(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	rec := &domain.ScheduledStream{
		ID:         "s1",
		SourceKind: domain.SourceDevice,
		Destination: domain.Destination{
			Platform:   domain.PlatformFacebook,
			Credential: "fb-key",
		},
		ScheduledStart: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC),
		ScheduledEnd:   &end,
	}

	assert.NoError(t, reg.InsertScheduled(ctx, rec))
	assert.ErrorIs(t, reg.InsertScheduled(ctx, rec), domain.ErrStreamExists)

	got, err := reg.GetScheduled(ctx, "s1")
	assert.NoError(t, err)
	if assert.NotNil(t, got.ScheduledEnd) {
		assert.Equal(t, end, *got.ScheduledEnd)
	}

	got.Attempts = 2
	assert.NoError(t, reg.UpdateScheduled(ctx, got))

	got, err = reg.GetScheduled(ctx, "s1")
	assert.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	assert.NoError(t, reg.RemoveScheduled(ctx, "s1"))
	assert.ErrorIs(t, reg.RemoveScheduled(ctx, "s1"), domain.ErrScheduledNotFound)

	_, err = reg.GetScheduled(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrScheduledNotFound)
}

func TestMemoryRegistry_ScheduledEndCopyIsolation(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	rec := &domain.ScheduledStream{
		ID:             "s1",
		SourceKind:     domain.SourceDevice,
		Destination:    domain.Destination{Platform: domain.PlatformYouTube, Credential: "k"},
		ScheduledStart: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC),
		ScheduledEnd:   &end,
	}
	assert.NoError(t, reg.InsertScheduled(ctx, rec))

	got, _ := reg.GetScheduled(ctx, "s1")
	*got.ScheduledEnd = got.ScheduledEnd.Add(time.Hour)

	fresh, _ := reg.GetScheduled(ctx, "s1")
	assert.Equal(t, end, *fresh.ScheduledEnd)
}
