package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
	"relaycast/internal/infrastructure/repositories/memory"
	apperrors "relaycast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// Fakes shared by the service tests in this package.

type fakeTransmitter struct {
	mu       sync.Mutex
	alive    map[domain.StreamID]bool
	startErr error
	stopErr  error
	starts   int
	stops    int

	// Run after a successful call, outside the fake's own lock. Lets tests
	// interleave registry mutations with an in-flight transmitter call.
	onStart func(id domain.StreamID)
	onStop  func(id domain.StreamID)
}

func newFakeTransmitter() *fakeTransmitter {
	return &fakeTransmitter{alive: make(map[domain.StreamID]bool)}
}

func (t *fakeTransmitter) Start(ctx context.Context, stream *domain.Stream) error {
	t.mu.Lock()
	t.starts++
	if t.startErr != nil {
		t.mu.Unlock()
		return t.startErr
	}
	t.alive[stream.ID] = true
	hook := t.onStart
	t.mu.Unlock()

	if hook != nil {
		hook(stream.ID)
	}
	return nil
}

func (t *fakeTransmitter) Stop(ctx context.Context, id domain.StreamID) error {
	t.mu.Lock()
	t.stops++
	if t.stopErr != nil {
		t.mu.Unlock()
		return t.stopErr
	}
	delete(t.alive, id)
	hook := t.onStop
	t.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return nil
}

func (t *fakeTransmitter) IsAlive(id domain.StreamID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive[id]
}

type fakePublisher struct {
	mu        sync.Mutex
	snapshots []*domain.Snapshot
	events    []domain.Event
}

func (p *fakePublisher) Broadcast(snapshot *domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snapshot)
}

func (p *fakePublisher) BroadcastEvent(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) snapshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

func (p *fakePublisher) eventMessages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Message)
	}
	return out
}

type fakeMetrics struct {
	mu                  sync.Mutex
	promotions          int
	promotionFailures   int
	schedulesDropped    int
	transmitterFailures int
	broadcasts          int
}

func (m *fakeMetrics) SetStreamCounts(active, paused, scheduled int) {}

func (m *fakeMetrics) RecordPromotion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions++
}

func (m *fakeMetrics) RecordPromotionFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotionFailures++
}

func (m *fakeMetrics) RecordScheduleDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulesDropped++
}

func (m *fakeMetrics) RecordTransmitterFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmitterFailures++
}

func (m *fakeMetrics) RecordBroadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts++
}

type fakeFiles struct {
	mu       sync.Mutex
	data     map[string][]byte
	fetchErr error
	fetched  []string
}

func newFakeFiles(names ...string) *fakeFiles {
	f := &fakeFiles{data: make(map[string][]byte)}
	for _, name := range names {
		f.data[name] = []byte("x")
	}
	return f
}

func (f *fakeFiles) Fetch(ctx context.Context, url, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, name)
	if f.fetchErr != nil {
		return f.fetchErr
	}
	f.data[name] = []byte(url)
	return nil
}

func (f *fakeFiles) Save(ctx context.Context, name string, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[name] = buf.Bytes()
	return nil
}

func (f *fakeFiles) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.data))
	for name := range f.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeFiles) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[name]; !ok {
		return domain.ErrFileNotFound
	}
	delete(f.data, name)
	return nil
}

func (f *fakeFiles) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[name]
	return ok, nil
}

func (f *fakeFiles) Path(name string) string {
	return "/downloads/" + name
}

type serviceFixture struct {
	svc         *CommandService
	registry    ports.Registry
	transmitter *fakeTransmitter
	publisher   *fakePublisher
	metrics     *fakeMetrics
	files       *fakeFiles
	clock       time.Time
}

func newServiceFixture(t *testing.T, files *fakeFiles) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		registry:    memory.NewMemoryRegistry(),
		transmitter: newFakeTransmitter(),
		publisher:   &fakePublisher{},
		metrics:     &fakeMetrics{},
		files:       files,
		clock:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if f.files == nil {
		f.files = newFakeFiles()
	}

	f.svc = NewCommandService(
		f.registry,
		f.files,
		f.transmitter,
		f.publisher,
		f.metrics,
		time.Second,
		zaptest.NewLogger(t).Sugar(),
	)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func youtubeCommand() ports.StartCommand {
	return ports.StartCommand{
		SourceKind: domain.SourceDevice,
		Destination: domain.Destination{
			Platform:   domain.PlatformYouTube,
			Credential: "yt-key",
		},
	}
}

func TestStartStream_FileSource(t *testing.T) {
	f := newServiceFixture(t, newFakeFiles("show.mp4"))

	cmd := ports.StartCommand{
		SourceKind: domain.SourceFile,
		SourceRef:  "show.mp4",
		Destination: domain.Destination{
			Platform:   domain.PlatformYouTube,
			Credential: "yt-key",
		},
	}

	stream, err := f.svc.StartStream(context.Background(), cmd)
	assert.NoError(t, err)
	assert.True(t, stream.Active)
	assert.NotEmpty(t, stream.ID)
	assert.True(t, f.transmitter.IsAlive(stream.ID))

	listed, err := f.svc.ListStreams(context.Background())
	assert.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, stream.ID, listed[0].ID)

	assert.Equal(t, 1, f.publisher.snapshotCount())
}

func TestStartStream_MissingFile(t *testing.T) {
	f := newServiceFixture(t, nil)

	cmd := ports.StartCommand{
		SourceKind: domain.SourceFile,
		SourceRef:  "missing.mp4",
		Destination: domain.Destination{
			Platform:   domain.PlatformYouTube,
			Credential: "yt-key",
		},
	}

	_, err := f.svc.StartStream(context.Background(), cmd)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
	assert.Equal(t, 0, f.transmitter.starts)
}

func TestStartStream_ValidationRules(t *testing.T) {
	tests := []struct {
		name string
		cmd  ports.StartCommand
	}{
		{
			name: "file source without file",
			cmd: ports.StartCommand{
				SourceKind:  domain.SourceFile,
				Destination: domain.Destination{Platform: domain.PlatformYouTube, Credential: "k"},
			},
		},
		{
			name: "unknown source",
			cmd: ports.StartCommand{
				SourceKind:  "camera",
				Destination: domain.Destination{Platform: domain.PlatformYouTube, Credential: "k"},
			},
		},
		{
			name: "missing stream key",
			cmd: ports.StartCommand{
				SourceKind:  domain.SourceDevice,
				Destination: domain.Destination{Platform: domain.PlatformYouTube},
			},
		},
		{
			name: "custom platform without endpoint",
			cmd: ports.StartCommand{
				SourceKind:  domain.SourceDevice,
				Destination: domain.Destination{Platform: domain.PlatformCustom, Credential: "k"},
			},
		},
		{
			name: "unknown platform",
			cmd: ports.StartCommand{
				SourceKind:  domain.SourceDevice,
				Destination: domain.Destination{Platform: "twitch", Credential: "k"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, nil)
			_, err := f.svc.StartStream(context.Background(), tt.cmd)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)
			assert.Equal(t, 0, f.transmitter.starts)
		})
	}
}

func TestStartStream_TransmitterFailure(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.transmitter.startErr = errors.New("spawn failed")

	_, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransmitter))

	listed, _ := f.svc.ListStreams(context.Background())
	assert.Empty(t, listed)
	assert.Equal(t, 1, f.metrics.transmitterFailures)
}

func TestScheduleStream(t *testing.T) {
	f := newServiceFixture(t, nil)
	future := f.clock.Add(time.Hour)
	end := future.Add(time.Hour)

	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        future,
		End:          &end,
	})
	assert.NoError(t, err)
	assert.Equal(t, future, scheduled.ScheduledStart)

	listed, err := f.svc.ListScheduled(context.Background())
	assert.NoError(t, err)
	assert.Len(t, listed, 1)

	// Nothing transmits until promotion.
	assert.Equal(t, 0, f.transmitter.starts)
}

func TestScheduleStream_RejectsPastStart(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(-time.Minute),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestScheduleStream_RejectsEndBeforeStart(t *testing.T) {
	f := newServiceFixture(t, nil)
	start := f.clock.Add(time.Hour)
	end := start.Add(-time.Minute)

	_, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        start,
		End:          &end,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestToggleStream_RoundTrip(t *testing.T) {
	f := newServiceFixture(t, nil)

	stream, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)

	toggled, err := f.svc.ToggleStream(context.Background(), stream.ID)
	assert.NoError(t, err)
	assert.False(t, toggled.Active)
	assert.False(t, f.transmitter.IsAlive(stream.ID))

	toggled, err = f.svc.ToggleStream(context.Background(), stream.ID)
	assert.NoError(t, err)
	assert.True(t, toggled.Active)
	assert.True(t, f.transmitter.IsAlive(stream.ID))
}

func TestToggleStream_CommitsDespiteTransmitterFailure(t *testing.T) {
	f := newServiceFixture(t, nil)

	stream, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)

	f.transmitter.stopErr = errors.New("process stuck")

	toggled, err := f.svc.ToggleStream(context.Background(), stream.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransmitter))
	assert.NotNil(t, toggled)
	assert.False(t, toggled.Active)

	// The registry reflects the intent even though the stop failed.
	listed, _ := f.svc.ListStreams(context.Background())
	assert.Len(t, listed, 1)
	assert.False(t, listed[0].Active)
}

func TestToggleStream_UnknownID(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.ToggleStream(context.Background(), "nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestToggleStream_DeletedDuringTransmitterCall(t *testing.T) {
	f := newServiceFixture(t, nil)

	rec := &domain.Stream{
		ID:         "s1",
		SourceKind: domain.SourceDevice,
		Destination: domain.Destination{
			Platform:   domain.PlatformYouTube,
			Credential: "yt-key",
		},
		CreatedAt: f.clock,
	}
	assert.NoError(t, f.registry.InsertStream(context.Background(), rec))

	// The record disappears while the start call is in flight.
	f.transmitter.onStart = func(id domain.StreamID) {
		assert.NoError(t, f.registry.RemoveStream(context.Background(), id))
	}

	_, err := f.svc.ToggleStream(context.Background(), "s1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	// No orphaned transmission and no resurrected record.
	assert.False(t, f.transmitter.IsAlive("s1"))
	listed, _ := f.svc.ListStreams(context.Background())
	assert.Empty(t, listed)
}

func TestPromoteScheduled_DeletedDuringStart(t *testing.T) {
	f := newServiceFixture(t, nil)

	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
	})
	assert.NoError(t, err)

	f.transmitter.onStart = func(id domain.StreamID) {
		assert.NoError(t, f.registry.RemoveScheduled(context.Background(), id))
	}

	_, err = f.svc.PromoteScheduled(context.Background(), scheduled.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	assert.False(t, f.transmitter.IsAlive(scheduled.ID))
	streams, _ := f.svc.ListStreams(context.Background())
	assert.Empty(t, streams)
}

func TestDeleteStream_StopsActiveTransmission(t *testing.T) {
	f := newServiceFixture(t, nil)

	stream, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)

	assert.NoError(t, f.svc.DeleteStream(context.Background(), stream.ID))
	assert.False(t, f.transmitter.IsAlive(stream.ID))

	listed, _ := f.svc.ListStreams(context.Background())
	assert.Empty(t, listed)
}

func TestDeleteStream_UnknownIDIsNoop(t *testing.T) {
	f := newServiceFixture(t, nil)

	assert.NoError(t, f.svc.DeleteStream(context.Background(), "nope"))
	assert.Equal(t, 0, f.transmitter.stops)
}

func TestDeleteScheduled(t *testing.T) {
	f := newServiceFixture(t, nil)

	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
	})
	assert.NoError(t, err)

	assert.NoError(t, f.svc.DeleteScheduled(context.Background(), scheduled.ID))

	err = f.svc.DeleteScheduled(context.Background(), scheduled.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestPromoteScheduled(t *testing.T) {
	f := newServiceFixture(t, nil)

	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
	})
	assert.NoError(t, err)

	stream, err := f.svc.PromoteScheduled(context.Background(), scheduled.ID)
	assert.NoError(t, err)
	assert.Equal(t, scheduled.ID, stream.ID)
	assert.True(t, stream.Active)
	assert.True(t, f.transmitter.IsAlive(stream.ID))

	remaining, _ := f.svc.ListScheduled(context.Background())
	assert.Empty(t, remaining)
	assert.Equal(t, 1, f.metrics.promotions)
}

func TestPromoteScheduled_UnknownID(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.PromoteScheduled(context.Background(), "nope")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestPromoteScheduled_ExpiredWindow(t *testing.T) {
	f := newServiceFixture(t, nil)

	end := f.clock.Add(2 * time.Hour)
	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
		End:          &end,
	})
	assert.NoError(t, err)

	// The whole window passes before anything starts.
	f.clock = end.Add(time.Minute)

	_, err = f.svc.PromoteScheduled(context.Background(), scheduled.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeScheduleExpired))
	assert.Equal(t, 0, f.transmitter.starts)
}

func TestPromoteScheduled_TransmitterFailureKeepsRecord(t *testing.T) {
	f := newServiceFixture(t, nil)

	scheduled, err := f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
	})
	assert.NoError(t, err)

	f.transmitter.startErr = errors.New("spawn failed")

	_, err = f.svc.PromoteScheduled(context.Background(), scheduled.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransmitter))

	// The record survives so the scheduler can retry.
	remaining, _ := f.svc.ListScheduled(context.Background())
	assert.Len(t, remaining, 1)
}

func TestSnapshot(t *testing.T) {
	f := newServiceFixture(t, newFakeFiles("a.mp4", "b.mp4"))

	_, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)
	_, err = f.svc.ScheduleStream(context.Background(), ports.ScheduleCommand{
		StartCommand: youtubeCommand(),
		Start:        f.clock.Add(time.Hour),
	})
	assert.NoError(t, err)

	snap, err := f.svc.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, snap.Files)
	assert.Len(t, snap.Streams, 1)
	assert.Len(t, snap.ScheduledStreams, 1)
}

func TestHandleTransmitterExit(t *testing.T) {
	f := newServiceFixture(t, nil)

	stream, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)

	f.svc.HandleTransmitterExit(stream.ID, errors.New("broken pipe"))

	listed, _ := f.svc.ListStreams(context.Background())
	assert.Len(t, listed, 1)
	assert.False(t, listed[0].Active)

	messages := f.publisher.eventMessages()
	assert.Len(t, messages, 1)
	assert.Contains(t, messages[0], "broken pipe")
}

func TestHandleTransmitterExit_CleanExitEmitsNoEvent(t *testing.T) {
	f := newServiceFixture(t, nil)

	stream, err := f.svc.StartStream(context.Background(), youtubeCommand())
	assert.NoError(t, err)

	f.svc.HandleTransmitterExit(stream.ID, nil)

	listed, _ := f.svc.ListStreams(context.Background())
	assert.False(t, listed[0].Active)
	assert.Empty(t, f.publisher.eventMessages())
}
