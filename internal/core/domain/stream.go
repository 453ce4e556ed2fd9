package domain

import (
	"time"
)

type StreamID string

// SourceKind selects where the transmitter reads media from.
type SourceKind string

const (
	SourceFile   SourceKind = "file"
	SourceDevice SourceKind = "obs"
)

// Platform identifies the destination RTMP service.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformFacebook Platform = "facebook"
	PlatformCustom   Platform = "custom"
)

// Destination is the endpoint a stream is relayed to. CustomEndpoint is
// only meaningful when Platform is PlatformCustom.
type Destination struct {
	Platform       Platform `json:"platform"`
	Credential     string   `json:"youtube_key"`
	CustomEndpoint string   `json:"custom_rtmp_url,omitempty"`
}

// Stream is a transmission job the engine currently tracks. Active means a
// transmitter start has been accepted and no termination has been observed.
type Stream struct {
	ID         StreamID   `json:"id"`
	SourceKind SourceKind `json:"source"`
	SourceRef  string     `json:"file,omitempty"`
	// Embedded so destination fields marshal flat, the shape observers expect.
	Destination
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	ScheduledEnd *time.Time `json:"schedule_end_time,omitempty"`
}

// ScheduledStream is a transmission job deferred to a future start time.
// Attempts counts failed promotions; the scheduler drops the record once the
// configured limit is reached.
type ScheduledStream struct {
	ID         StreamID   `json:"id"`
	SourceKind SourceKind `json:"source"`
	SourceRef  string     `json:"file,omitempty"`
	Destination
	ScheduledStart time.Time  `json:"schedule_time"`
	ScheduledEnd   *time.Time `json:"schedule_end_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Attempts       int        `json:"-"`
}

// Due reports whether the stream should have started by now.
func (s *ScheduledStream) Due(now time.Time) bool {
	return !s.ScheduledStart.After(now)
}

// Expired reports whether an active stream has passed its scheduled end.
func (s *Stream) Expired(now time.Time) bool {
	return s.Active && s.ScheduledEnd != nil && !s.ScheduledEnd.After(now)
}

// Promote converts a scheduled stream into an active stream, carrying the
// scheduled end over so the sweep can later retire it.
func (s *ScheduledStream) Promote(now time.Time) *Stream {
	return &Stream{
		ID:           s.ID,
		SourceKind:   s.SourceKind,
		SourceRef:    s.SourceRef,
		Destination:  s.Destination,
		Active:       true,
		CreatedAt:    now,
		ScheduledEnd: s.ScheduledEnd,
	}
}

// Snapshot is the full observable state pushed to connected observers and
// returned by the poll endpoints.
type Snapshot struct {
	Files            []string           `json:"files"`
	Streams          []*Stream          `json:"streams"`
	ScheduledStreams []*ScheduledStream `json:"scheduled_streams"`
}

// Event describes an engine-originated notification, such as a scheduled
// stream that exhausted its promotion attempts.
type Event struct {
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	StreamID StreamID  `json:"stream_id,omitempty"`
	Time     time.Time `json:"time"`
}
