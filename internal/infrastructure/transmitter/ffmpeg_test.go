package transmitter

import (
	"context"
	"io"
	"testing"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// fakePathStore satisfies the store port for argument-building tests.
type fakePathStore struct{}

func (fakePathStore) Fetch(ctx context.Context, url, name string) error        { return nil }
func (fakePathStore) Save(ctx context.Context, name string, r io.Reader) error { return nil }
func (fakePathStore) List(ctx context.Context) ([]string, error)               { return nil, nil }
func (fakePathStore) Delete(ctx context.Context, name string) error            { return nil }
func (fakePathStore) Exists(ctx context.Context, name string) (bool, error)    { return true, nil }
func (fakePathStore) Path(name string) string                                  { return "/downloads/" + name }

var _ ports.FileStore = fakePathStore{}

func TestDestinationURL(t *testing.T) {
	tests := []struct {
		name string
		dest domain.Destination
		want string
	}{
		{
			name: "youtube",
			dest: domain.Destination{Platform: domain.PlatformYouTube, Credential: "yt-key"},
			want: "rtmp://a.rtmp.youtube.com/live2/yt-key",
		},
		{
			name: "facebook",
			dest: domain.Destination{Platform: domain.PlatformFacebook, Credential: "fb-key"},
			want: "rtmps://live-api-s.facebook.com:443/rtmp/fb-key",
		},
		{
			name: "custom endpoint",
			dest: domain.Destination{
				Platform:       domain.PlatformCustom,
				Credential:     "key",
				CustomEndpoint: "rtmp://ingest.example.com/live",
			},
			want: "rtmp://ingest.example.com/live/key",
		},
		{
			name: "custom endpoint with trailing slash",
			dest: domain.Destination{
				Platform:       domain.PlatformCustom,
				Credential:     "key",
				CustomEndpoint: "rtmp://ingest.example.com/live/",
			},
			want: "rtmp://ingest.example.com/live/key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := destinationURL(tt.dest)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDestinationURL_UnknownPlatform(t *testing.T) {
	_, err := destinationURL(domain.Destination{Platform: "twitch", Credential: "k"})
	assert.Error(t, err)
}

func TestInputArgs(t *testing.T) {
	tr := NewFFmpegTransmitter("ffmpeg", "rtmp://127.0.0.1:1935/live/", fakePathStore{}, zaptest.NewLogger(t).Sugar())

	args, err := tr.inputArgs(&domain.Stream{SourceKind: domain.SourceFile, SourceRef: "clip.mp4"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"-re", "-i", "/downloads/clip.mp4"}, args)

	args, err = tr.inputArgs(&domain.Stream{SourceKind: domain.SourceDevice})
	assert.NoError(t, err)
	assert.Equal(t, []string{"-i", "rtmp://127.0.0.1:1935/live/obs"}, args)

	args, err = tr.inputArgs(&domain.Stream{SourceKind: domain.SourceDevice, SourceRef: "studio"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"-i", "rtmp://127.0.0.1:1935/live/studio"}, args)

	_, err = tr.inputArgs(&domain.Stream{SourceKind: "camera"})
	assert.Error(t, err)
}

func TestIsAlive_UnknownStream(t *testing.T) {
	tr := NewFFmpegTransmitter("ffmpeg", "rtmp://127.0.0.1:1935/live", fakePathStore{}, zaptest.NewLogger(t).Sugar())
	assert.False(t, tr.IsAlive("nope"))
}
