package transmitter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"

	"go.uber.org/zap"
)

type process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
	stopped bool
}

// FFmpegTransmitter relays media by spawning one ffmpeg process per stream.
// File sources are read from the local store at native rate; device sources
// relay the local RTMP ingest application the encoder pushes to.
type FFmpegTransmitter struct {
	ffmpegPath string
	ingestURL  string
	files      ports.FileStore

	procs  map[domain.StreamID]*process
	mu     sync.Mutex
	onExit func(id domain.StreamID, err error)
	logger *zap.SugaredLogger
}

func NewFFmpegTransmitter(ffmpegPath, ingestURL string, files ports.FileStore, logger *zap.SugaredLogger) *FFmpegTransmitter {
	return &FFmpegTransmitter{
		ffmpegPath: ffmpegPath,
		ingestURL:  strings.TrimRight(ingestURL, "/"),
		files:      files,
		procs:      make(map[domain.StreamID]*process),
		logger:     logger,
	}
}

var _ ports.Transmitter = (*FFmpegTransmitter)(nil)

// SetExitHandler registers the callback invoked when a transmission ends on
// its own, i.e. not through Stop. The engine uses it to reconcile liveness.
func (t *FFmpegTransmitter) SetExitHandler(fn func(id domain.StreamID, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExit = fn
}

func (t *FFmpegTransmitter) Start(ctx context.Context, stream *domain.Stream) error {
	input, err := t.inputArgs(stream)
	if err != nil {
		return err
	}
	dest, err := destinationURL(stream.Destination)
	if err != nil {
		return err
	}

	args := append(input, "-c", "copy", "-f", "flv", dest)
	cmd := exec.Command(t.ffmpegPath, args...)

	t.mu.Lock()
	if _, exists := t.procs[stream.ID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("transmission already running for stream %s", stream.ID)
	}

	if err := cmd.Start(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to spawn ffmpeg: %w", err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	t.procs[stream.ID] = p
	t.mu.Unlock()

	t.logger.Infow("transmission started", "stream_id", stream.ID, "pid", cmd.Process.Pid, "platform", stream.Destination.Platform)

	go t.reap(stream.ID, p)
	return nil
}

// reap waits for process exit and reports unexpected terminations.
func (t *FFmpegTransmitter) reap(id domain.StreamID, p *process) {
	p.exitErr = p.cmd.Wait()
	close(p.done)

	t.mu.Lock()
	stopped := p.stopped
	if t.procs[id] == p {
		delete(t.procs, id)
	}
	onExit := t.onExit
	t.mu.Unlock()

	if stopped {
		return
	}

	t.logger.Warnw("transmission ended on its own", "stream_id", id, "error", p.exitErr)
	if onExit != nil {
		onExit(id, p.exitErr)
	}
}

// Stop terminates the process for a stream: SIGTERM first, SIGKILL when the
// context deadline passes. Stopping an unknown stream is a no-op.
func (t *FFmpegTransmitter) Stop(ctx context.Context, id domain.StreamID) error {
	t.mu.Lock()
	p, ok := t.procs[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	p.stopped = true
	t.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.logger.Warnw("SIGTERM failed, killing", "stream_id", id, "error", err)
		p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		t.logger.Infow("transmission stopped", "stream_id", id)
		return nil
	case <-ctx.Done():
	}

	p.cmd.Process.Kill()
	select {
	case <-p.done:
		t.logger.Infow("transmission killed", "stream_id", id)
		return nil
	default:
		return fmt.Errorf("ffmpeg process for stream %s did not exit: %w", id, ctx.Err())
	}
}

func (t *FFmpegTransmitter) IsAlive(id domain.StreamID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[id]
	return ok
}

func (t *FFmpegTransmitter) inputArgs(stream *domain.Stream) ([]string, error) {
	switch stream.SourceKind {
	case domain.SourceFile:
		// -re paces reads at native frame rate, required for file relays.
		return []string{"-re", "-i", t.files.Path(stream.SourceRef)}, nil
	case domain.SourceDevice:
		app := stream.SourceRef
		if app == "" {
			app = "obs"
		}
		return []string{"-i", t.ingestURL + "/" + app}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", stream.SourceKind)
	}
}

func destinationURL(d domain.Destination) (string, error) {
	switch d.Platform {
	case domain.PlatformYouTube:
		return "rtmp://a.rtmp.youtube.com/live2/" + d.Credential, nil
	case domain.PlatformFacebook:
		return "rtmps://live-api-s.facebook.com:443/rtmp/" + d.Credential, nil
	case domain.PlatformCustom:
		return strings.TrimRight(d.CustomEndpoint, "/") + "/" + d.Credential, nil
	default:
		return "", fmt.Errorf("unknown platform %q", d.Platform)
	}
}
