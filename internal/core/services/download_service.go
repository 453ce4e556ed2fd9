package services

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
	"relaycast/pkg/errors"
	"relaycast/pkg/retry"

	"go.uber.org/zap"
)

var unsafeNameChars = regexp.MustCompile(`[^\w.\- ]+`)

// DownloadService turns shared-drive links into locally stored source files.
// Resolution and name selection happen synchronously; the fetch itself runs
// in the background and observers learn about the new file via broadcast.
type DownloadService struct {
	files     ports.FileStore
	publisher ports.Publisher
	snapshots Snapshotter
	retryCfg  retry.Config
	logger    *zap.SugaredLogger
}

// Snapshotter is the slice of the command service the download pipeline
// needs to announce file changes.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

func NewDownloadService(
	files ports.FileStore,
	publisher ports.Publisher,
	snapshots Snapshotter,
	retryCfg retry.Config,
	logger *zap.SugaredLogger,
) *DownloadService {
	return &DownloadService{
		files:     files,
		publisher: publisher,
		snapshots: snapshots,
		retryCfg:  retryCfg,
		logger:    logger,
	}
}

// Download resolves the locator, reserves a final file name and starts the
// fetch in the background. The returned name is what the file will be listed
// under once the fetch lands.
func (s *DownloadService) Download(ctx context.Context, rawURL, customName string) (string, error) {
	canonical, err := ResolveDriveURL(rawURL)
	if err != nil {
		return "", err
	}

	name, err := s.pickName(ctx, customName)
	if err != nil {
		return "", err
	}

	go s.fetch(canonical, name)
	return name, nil
}

func (s *DownloadService) fetch(url, name string) {
	// Detached from the request context; the download outlives the HTTP call.
	ctx := context.Background()

	err := retry.Do(ctx, s.retryCfg, func() error {
		return s.files.Fetch(ctx, url, name)
	})
	if err != nil {
		dlErr := errors.NewDownloadError(fmt.Sprintf("download of %q failed", name), err)
		s.logger.Errorw("download failed", "file", name, "error", err)
		s.publisher.BroadcastEvent(domain.Event{
			Level:   "error",
			Message: dlErr.Error(),
		})
		return
	}

	s.logger.Infow("download complete", "file", name)
	s.broadcast(ctx)
}

// DeleteFile removes a downloaded file by name.
func (s *DownloadService) DeleteFile(ctx context.Context, name string) error {
	if err := s.files.Delete(ctx, name); err != nil {
		if err == domain.ErrFileNotFound {
			return errors.NewNotFoundError("file")
		}
		return errors.NewInternalError("failed to delete file", err)
	}
	s.broadcast(ctx)
	return nil
}

func (s *DownloadService) ListFiles(ctx context.Context) ([]string, error) {
	return s.files.List(ctx)
}

// pickName sanitizes the optional custom name and suffixes it until it does
// not collide with an existing file.
func (s *DownloadService) pickName(ctx context.Context, customName string) (string, error) {
	base := strings.TrimSpace(customName)
	if base == "" {
		base = "video"
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".mp4"
	}

	name := stem + ext
	for i := 1; ; i++ {
		exists, err := s.files.Exists(ctx, name)
		if err != nil {
			return "", errors.NewInternalError("failed to check file name", err)
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

func (s *DownloadService) broadcast(ctx context.Context) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		s.logger.Errorw("failed to build snapshot after file change", "error", err)
		return
	}
	s.publisher.Broadcast(snap)
}
