package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"

	"go.uber.org/zap"
)

const partialSuffix = ".part"

// LocalStore keeps downloaded source files in a single directory. Fetches
// land in a .part file first and are renamed on completion, so a partial
// download is never listed as available.
type LocalStore struct {
	dir    string
	client *http.Client
	logger *zap.SugaredLogger
}

func NewLocalStore(dir string, client *http.Client, logger *zap.SugaredLogger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir %s: %w", dir, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LocalStore{dir: dir, client: client, logger: logger}, nil
}

var _ ports.FileStore = (*LocalStore)(nil)

func (s *LocalStore) Fetch(ctx context.Context, url, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download request returned status %d", resp.StatusCode)
	}

	return s.Save(ctx, name, resp.Body)
}

func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) error {
	final := s.Path(name)
	partial := final + partialSuffix

	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	written, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	s.logger.Infow("file stored", "file", name, "bytes", written)
	return nil
}

func (s *LocalStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read download dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, partialSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	err := os.Remove(s.Path(name))
	if os.IsNotExist(err) {
		return domain.ErrFileNotFound
	}
	return err
}

func (s *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.Path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Path maps a file name into the store directory. The name is flattened to
// its base so references can never escape the directory.
func (s *LocalStore) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}
