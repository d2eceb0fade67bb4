package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Artifact file names inside a store directory.
var artifactFiles = map[Artifact]string{
	ArtifactNodes:         "nodes.json",
	ArtifactRelationships: "relationships.bin",
	ArtifactIndexes:       "indexes.json",
	ArtifactMetadata:      "metadata.json",
}

// FileBackend stores each artifact as a file in a directory. Writes go to a
// temporary file that is synced and renamed over the target.
type FileBackend struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

var _ Backend = (*FileBackend)(nil)

// OpenFileBackend creates the directory if needed and returns a backend
// rooted at it. It matches BackendFactory.
func OpenFileBackend(dir string, logger *slog.Logger) (Backend, error) {
	return NewFileBackend(dir, logger)
}

// NewFileBackend creates the directory if needed and returns a backend
// rooted at it.
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBackend{dir: dir, logger: logger.With("backend", "files"), now: time.Now}, nil
}

// Path returns the file path of an artifact.
func (b *FileBackend) Path(a Artifact) string {
	name, ok := artifactFiles[a]
	if !ok {
		name = string(a)
	}
	return filepath.Join(b.dir, name)
}

// Read returns the artifact file contents.
func (b *FileBackend) Read(ctx context.Context, a Artifact) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path(a))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a, err)
	}
	return data, nil
}

// Write atomically replaces the artifact file.
func (b *FileBackend) Write(ctx context.Context, a Artifact, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := b.Path(a)
	tmp, err := os.CreateTemp(b.dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", a, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", a, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", a, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", a, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", a, err)
	}
	return nil
}

// Quarantine renames the artifact file to <file>.corrupt-<unix seconds>.
func (b *FileBackend) Quarantine(ctx context.Context, a Artifact) error {
	src := b.Path(a)
	dst := fmt.Sprintf("%s.corrupt-%d", src, b.now().Unix())
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("quarantine %s: %w", a, err)
	}
	b.logger.Warn("quarantined corrupt artifact", "artifact", string(a), "path", dst)
	return nil
}

// Close is a no-op; files are closed after every operation.
func (b *FileBackend) Close() error {
	return nil
}
