//go:build !unix

package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zero-day-ai/cag/graph"
)

// dirLock falls back to an exclusively created LOCK file where flock is
// unavailable. A crashed process leaves the file behind and it must be
// removed by hand.
type dirLock struct {
	path string
}

func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, graph.ErrStoreLocked
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_ = f.Close()
	return &dirLock{path: path}, nil
}

func (l *dirLock) unlock() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	return err
}
