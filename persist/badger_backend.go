package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerKeyPrefix        = "cag/"
	badgerQuarantinePrefix = "cag/quarantine/"
	badgerSubdir           = "badger"
)

// BadgerConfig configures a BadgerBackend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory (tests).
	InMemory bool

	// SyncWrites syncs every write to disk.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// BadgerBackend stores artifacts as values under cag/<artifact> keys in an
// embedded Badger database.
type BadgerBackend struct {
	db  *badger.DB
	now func() time.Time
}

var _ Backend = (*BadgerBackend)(nil)

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerBackend opens a Badger database for artifact storage.
func NewBadgerBackend(cfg BadgerConfig) (*BadgerBackend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerBackend{db: db, now: time.Now}, nil
}

// OpenBadgerBackend opens a Badger database in <dir>/badger with synced
// writes. It matches BackendFactory.
func OpenBadgerBackend(dir string, logger *slog.Logger) (Backend, error) {
	var bl *slog.Logger
	if logger != nil {
		bl = logger.With("backend", "badger")
	}
	return NewBadgerBackend(BadgerConfig{
		Path:       filepath.Join(dir, badgerSubdir),
		SyncWrites: true,
		Logger:     bl,
	})
}

func artifactKey(a Artifact) []byte {
	return []byte(badgerKeyPrefix + string(a))
}

// Read returns the artifact value.
func (b *BadgerBackend) Read(ctx context.Context, a Artifact) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(a))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrArtifactMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a, err)
	}
	return out, nil
}

// Write replaces the artifact value in a single transaction.
func (b *BadgerBackend) Write(ctx context.Context, a Artifact, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(a), data)
	}); err != nil {
		return fmt.Errorf("write %s: %w", a, err)
	}
	return nil
}

// Quarantine moves the artifact value to cag/quarantine/<artifact>/<unix>.
func (b *BadgerBackend) Quarantine(ctx context.Context, a Artifact) error {
	dst := []byte(fmt.Sprintf("%s%s/%d", badgerQuarantinePrefix, a, b.now().Unix()))
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(a))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Set(dst, val); err != nil {
			return err
		}
		return txn.Delete(artifactKey(a))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", a, err)
	}
	return nil
}

// Close closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
