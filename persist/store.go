// Package persist implements the disk-backed graph store: the in-memory
// graph core plus a persistence layer of four independently stored
// artifacts (node table, relationship table, index snapshot, metadata), a
// background auto-save scheduler and an exclusive lock on the store
// directory.
//
// Persistence is a periodic full-state flush. There is no write-ahead log;
// mutations made after the last flush are lost if the process dies.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/cag/graph"
)

// lockFile is the name of the directory ownership lock.
const lockFile = "LOCK"

// Flush triggers reported in logs and metrics.
const (
	triggerExplicit  = "explicit"
	triggerThreshold = "threshold"
	triggerInterval  = "interval"
	triggerClose     = "close"
)

// LoadReport describes what Connect recovered from disk.
type LoadReport struct {
	// Metadata is the loaded metadata artifact, zero when absent.
	Metadata Metadata

	// Restore counts the loaded and dropped records.
	Restore graph.RestoreReport

	// Missing lists artifacts that were not present.
	Missing []Artifact

	// Quarantined lists artifacts that failed to decode and were moved aside.
	Quarantined []Artifact

	// Unreadable lists artifacts whose read failed for reasons other than
	// absence or corruption.
	Unreadable []Artifact

	// IndexMismatch is set when the stored index snapshot differs from the
	// indices rebuilt from the node and relationship tables.
	IndexMismatch bool
}

// Store is a graph store persisted to a directory. It embeds the graph core,
// so every query and mutation of graph.Store is available; Connect and Close
// add loading, auto-save and the final flush.
type Store struct {
	*graph.Store

	dir    string
	opts   options
	logger *slog.Logger

	// lifeMu serializes Connect and Close.
	lifeMu   sync.Mutex
	lock     *dirLock
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastLoad LoadReport

	// saveMu serializes flushes and guards backend.
	saveMu  sync.Mutex
	backend Backend

	pending  atomic.Int64
	totalOps atomic.Int64
	lastSave atomic.Int64
	loading  atomic.Bool
}

// Open creates a disconnected persistent store rooted at dir. Connect loads
// the persisted state and starts auto-save.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, graph.NewValidationError("persist.Open", errors.New("storage directory is required"))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		Store:  graph.NewMemoryStore(o.graphOptions()...),
		dir:    dir,
		opts:   o,
		logger: o.logger.With("dir", dir),
	}
	s.Store.OnMutation(s.onMutation)
	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Connect takes ownership of the storage directory, loads every artifact
// and starts the auto-save loop. Load failures are logged and the store
// starts from whatever state could be recovered; see LastLoad.
//
// Returns a concurrency error wrapping graph.ErrStoreLocked when another
// store owns the directory.
func (s *Store) Connect(ctx context.Context) error {
	const op = "Store.Connect"
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.Store.Connected() {
		return nil
	}

	lock, err := lockDir(s.dir)
	if err != nil {
		if errors.Is(err, graph.ErrStoreLocked) {
			return graph.NewConcurrencyError(op, err).WithContext(map[string]any{"dir": s.dir})
		}
		return graph.NewStorageError(op, fmt.Errorf("%w: %w", graph.ErrStorageFailed, err))
	}
	backend, err := s.opts.backend(s.dir, s.logger)
	if err != nil {
		_ = lock.unlock()
		return graph.NewStorageError(op, fmt.Errorf("%w: %w", graph.ErrStorageFailed, err))
	}
	if err := s.Store.Connect(ctx); err != nil {
		_ = backend.Close()
		_ = lock.unlock()
		return err
	}

	s.lock = lock
	s.saveMu.Lock()
	s.backend = backend
	s.saveMu.Unlock()

	s.lastLoad = s.load(ctx, backend)
	s.startAutoSave()

	s.logger.Info("store connected",
		"nodes", s.lastLoad.Restore.Nodes,
		"relationships", s.lastLoad.Restore.Relationships,
	)
	return nil
}

// Close stops the auto-save loop and waits for it to exit, runs a final
// flush, clears the in-memory graph and releases the directory. The flush
// error, if any, is returned after the store has been released.
func (s *Store) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.Store.Connected() {
		return nil
	}

	s.stopAutoSave()

	s.saveMu.Lock()
	err := s.flushLocked(ctx, triggerClose)
	backend := s.backend
	s.backend = nil
	s.saveMu.Unlock()

	_ = s.Store.Close(ctx)
	if backend != nil {
		if cerr := backend.Close(); cerr != nil {
			err = errors.Join(err, graph.NewStorageError("Store.Close", cerr))
		}
	}
	if uerr := s.lock.unlock(); uerr != nil {
		s.logger.Warn("failed to release store lock", "error", uerr)
	}
	s.lock = nil
	s.logger.Info("store disconnected")
	return err
}

// LastLoad returns the report of the most recent Connect.
func (s *Store) LastLoad() LoadReport {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.lastLoad
}

// PendingOperations returns the number of mutations since the last flush.
func (s *Store) PendingOperations() int64 {
	return s.pending.Load()
}

// OperationCount returns the total number of mutations recorded in the
// store's lifetime, including those of earlier processes.
func (s *Store) OperationCount() int64 {
	return s.totalOps.Load()
}

// LastSave returns the time of the last successful flush, or of Connect
// when nothing has been flushed since. Zero before the first Connect.
func (s *Store) LastSave() time.Time {
	ns := s.lastSave.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Flush writes every artifact as a full overwrite.
func (s *Store) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.flushLocked(ctx, triggerExplicit)
}

func (s *Store) flushLocked(ctx context.Context, trigger string) error {
	const op = "Store.Flush"
	if s.backend == nil {
		return graph.NewConcurrencyError(op, graph.ErrStoreClosed)
	}
	started := time.Now()
	saveTime := s.opts.now()
	pending := s.pending.Load()

	st, err := s.Store.Dump(ctx)
	if err != nil {
		return err
	}

	backend := s.backend
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := EncodeNodes(st.Nodes)
		if err != nil {
			return err
		}
		return backend.Write(gctx, ArtifactNodes, data)
	})
	g.Go(func() error {
		data, err := EncodeRelationships(st.Relationships)
		if err != nil {
			return err
		}
		return backend.Write(gctx, ArtifactRelationships, data)
	})
	g.Go(func() error {
		data, err := EncodeIndexes(st.Indexes)
		if err != nil {
			return err
		}
		return backend.Write(gctx, ArtifactIndexes, data)
	})
	err = g.Wait()
	if err == nil {
		var data []byte
		data, err = EncodeMetadata(Metadata{
			FormatVersion:     FormatVersion,
			OperationCount:    s.totalOps.Load(),
			LastSave:          saveTime.UTC(),
			NodeCount:         len(st.Nodes),
			RelationshipCount: len(st.Relationships),
		})
		if err == nil {
			err = backend.Write(ctx, ArtifactMetadata, data)
		}
	}
	recordFlush(ctx, trigger, time.Since(started), err == nil)

	if err != nil {
		s.logger.Error("failed to save store", "trigger", trigger, "error", err)
		return graph.NewStorageError(op, fmt.Errorf("%w: %w", graph.ErrStorageFailed, err))
	}
	s.pending.Add(-pending)
	s.lastSave.Store(saveTime.UnixNano())
	s.logger.Debug("store saved",
		"trigger", trigger,
		"nodes", len(st.Nodes),
		"relationships", len(st.Relationships),
		"duration", time.Since(started),
	)
	return nil
}

// onMutation counts a successful mutation and flushes when the threshold
// or the interval since the last save is reached. A flush already in
// progress absorbs the trigger.
func (s *Store) onMutation(string) {
	if s.loading.Load() {
		return
	}
	s.totalOps.Add(1)
	if !s.flushDue(s.pending.Add(1)) {
		return
	}
	if !s.saveMu.TryLock() {
		return
	}
	defer s.saveMu.Unlock()
	if !s.flushDue(s.pending.Load()) {
		return
	}
	_ = s.flushLocked(context.Background(), triggerThreshold)
}

func (s *Store) flushDue(pending int64) bool {
	if s.opts.saveThreshold > 0 && pending >= int64(s.opts.saveThreshold) {
		return true
	}
	if s.opts.autoSaveInterval > 0 && pending > 0 {
		return s.opts.now().Sub(s.LastSave()) >= s.opts.autoSaveInterval
	}
	return false
}
