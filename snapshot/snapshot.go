// Package snapshot manages point-in-time exports of a graph store: creation
// of timestamped, optionally zstd-compressed full exports, retention by
// count, enumeration and restore.
//
// Layout under the snapshot root:
//
//	<root>/<timestamp>/graph.json.zst   (graph.json when uncompressed)
//	<root>/<timestamp>/metadata.json
//
// where <timestamp> is the UTC creation time formatted with TimestampLayout.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/zero-day-ai/cag/graph"
)

// TimestampLayout formats snapshot directory names. Names sort
// chronologically.
const TimestampLayout = "20060102T150405.000000000Z"

const (
	// DefaultMaxSnapshots is the default retention count.
	DefaultMaxSnapshots = 10

	// DirName is the conventional snapshot directory inside a store directory.
	DirName = "snapshots"

	graphFile           = "graph.json"
	compressedGraphFile = "graph.json.zst"
	metadataFile        = "metadata.json"
	tmpPrefix           = ".tmp-"
)

// ErrSnapshotNotFound indicates that no snapshot exists for a timestamp.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Source is the store a Manager exports from and restores into.
type Source interface {
	ExportGraph(ctx context.Context) (*graph.Export, error)
	ImportGraph(ctx context.Context, exp *graph.Export) (graph.RestoreReport, error)
}

// Info is the per-snapshot metadata.
type Info struct {
	ID                string    `json:"id"`
	Timestamp         string    `json:"timestamp"`
	CreatedAt         time.Time `json:"created_at"`
	NodeCount         int       `json:"node_count"`
	RelationshipCount int       `json:"relationship_count"`
	Compressed        bool      `json:"compressed"`
	FormatVersion     int       `json:"format_version"`
}

// Manager creates, lists, restores and prunes snapshots.
type Manager struct {
	dir    string
	source Source
	opts   options
	logger *slog.Logger
}

// NewManager creates a manager storing snapshots under dir.
func NewManager(dir string, source Source, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, graph.NewValidationError("snapshot.NewManager", errors.New("snapshot directory is required"))
	}
	if source == nil {
		return nil, graph.NewValidationError("snapshot.NewManager", errors.New("source is required"))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{dir: dir, source: source, opts: o, logger: o.logger}, nil
}

// Dir returns the snapshot root directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create writes a full export of the source as a new snapshot, then prunes
// snapshots beyond the retention count, oldest modification time first.
func (m *Manager) Create(ctx context.Context) (Info, error) {
	const op = "Manager.Create"
	exp, err := m.source.ExportGraph(ctx)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return Info{}, storageError(op, err)
	}

	created := m.opts.now().UTC()
	info := Info{
		ID:                uuid.NewString(),
		Timestamp:         created.Format(TimestampLayout),
		CreatedAt:         created,
		NodeCount:         exp.Stats.NodeCount,
		RelationshipCount: exp.Stats.RelationshipCount,
		Compressed:        m.opts.compress,
		FormatVersion:     exp.FormatVersion,
	}
	exp.Metadata = map[string]any{"snapshot_id": info.ID, "snapshot_timestamp": info.Timestamp}

	tmp := filepath.Join(m.dir, tmpPrefix+info.ID)
	if err := os.Mkdir(tmp, 0o750); err != nil {
		return Info{}, storageError(op, err)
	}
	if err := writeSnapshot(tmp, exp, info); err != nil {
		_ = os.RemoveAll(tmp)
		return Info{}, storageError(op, err)
	}
	if err := os.Rename(tmp, filepath.Join(m.dir, info.Timestamp)); err != nil {
		_ = os.RemoveAll(tmp)
		return Info{}, storageError(op, err)
	}

	m.logger.Info("snapshot created",
		"timestamp", info.Timestamp,
		"nodes", info.NodeCount,
		"relationships", info.RelationshipCount,
		"compressed", info.Compressed,
	)
	if err := m.prune(); err != nil {
		m.logger.Warn("failed to prune snapshots", "error", err)
	}
	return info, nil
}

func writeSnapshot(dir string, exp *graph.Export, info Info) (err error) {
	name := graphFile
	if info.Compressed {
		name = compressedGraphFile
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	var enc *zstd.Encoder
	if info.Compressed {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return err
		}
		w = enc
	}
	if err := exp.WriteJSON(w); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}

	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o640)
}

// List returns every readable snapshot, newest first. Directories without
// readable metadata are skipped with a warning.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	const op = "Manager.List"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, storageError(op, err)
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := readInfo(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable snapshot", "snapshot", e.Name(), "error", err)
			continue
		}
		info.Timestamp = e.Name()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out, nil
}

func readInfo(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Latest returns the newest snapshot, or ErrSnapshotNotFound.
func (m *Manager) Latest(ctx context.Context) (Info, error) {
	list, err := m.List(ctx)
	if err != nil {
		return Info{}, err
	}
	if len(list) == 0 {
		return Info{}, graph.NewNotFoundError("Manager.Latest", ErrSnapshotNotFound)
	}
	return list[0], nil
}

// Restore imports the snapshot with the given timestamp into the source,
// replacing its contents.
func (m *Manager) Restore(ctx context.Context, timestamp string) (graph.RestoreReport, error) {
	const op = "Manager.Restore"
	if _, err := time.Parse(TimestampLayout, timestamp); err != nil {
		return graph.RestoreReport{}, graph.NewValidationError(op, fmt.Errorf("invalid snapshot timestamp %q: %w", timestamp, err))
	}
	dir := filepath.Join(m.dir, timestamp)
	info, err := readInfo(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return graph.RestoreReport{}, graph.NewNotFoundError(op, ErrSnapshotNotFound).
			WithContext(map[string]any{"timestamp": timestamp})
	}
	if err != nil {
		return graph.RestoreReport{}, storageError(op, err)
	}

	exp, err := readExport(dir, info.Compressed)
	if err != nil {
		return graph.RestoreReport{}, storageError(op, err)
	}
	report, err := m.source.ImportGraph(ctx, exp)
	if err != nil {
		return graph.RestoreReport{}, err
	}
	m.logger.Info("snapshot restored",
		"timestamp", timestamp,
		"nodes", report.Nodes,
		"relationships", report.Relationships,
	)
	return report, nil
}

func readExport(dir string, compressed bool) (*graph.Export, error) {
	name := graphFile
	if compressed {
		name = compressedGraphFile
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	return graph.ReadExport(r)
}

// prune removes snapshots beyond the retention count, oldest modification
// time first.
func (m *Manager) prune() error {
	if m.opts.maxSnapshots <= 0 {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	type aged struct {
		name    string
		modTime time.Time
	}
	var snaps []aged
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, aged{name: e.Name(), modTime: fi.ModTime()})
	}
	if len(snaps) <= m.opts.maxSnapshots {
		return nil
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].modTime.Equal(snaps[j].modTime) {
			return snaps[i].name < snaps[j].name
		}
		return snaps[i].modTime.Before(snaps[j].modTime)
	})
	var errs []error
	for _, s := range snaps[:len(snaps)-m.opts.maxSnapshots] {
		if err := os.RemoveAll(filepath.Join(m.dir, s.name)); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("pruned snapshot", "timestamp", s.name)
	}
	return errors.Join(errs...)
}

func storageError(op string, err error) error {
	return graph.NewStorageError(op, fmt.Errorf("%w: %w", graph.ErrStorageFailed, err))
}
