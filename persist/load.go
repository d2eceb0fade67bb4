package persist

import (
	"context"
	"errors"

	"github.com/zero-day-ai/cag/graph"
)

// load reads every artifact independently. A missing artifact is a fresh
// start; a corrupt one is quarantined and skipped. Indices are always
// rebuilt from the node and relationship tables and the stored snapshot is
// only compared against them.
func (s *Store) load(ctx context.Context, backend Backend) LoadReport {
	s.loading.Store(true)
	defer s.loading.Store(false)

	var report LoadReport
	s.pending.Store(0)
	s.totalOps.Store(0)
	s.lastSave.Store(s.opts.now().UnixNano())

	if data, ok := s.read(ctx, backend, ArtifactMetadata, &report); ok {
		meta, err := DecodeMetadata(data)
		if err != nil {
			s.quarantine(ctx, backend, ArtifactMetadata, err, &report)
		} else {
			report.Metadata = meta
			s.totalOps.Store(meta.OperationCount)
		}
	}

	var nodes []*graph.Node
	if data, ok := s.read(ctx, backend, ArtifactNodes, &report); ok {
		decoded, err := DecodeNodes(data)
		if err != nil {
			s.quarantine(ctx, backend, ArtifactNodes, err, &report)
		} else {
			nodes = decoded
		}
	}

	var rels []*graph.Relationship
	if data, ok := s.read(ctx, backend, ArtifactRelationships, &report); ok {
		decoded, err := DecodeRelationships(data)
		if err != nil {
			s.quarantine(ctx, backend, ArtifactRelationships, err, &report)
		} else {
			rels = decoded
		}
	}

	restored, err := s.Store.Restore(ctx, nodes, rels)
	if err != nil {
		s.logger.Warn("failed to restore persisted state", "error", err)
		return report
	}
	report.Restore = restored

	if data, ok := s.read(ctx, backend, ArtifactIndexes, &report); ok {
		stored, err := DecodeIndexes(data)
		if err != nil {
			s.quarantine(ctx, backend, ArtifactIndexes, err, &report)
		} else if rebuilt, err := s.Store.IndexSnapshot(ctx); err == nil && !stored.Equal(rebuilt) {
			report.IndexMismatch = true
			s.logger.Warn("stored index snapshot does not match rebuilt indices; using rebuilt indices")
		}
	}
	return report
}

func (s *Store) read(ctx context.Context, backend Backend, a Artifact, report *LoadReport) ([]byte, bool) {
	data, err := backend.Read(ctx, a)
	switch {
	case err == nil:
		return data, true
	case errors.Is(err, ErrArtifactMissing):
		report.Missing = append(report.Missing, a)
		s.logger.Debug("artifact not found, starting fresh", "artifact", string(a))
	default:
		report.Unreadable = append(report.Unreadable, a)
		s.logger.Warn("failed to read artifact", "artifact", string(a), "error", err)
	}
	return nil, false
}

func (s *Store) quarantine(ctx context.Context, backend Backend, a Artifact, cause error, report *LoadReport) {
	report.Quarantined = append(report.Quarantined, a)
	s.logger.Warn("failed to load artifact, skipping", "artifact", string(a), "error", cause)
	if err := backend.Quarantine(ctx, a); err != nil {
		s.logger.Error("failed to quarantine artifact", "artifact", string(a), "error", err)
	}
}
