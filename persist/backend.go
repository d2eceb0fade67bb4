package persist

import (
	"context"
	"log/slog"
)

// Artifact names one of the four independently stored parts of a store.
type Artifact string

const (
	ArtifactNodes         Artifact = "nodes"
	ArtifactRelationships Artifact = "relationships"
	ArtifactIndexes       Artifact = "indexes"
	ArtifactMetadata      Artifact = "metadata"
)

// Artifacts lists every artifact in load order.
var Artifacts = []Artifact{ArtifactMetadata, ArtifactNodes, ArtifactRelationships, ArtifactIndexes}

// Backend stores encoded artifacts. Every Write is a full overwrite of the
// artifact; a reader never observes a partially written artifact.
type Backend interface {
	// Read returns the artifact contents, or ErrArtifactMissing.
	Read(ctx context.Context, a Artifact) ([]byte, error)

	// Write replaces the artifact contents.
	Write(ctx context.Context, a Artifact, data []byte) error

	// Quarantine moves a corrupt artifact aside so the next save starts
	// clean while the bad data stays available for inspection.
	Quarantine(ctx context.Context, a Artifact) error

	// Close releases backend resources.
	Close() error
}

// BackendFactory opens a Backend rooted at a store directory.
type BackendFactory func(dir string, logger *slog.Logger) (Backend, error)
