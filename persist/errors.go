package persist

import "errors"

var (
	// ErrArtifactMissing indicates that an artifact has never been saved.
	// Loading treats it as a fresh start.
	ErrArtifactMissing = errors.New("artifact not found")

	// ErrCorruptArtifact indicates an artifact that exists but cannot be
	// decoded. Corrupt artifacts are quarantined and skipped on load.
	ErrCorruptArtifact = errors.New("corrupt artifact")
)
