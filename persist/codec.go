package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zero-day-ai/cag/graph"
)

// FormatVersion is the on-disk format version recorded in metadata.
const FormatVersion = 1

// Relationship table header: magic followed by a version byte.
const (
	relationshipMagic   = "\xffCAG"
	relationshipVersion = byte(1)
)

// relationshipRecord is the msgpack wire form of a relationship. Field
// names are fixed by tag so the table survives struct renames.
type relationshipRecord struct {
	ID         string         `msgpack:"id"`
	From       string         `msgpack:"from"`
	To         string         `msgpack:"to"`
	Type       string         `msgpack:"type"`
	Properties map[string]any `msgpack:"props,omitempty"`
	CreatedAt  time.Time      `msgpack:"created_at"`
	UpdatedAt  time.Time      `msgpack:"updated_at"`
	Version    int            `msgpack:"version"`
}

// EncodeRelationships encodes the relationship table.
func EncodeRelationships(rels []*graph.Relationship) ([]byte, error) {
	records := make([]relationshipRecord, len(rels))
	for i, r := range rels {
		records[i] = relationshipRecord{
			ID:         r.ID,
			From:       r.FromNodeID,
			To:         r.ToNodeID,
			Type:       r.Type,
			Properties: r.Properties,
			CreatedAt:  r.CreatedAt.UTC(),
			UpdatedAt:  r.UpdatedAt.UTC(),
			Version:    r.Version,
		}
	}
	payload, err := msgpack.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode relationships: %w", err)
	}
	out := make([]byte, 0, len(relationshipMagic)+1+len(payload))
	out = append(out, relationshipMagic...)
	out = append(out, relationshipVersion)
	return append(out, payload...), nil
}

// DecodeRelationships decodes a relationship table written by
// EncodeRelationships. A missing header or an unknown version is reported as
// ErrCorruptArtifact.
func DecodeRelationships(data []byte) ([]*graph.Relationship, error) {
	if len(data) < len(relationshipMagic)+1 || string(data[:len(relationshipMagic)]) != relationshipMagic {
		return nil, fmt.Errorf("%w: missing relationship table header", ErrCorruptArtifact)
	}
	if v := data[len(relationshipMagic)]; v != relationshipVersion {
		return nil, fmt.Errorf("%w: unsupported relationship table version %d", ErrCorruptArtifact, v)
	}
	var records []relationshipRecord
	if err := msgpack.Unmarshal(data[len(relationshipMagic)+1:], &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	rels := make([]*graph.Relationship, len(records))
	for i, rec := range records {
		rels[i] = &graph.Relationship{
			ID:         rec.ID,
			FromNodeID: rec.From,
			ToNodeID:   rec.To,
			Type:       rec.Type,
			Properties: rec.Properties,
			CreatedAt:  rec.CreatedAt.UTC(),
			UpdatedAt:  rec.UpdatedAt.UTC(),
			Version:    rec.Version,
		}
	}
	return rels, nil
}

// EncodeNodes encodes the node table as indented JSON with RFC 3339
// timestamps.
func EncodeNodes(nodes []*graph.Node) ([]byte, error) {
	if nodes == nil {
		nodes = []*graph.Node{}
	}
	return encodeJSON(nodes)
}

// DecodeNodes decodes a node table written by EncodeNodes.
func DecodeNodes(data []byte) ([]*graph.Node, error) {
	var nodes []*graph.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return nodes, nil
}

// EncodeIndexes encodes an index snapshot as JSON.
func EncodeIndexes(idx graph.IndexSnapshot) ([]byte, error) {
	return encodeJSON(idx)
}

// DecodeIndexes decodes an index snapshot.
func DecodeIndexes(data []byte) (graph.IndexSnapshot, error) {
	var idx graph.IndexSnapshot
	if err := json.Unmarshal(data, &idx); err != nil {
		return graph.IndexSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return idx, nil
}

// Metadata is the operational metadata artifact.
type Metadata struct {
	FormatVersion     int       `json:"format_version"`
	OperationCount    int64     `json:"operation_count"`
	LastSave          time.Time `json:"last_save"`
	NodeCount         int       `json:"node_count"`
	RelationshipCount int       `json:"relationship_count"`
}

// EncodeMetadata encodes metadata as JSON.
func EncodeMetadata(m Metadata) ([]byte, error) {
	return encodeJSON(m)
}

// DecodeMetadata decodes metadata, rejecting newer format versions.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if m.FormatVersion > FormatVersion {
		return Metadata{}, fmt.Errorf("%w: unsupported format version %d", ErrCorruptArtifact, m.FormatVersion)
	}
	return m, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
