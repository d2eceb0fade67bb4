package graph

import (
	"slices"
	"time"
)

// Node is a labelled vertex in the knowledge graph.
type Node struct {
	// ID is the caller-supplied unique identifier.
	ID string `json:"id"`

	// Labels categorize the node (e.g., "Tool", "Technique"). Stored as a
	// sorted set.
	Labels []string `json:"labels"`

	// Properties holds JSON-representable values. Values are kept in their
	// canonical decoded JSON form, so integers come back as float64.
	Properties map[string]any `json:"properties"`

	// CreatedAt is preserved across upserts.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed by every upsert.
	UpdatedAt time.Time `json:"updated_at"`

	// Version starts at 1 and is incremented by every upsert.
	Version int `json:"version"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	_, found := slices.BinarySearch(n.Labels, label)
	return found
}

// Property returns a property value and whether it was present.
func (n *Node) Property(key string) (any, bool) {
	if n.Properties == nil {
		return nil, false
	}
	v, ok := n.Properties[key]
	return v, ok
}

// PrimaryLabel returns the first label in sorted order, or "" for a node
// without labels.
func (n *Node) PrimaryLabel() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Labels:     slices.Clone(n.Labels),
		Properties: cloneProperties(n.Properties),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		Version:    n.Version,
	}
}

// Relationship is a directed, typed edge between two nodes.
type Relationship struct {
	ID         string         `json:"id"`
	FromNodeID string         `json:"from_node_id"`
	ToNodeID   string         `json:"to_node_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Version    int            `json:"version"`
}

// Other returns the endpoint opposite nodeID.
func (r *Relationship) Other(nodeID string) string {
	if r.FromNodeID == nodeID {
		return r.ToNodeID
	}
	return r.FromNodeID
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Properties = cloneProperties(r.Properties)
	return &clone
}

// Direction selects which incident relationships a lookup returns.
type Direction string

const (
	// DirectionBoth returns outgoing and incoming relationships.
	DirectionBoth Direction = ""

	// DirectionOutgoing returns relationships where the node is the source.
	DirectionOutgoing Direction = "outgoing"

	// DirectionIncoming returns relationships where the node is the target.
	DirectionIncoming Direction = "incoming"
)

// ParseDirection parses "outgoing", "incoming", "both" or "".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "both":
		return DirectionBoth, nil
	case "outgoing", "out":
		return DirectionOutgoing, nil
	case "incoming", "in":
		return DirectionIncoming, nil
	default:
		return DirectionBoth, NewValidationError("ParseDirection", ErrInvalidFormat).
			WithContext(map[string]any{"direction": s})
	}
}

// String returns the direction name, "both" for DirectionBoth.
func (d Direction) String() string {
	if d == DirectionBoth {
		return "both"
	}
	return string(d)
}

// ContextNode is a node reached during context expansion, annotated with the
// relationship that led to it.
type ContextNode struct {
	Node *Node `json:"node"`

	// RelationshipType is empty for seed nodes.
	RelationshipType string `json:"relationship_type,omitempty"`

	// Direction is outgoing when the node is the "to" side of the
	// relationship that reached it.
	Direction Direction `json:"direction,omitempty"`

	RelationshipProperties map[string]any `json:"relationship_properties,omitempty"`

	// Depth is the number of hops from the seed; seeds have depth 0.
	Depth int `json:"depth"`

	// DistanceScore is 1/(depth+1) plus the relationship importance boost.
	// Zero when distance scoring is disabled.
	DistanceScore float64 `json:"distance_score,omitempty"`
}

// SearchResult is a node matched by Search.
type SearchResult struct {
	Node *Node `json:"node"`

	// Score is the relevance score; zero for the unscored search.
	Score float64 `json:"score"`
}

// Stats summarizes store contents.
type Stats struct {
	Nodes             int  `json:"nodes"`
	Relationships     int  `json:"relationships"`
	Labels            int  `json:"labels"`
	RelationshipTypes int  `json:"relationship_types"`
	Connected         bool `json:"connected"`
}
