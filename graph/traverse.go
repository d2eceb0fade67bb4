package graph

import (
	"context"
	"fmt"
	"strings"
)

// importanceBoosts weights relationship types that carry more context.
var importanceBoosts = map[string]float64{
	"PART_OF":  0.2,
	"CONTAINS": 0.2,
	"CAUSES":   0.3,
	"ENABLES":  0.3,
}

// ImportanceBoost returns the ranking boost for a relationship type,
// matched case-insensitively. Unknown types get 0.
func ImportanceBoost(relType string) float64 {
	return importanceBoosts[strings.ToUpper(relType)]
}

// DistanceScore is 1/(depth+1) plus the importance boost of the
// relationship that reached the node.
func DistanceScore(depth int, relType string) float64 {
	return 1/float64(depth+1) + ImportanceBoost(relType)
}

// GetNodeContext expands breadth-first from the node id, following
// relationships in both directions.
//
// maxDepth bounds the number of hops; maxNodes caps the result size and is
// checked after every appended node, so expansion can stop mid-level. The
// seed node itself is not part of the result. Each node appears at most
// once, which makes the walk safe on cyclic graphs.
//
// Returns a not-found error when id is not in the store.
func (s *Store) GetNodeContext(ctx context.Context, id string, maxDepth, maxNodes int) ([]ContextNode, error) {
	const op = "Store.GetNodeContext"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	start, ok := s.nodeIDs[id]
	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: %q", ErrNodeNotFound, id))
	}

	result := make([]ContextNode, 0)
	if maxDepth <= 0 || maxNodes <= 0 {
		return result, nil
	}

	visited := map[handle]struct{}{start: {}}
	frontier := []handle{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0 && len(result) < maxNodes; depth++ {
		var next []handle
	level:
		for _, h := range frontier {
			current := s.nodes[h]
			for _, rh := range s.incidentLocked(h, DirectionBoth) {
				r := s.rels[rh]
				farID := r.Other(current.ID)
				farH := s.nodeIDs[farID]
				if _, seen := visited[farH]; seen {
					continue
				}
				dir := DirectionIncoming
				if r.ToNodeID == farID {
					dir = DirectionOutgoing
				}
				cn := ContextNode{
					Node:                   s.nodes[farH].Clone(),
					RelationshipType:       r.Type,
					Direction:              dir,
					RelationshipProperties: cloneProperties(r.Properties),
					Depth:                  depth + 1,
				}
				if s.opts.distanceScoring {
					cn.DistanceScore = DistanceScore(cn.Depth, r.Type)
				}
				result = append(result, cn)
				visited[farH] = struct{}{}
				next = append(next, farH)
				if len(result) >= maxNodes {
					break level
				}
			}
		}
		frontier = next
	}
	return result, nil
}
