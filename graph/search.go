package graph

import (
	"context"
	"sort"
	"strings"
)

// Relevance weights for the scored search.
const (
	idMatchWeight       = 2
	labelMatchWeight    = 3
	propertyMatchWeight = 1
)

// Search finds nodes matching a free-text query, capped at limit (a limit
// <= 0 returns every match).
//
// The unscored search matches the whole lower-cased query as a substring of
// the node id, any label, or any property key or value, returning matches in
// insertion order with Score 0.
//
// The scored search (WithScoredSearch) splits the query into terms. For each
// term an id match adds 2, a label match adds 3 and a property match adds 1.
// Results are ordered by descending score, ties in insertion order.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	const op = "Store.Search"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if q == "" {
		return []SearchResult{}, nil
	}
	if s.opts.scoredSearch {
		return s.scoredSearchLocked(strings.Fields(q), limit), nil
	}
	return s.substringSearchLocked(q, limit), nil
}

func (s *Store) substringSearchLocked(q string, limit int) []SearchResult {
	out := make([]SearchResult, 0)
	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if containsFold(n.ID, q) || anyLabelMatches(n, q) || anyPropertyMatches(n, q) {
			out = append(out, SearchResult{Node: n.Clone()})
		}
	}
	return out
}

func (s *Store) scoredSearchLocked(terms []string, limit int) []SearchResult {
	out := make([]SearchResult, 0)
	for _, n := range s.nodes {
		if n == nil {
			continue
		}
		score := 0
		for _, term := range terms {
			if containsFold(n.ID, term) {
				score += idMatchWeight
			}
			if anyLabelMatches(n, term) {
				score += labelMatchWeight
			}
			if anyPropertyMatches(n, term) {
				score += propertyMatchWeight
			}
		}
		if score > 0 {
			out = append(out, SearchResult{Node: n, Score: float64(score)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Node = out[i].Node.Clone()
	}
	return out
}

// containsFold reports whether lower-cased s contains the lower-cased term.
func containsFold(s, term string) bool {
	return strings.Contains(strings.ToLower(s), term)
}

func anyLabelMatches(n *Node, term string) bool {
	for _, l := range n.Labels {
		if containsFold(l, term) {
			return true
		}
	}
	return false
}

func anyPropertyMatches(n *Node, term string) bool {
	for k, v := range n.Properties {
		if containsFold(k, term) || containsFold(searchText(v), term) {
			return true
		}
	}
	return false
}

func searchText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return normalizeValue(val)
	}
}
