package graph

import (
	"context"
	"slices"
)

// IndexSnapshot is a readable rendering of the store indices, keyed by
// label, property key ("key:value"), relationship type, and node id for
// the endpoint indices. Values are node or relationship ids in insertion
// order. Indices are derived data; a snapshot is never authoritative.
type IndexSnapshot struct {
	Labels            map[string][]string `json:"labels"`
	Properties        map[string][]string `json:"properties"`
	RelationshipTypes map[string][]string `json:"relationship_types"`
	Outgoing          map[string][]string `json:"outgoing"`
	Incoming          map[string][]string `json:"incoming"`
}

// State is a deep copy of the full store contents, taken atomically.
type State struct {
	Nodes         []*Node         `json:"nodes"`
	Relationships []*Relationship `json:"relationships"`
	Indexes       IndexSnapshot   `json:"indexes"`
}

// RestoreReport describes the outcome of Restore.
type RestoreReport struct {
	Nodes                int `json:"nodes"`
	Relationships        int `json:"relationships"`
	DroppedNodes         int `json:"dropped_nodes"`
	DroppedRelationships int `json:"dropped_relationships"`
}

// Dump returns a consistent deep copy of the store, including an index
// snapshot. It holds the read lock for the duration of the copy, so it never
// observes a half-applied mutation.
func (s *Store) Dump(ctx context.Context) (*State, error) {
	const op = "Store.Dump"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	st := &State{
		Nodes:         make([]*Node, 0, s.liveNodes),
		Relationships: make([]*Relationship, 0, s.liveRels),
		Indexes:       s.indexSnapshotLocked(),
	}
	for _, n := range s.nodes {
		if n != nil {
			st.Nodes = append(st.Nodes, n.Clone())
		}
	}
	for _, r := range s.rels {
		if r != nil {
			st.Relationships = append(st.Relationships, r.Clone())
		}
	}
	return st, nil
}

// IndexSnapshot renders the current indices.
func (s *Store) IndexSnapshot(ctx context.Context) (IndexSnapshot, error) {
	const op = "Store.IndexSnapshot"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return IndexSnapshot{}, err
	}
	return s.indexSnapshotLocked(), nil
}

func (s *Store) indexSnapshotLocked() IndexSnapshot {
	nodeIDs := func(hs []handle) []string {
		out := make([]string, len(hs))
		for i, h := range hs {
			out[i] = s.nodes[h].ID
		}
		return out
	}
	relIDs := func(hs []handle) []string {
		out := make([]string, len(hs))
		for i, h := range hs {
			out[i] = s.rels[h].ID
		}
		return out
	}

	snap := IndexSnapshot{
		Labels:            make(map[string][]string, s.byLabel.size()),
		Properties:        make(map[string][]string, s.byProp.size()),
		RelationshipTypes: make(map[string][]string, s.relByType.size()),
		Outgoing:          make(map[string][]string, s.relByFrom.size()),
		Incoming:          make(map[string][]string, s.relByTo.size()),
	}
	for _, k := range s.byLabel.keys() {
		snap.Labels[k] = nodeIDs(s.byLabel.get(k))
	}
	for _, k := range s.byProp.keys() {
		snap.Properties[k] = nodeIDs(s.byProp.get(k))
	}
	for _, k := range s.relByType.keys() {
		snap.RelationshipTypes[k] = relIDs(s.relByType.get(k))
	}
	for _, h := range s.relByFrom.keys() {
		snap.Outgoing[s.nodes[h].ID] = relIDs(s.relByFrom.get(h))
	}
	for _, h := range s.relByTo.keys() {
		snap.Incoming[s.nodes[h].ID] = relIDs(s.relByTo.get(h))
	}
	return snap
}

// Equal reports whether two index snapshots hold the same keys and members,
// ignoring member order.
func (a IndexSnapshot) Equal(b IndexSnapshot) bool {
	return sameIndex(a.Labels, b.Labels) &&
		sameIndex(a.Properties, b.Properties) &&
		sameIndex(a.RelationshipTypes, b.RelationshipTypes) &&
		sameIndex(a.Outgoing, b.Outgoing) &&
		sameIndex(a.Incoming, b.Incoming)
}

func sameIndex(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		as, bs := slices.Clone(av), slices.Clone(bv)
		slices.Sort(as)
		slices.Sort(bs)
		if !slices.Equal(as, bs) {
			return false
		}
	}
	return true
}

// Restore replaces the store contents with the given records, rebuilding
// every index from them. Records are copied and re-validated: nodes with an
// invalid id or labels are dropped, as are relationships with an invalid
// type or a missing endpoint. The store must be connected.
func (s *Store) Restore(ctx context.Context, nodes []*Node, rels []*Relationship) (RestoreReport, error) {
	const op = "Store.Restore"
	if err := ctx.Err(); err != nil {
		return RestoreReport{}, err
	}
	var report RestoreReport
	cleanNodes := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		c, ok := s.sanitizeNode(n)
		if !ok {
			report.DroppedNodes++
			continue
		}
		cleanNodes = append(cleanNodes, c)
	}
	cleanRels := make([]*Relationship, 0, len(rels))
	for _, r := range rels {
		c, ok := sanitizeRelationship(r)
		if !ok {
			report.DroppedRelationships++
			continue
		}
		cleanRels = append(cleanRels, c)
	}

	s.mu.Lock()
	if err := s.checkOpen(op); err != nil {
		s.mu.Unlock()
		return RestoreReport{}, err
	}
	s.resetLocked()
	report.DroppedRelationships += s.loadLocked(cleanNodes, cleanRels)
	report.Nodes = s.liveNodes
	report.Relationships = s.liveRels
	s.mu.Unlock()

	if report.DroppedNodes > 0 || report.DroppedRelationships > 0 {
		s.logger.Warn("dropped invalid records during restore",
			"dropped_nodes", report.DroppedNodes,
			"dropped_relationships", report.DroppedRelationships,
		)
	}
	s.notify(OpImport)
	return report, nil
}

func (s *Store) sanitizeNode(n *Node) (*Node, bool) {
	if n == nil || ValidateID(n.ID) != nil {
		return nil, false
	}
	labels, err := NormalizeLabels(n.Labels)
	if err != nil {
		return nil, false
	}
	props, err := CanonicalProperties(n.Properties)
	if err != nil {
		return nil, false
	}
	c := &Node{
		ID:         n.ID,
		Labels:     labels,
		Properties: props,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		Version:    n.Version,
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.opts.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Version < 1 {
		c.Version = 1
	}
	return c, true
}

func sanitizeRelationship(r *Relationship) (*Relationship, bool) {
	if r == nil || r.ID == "" || ValidateRelationshipType(r.Type) != nil {
		return nil, false
	}
	props, err := CanonicalProperties(r.Properties)
	if err != nil {
		return nil, false
	}
	c := r.Clone()
	c.Properties = props
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Version < 1 {
		c.Version = 1
	}
	return c, true
}
