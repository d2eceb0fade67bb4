// Package graph implements an embedded property graph: typed nodes and
// relationships held in an arena, secondary indices over labels, properties
// and relationship endpoints, search, and depth-bounded context expansion.
//
// The same Store serves both the in-memory variant used by tests and small
// fixtures and, configured through options, the core of the disk-backed
// variant in package persist.
//
// A Store is safe for concurrent use. Every exported operation takes the
// store lock for its full duration, so no reader ever observes a
// half-applied mutation such as an in-progress cascading delete.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mutation operation names reported to observers.
const (
	OpCreateNode         = "create_node"
	OpCreateRelationship = "create_relationship"
	OpDeleteNode         = "delete_node"
	OpImport             = "import"
)

// compactMinDead is the number of freed slots before the arena is compacted.
const compactMinDead = 1024

// MutationObserver is called after a successful mutation, outside the
// store lock.
type MutationObserver func(op string)

// Store is an arena-backed property graph. Node and relationship records
// are owned by slot slices; every index stores slot handles only.
type Store struct {
	mu        sync.RWMutex
	opts      options
	logger    *slog.Logger
	connected bool

	nodes   []*Node
	nodeIDs map[string]handle
	rels    []*Relationship
	relIDs  map[string]handle
	relKeys map[string]handle

	byLabel   *multimap[string]
	byProp    *multimap[string]
	relByType *multimap[string]
	relByFrom *multimap[handle]
	relByTo   *multimap[handle]

	liveNodes int
	liveRels  int

	obsMu     sync.RWMutex
	observers []MutationObserver
}

// NewMemoryStore creates a disconnected store. Call Connect before use.
func NewMemoryStore(opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{opts: o, logger: o.logger}
	s.resetLocked()
	return s
}

// Connect creates an empty graph. Connecting an already connected store is
// a no-op.
func (s *Store) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.resetLocked()
	s.connected = true
	s.logger.Debug("graph store connected")
	return nil
}

// Close disconnects the store and clears all in-memory state.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.connected = false
	s.logger.Debug("graph store disconnected")
	return nil
}

// Connected reports whether the store accepts operations.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// OnMutation registers an observer for successful mutations.
func (s *Store) OnMutation(fn MutationObserver) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(op string) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(op)
	}
}

func (s *Store) resetLocked() {
	s.nodes = nil
	s.nodeIDs = make(map[string]handle)
	s.rels = nil
	s.relIDs = make(map[string]handle)
	s.relKeys = make(map[string]handle)
	s.byLabel = newMultimap[string]()
	s.byProp = newMultimap[string]()
	s.relByType = newMultimap[string]()
	s.relByFrom = newMultimap[handle]()
	s.relByTo = newMultimap[handle]()
	s.liveNodes = 0
	s.liveRels = 0
}

func (s *Store) checkOpen(op string) error {
	if !s.connected {
		return NewConcurrencyError(op, ErrStoreClosed)
	}
	return nil
}

// CreateNode creates a node or, when id already exists, replaces its labels
// and properties, increments its version and refreshes UpdatedAt while
// preserving CreatedAt.
func (s *Store) CreateNode(ctx context.Context, id string, labels []string, properties map[string]any) (*Node, error) {
	const op = "Store.CreateNode"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateID(id); err != nil {
		return nil, NewValidationError(op, err)
	}
	normLabels, err := NormalizeLabels(labels)
	if err != nil {
		return nil, NewValidationError(op, err).WithContext(map[string]any{"node_id": id})
	}
	props, err := CanonicalProperties(properties)
	if err != nil {
		return nil, NewValidationError(op, err).WithContext(map[string]any{"node_id": id})
	}

	s.mu.Lock()
	if err := s.checkOpen(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	n := s.upsertNodeLocked(id, normLabels, props, s.opts.now())
	out := n.Clone()
	s.mu.Unlock()

	s.notify(OpCreateNode)
	return out, nil
}

func (s *Store) upsertNodeLocked(id string, labels []string, props map[string]any, now time.Time) *Node {
	if h, ok := s.nodeIDs[id]; ok {
		n := s.nodes[h]
		s.unindexNodeLocked(h, n)
		n.Labels = labels
		n.Properties = props
		n.Version++
		n.UpdatedAt = now
		s.indexNodeLocked(h, n)
		return n
	}
	n := &Node{
		ID:         id,
		Labels:     labels,
		Properties: props,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	s.insertNodeLocked(n)
	return n
}

func (s *Store) insertNodeLocked(n *Node) handle {
	h := handle(len(s.nodes))
	s.nodes = append(s.nodes, n)
	s.nodeIDs[n.ID] = h
	s.liveNodes++
	s.indexNodeLocked(h, n)
	return h
}

func (s *Store) indexNodeLocked(h handle, n *Node) {
	for _, l := range n.Labels {
		s.byLabel.add(l, h)
	}
	for k, v := range n.Properties {
		for _, key := range propertyKeys(k, v) {
			s.byProp.add(key, h)
		}
	}
}

func (s *Store) unindexNodeLocked(h handle, n *Node) {
	for _, l := range n.Labels {
		s.byLabel.remove(l, h)
	}
	for k, v := range n.Properties {
		for _, key := range propertyKeys(k, v) {
			s.byProp.remove(key, h)
		}
	}
}

// propertyKeys returns every index key for a property. Arrays are indexed
// as a whole and per scalar element.
func propertyKeys(k string, v any) []string {
	keys := []string{propertyKey(k, v)}
	if arr, ok := v.([]any); ok {
		for _, e := range arr {
			switch e.(type) {
			case map[string]any, []any:
				continue
			}
			keys = append(keys, propertyKey(k, e))
		}
	}
	return keys
}

// GetNode returns a copy of the node with the given id.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	const op = "Store.GetNode"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	h, ok := s.nodeIDs[id]
	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: %q", ErrNodeNotFound, id))
	}
	return s.nodes[h].Clone(), nil
}

// CreateRelationship creates a typed relationship between two existing
// nodes. It fails with a not-found error naming the missing endpoint.
// When relationship upsert is enabled, a repeated (from, to, type) triple
// updates the existing relationship.
func (s *Store) CreateRelationship(ctx context.Context, from, to, relType string, properties map[string]any) (*Relationship, error) {
	const op = "Store.CreateRelationship"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateRelationshipType(relType); err != nil {
		return nil, NewValidationError(op, err)
	}
	props, err := CanonicalProperties(properties)
	if err != nil {
		return nil, NewValidationError(op, err)
	}

	s.mu.Lock()
	if err := s.checkOpen(op); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	r, err := s.upsertRelationshipLocked(op, from, to, relType, props, s.opts.now())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := r.Clone()
	s.mu.Unlock()

	s.notify(OpCreateRelationship)
	return out, nil
}

func relKey(from, to, relType string) string {
	return from + "\x00" + to + "\x00" + relType
}

func (s *Store) upsertRelationshipLocked(op, from, to, relType string, props map[string]any, now time.Time) (*Relationship, error) {
	fromH, ok := s.nodeIDs[from]
	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: from node %q", ErrNodeNotFound, from)).
			WithContext(map[string]any{"endpoint": "from", "node_id": from})
	}
	toH, ok := s.nodeIDs[to]
	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: to node %q", ErrNodeNotFound, to)).
			WithContext(map[string]any{"endpoint": "to", "node_id": to})
	}

	if s.opts.upsertRelationships {
		if h, ok := s.relKeys[relKey(from, to, relType)]; ok {
			r := s.rels[h]
			r.Properties = props
			r.Version++
			r.UpdatedAt = now
			return r, nil
		}
	}

	rid := s.opts.relationshipID(from, to, relType)
	if h, ok := s.relIDs[rid]; ok {
		r := s.rels[h]
		if r.FromNodeID == from && r.ToNodeID == to && r.Type == relType {
			r.Properties = props
			r.Version++
			r.UpdatedAt = now
			return r, nil
		}
		return nil, NewValidationError(op, fmt.Errorf("%w: relationship id %q already in use", ErrInvalidFormat, rid))
	}

	r := &Relationship{
		ID:         rid,
		FromNodeID: from,
		ToNodeID:   to,
		Type:       relType,
		Properties: props,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	s.insertRelationshipLocked(r, fromH, toH)
	return r, nil
}

func (s *Store) insertRelationshipLocked(r *Relationship, fromH, toH handle) handle {
	h := handle(len(s.rels))
	s.rels = append(s.rels, r)
	s.relIDs[r.ID] = h
	if s.opts.upsertRelationships {
		s.relKeys[relKey(r.FromNodeID, r.ToNodeID, r.Type)] = h
	}
	s.relByType.add(r.Type, h)
	s.relByFrom.add(fromH, h)
	s.relByTo.add(toH, h)
	s.liveRels++
	return h
}

func (s *Store) removeRelationshipLocked(h handle) {
	r := s.rels[h]
	if r == nil {
		return
	}
	s.relByType.remove(r.Type, h)
	if fromH, ok := s.nodeIDs[r.FromNodeID]; ok {
		s.relByFrom.remove(fromH, h)
	}
	if toH, ok := s.nodeIDs[r.ToNodeID]; ok {
		s.relByTo.remove(toH, h)
	}
	delete(s.relIDs, r.ID)
	key := relKey(r.FromNodeID, r.ToNodeID, r.Type)
	if cur, ok := s.relKeys[key]; ok && cur == h {
		delete(s.relKeys, key)
	}
	s.rels[h] = nil
	s.liveRels--
}

// GetRelationship returns a copy of the relationship with the given id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	const op = "Store.GetRelationship"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	h, ok := s.relIDs[id]
	if !ok {
		return nil, NewNotFoundError(op, fmt.Errorf("%w: %q", ErrRelationshipNotFound, id))
	}
	return s.rels[h].Clone(), nil
}

// FindNodesByLabel returns up to limit nodes carrying label, in insertion
// order. A limit <= 0 returns every match.
func (s *Store) FindNodesByLabel(ctx context.Context, label string, limit int) ([]*Node, error) {
	const op = "Store.FindNodesByLabel"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	return s.collectNodesLocked(s.byLabel.get(label), limit), nil
}

// FindNodesByProperty returns up to limit nodes whose property key equals
// value. Keys and string values match case-insensitively. A limit <= 0
// returns every match.
func (s *Store) FindNodesByProperty(ctx context.Context, key string, value any, limit int) ([]*Node, error) {
	const op = "Store.FindNodesByProperty"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cv, err := canonicalValue(value)
	if err != nil {
		return nil, NewValidationError(op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	return s.collectNodesLocked(s.byProp.get(propertyKey(key, cv)), limit), nil
}

func (s *Store) collectNodesLocked(handles []handle, limit int) []*Node {
	n := len(handles)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Node, 0, n)
	for _, h := range handles[:n] {
		out = append(out, s.nodes[h].Clone())
	}
	return out
}

// FindRelationships returns the relationships incident to nodeID, filtered
// by relType when non-empty. DirectionBoth unions outgoing then incoming.
// An unknown node yields an empty result.
func (s *Store) FindRelationships(ctx context.Context, nodeID, relType string, dir Direction) ([]*Relationship, error) {
	const op = "Store.FindRelationships"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	h, ok := s.nodeIDs[nodeID]
	if !ok {
		return []*Relationship{}, nil
	}
	handles := s.incidentLocked(h, dir)
	out := make([]*Relationship, 0, len(handles))
	for _, rh := range handles {
		r := s.rels[rh]
		if relType != "" && r.Type != relType {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// incidentLocked returns relationship handles incident to node h, outgoing
// first, each relationship at most once.
func (s *Store) incidentLocked(h handle, dir Direction) []handle {
	switch dir {
	case DirectionOutgoing:
		return s.relByFrom.get(h)
	case DirectionIncoming:
		return s.relByTo.get(h)
	}
	out := s.relByFrom.get(h)
	for _, rh := range s.relByTo.get(h) {
		if s.relByFrom.has(h, rh) {
			continue
		}
		out = append(out, rh)
	}
	return out
}

// DeleteNode removes a node and every relationship incident to it. It
// reports whether the node existed; deleting a missing node is a no-op.
func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	const op = "Store.DeleteNode"
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	if err := s.checkOpen(op); err != nil {
		s.mu.Unlock()
		return false, err
	}
	h, ok := s.nodeIDs[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	for _, rh := range s.incidentLocked(h, DirectionBoth) {
		s.removeRelationshipLocked(rh)
	}
	s.unindexNodeLocked(h, s.nodes[h])
	delete(s.nodeIDs, id)
	s.nodes[h] = nil
	s.liveNodes--
	s.maybeCompactLocked()
	s.mu.Unlock()

	s.notify(OpDeleteNode)
	return true, nil
}

// maybeCompactLocked rebuilds the arena and every index once freed slots
// outnumber live ones.
func (s *Store) maybeCompactLocked() {
	dead := len(s.nodes) - s.liveNodes + len(s.rels) - s.liveRels
	if dead < compactMinDead || dead <= s.liveNodes+s.liveRels {
		return
	}
	nodes, rels := s.liveRecordsLocked()
	s.resetLocked()
	s.loadLocked(nodes, rels)
	s.logger.Debug("graph arena compacted", "freed_slots", dead)
}

func (s *Store) liveRecordsLocked() ([]*Node, []*Relationship) {
	nodes := make([]*Node, 0, s.liveNodes)
	for _, n := range s.nodes {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	rels := make([]*Relationship, 0, s.liveRels)
	for _, r := range s.rels {
		if r != nil {
			rels = append(rels, r)
		}
	}
	return nodes, rels
}

// loadLocked inserts whole records into an empty arena. Relationships with
// a missing endpoint or a duplicate id are dropped and counted.
func (s *Store) loadLocked(nodes []*Node, rels []*Relationship) (dropped int) {
	for _, n := range nodes {
		if h, ok := s.nodeIDs[n.ID]; ok {
			s.unindexNodeLocked(h, s.nodes[h])
			s.nodes[h] = n
			s.indexNodeLocked(h, n)
			continue
		}
		s.insertNodeLocked(n)
	}
	for _, r := range rels {
		fromH, okFrom := s.nodeIDs[r.FromNodeID]
		toH, okTo := s.nodeIDs[r.ToNodeID]
		if !okFrom || !okTo {
			dropped++
			continue
		}
		if _, dup := s.relIDs[r.ID]; dup {
			dropped++
			continue
		}
		s.insertRelationshipLocked(r, fromH, toH)
	}
	return dropped
}

// Stats reports store counts.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Nodes:             s.liveNodes,
		Relationships:     s.liveRels,
		Labels:            s.byLabel.size(),
		RelationshipTypes: s.relByType.size(),
		Connected:         s.connected,
	}
}
