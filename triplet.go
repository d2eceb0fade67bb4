package cag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/graph/id"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultEntityLabel labels triplet endpoints created without a label.
const DefaultEntityLabel = "Entity"

// Triplet is a (subject, predicate, object) unit of knowledge. It is
// materialized as two nodes and one relationship.
type Triplet struct {
	Subject      string `json:"subject"`
	SubjectLabel string `json:"subject_label,omitempty"`

	// Predicate is free-form ("uses technique") and is normalized to a
	// relationship type ("USES_TECHNIQUE").
	Predicate string `json:"predicate"`

	Object      string `json:"object"`
	ObjectLabel string `json:"object_label,omitempty"`

	// Properties are attached to the relationship.
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate reports whether the triplet has a subject, predicate and object
// and whether its endpoint labels are valid node labels.
func (t Triplet) Validate() error {
	const op = "Triplet.Validate"
	switch {
	case strings.TrimSpace(t.Subject) == "":
		return newValidationError(op, ErrInvalidTriplet, "subject is required")
	case strings.TrimSpace(t.Predicate) == "":
		return newValidationError(op, ErrInvalidTriplet, "predicate is required")
	case strings.TrimSpace(t.Object) == "":
		return newValidationError(op, ErrInvalidTriplet, "object is required")
	}
	if _, err := graph.NormalizeLabels([]string{labelOrDefault(t.SubjectLabel)}); err != nil {
		return graph.NewValidationError(op, fmt.Errorf("subject label: %w", err))
	}
	if _, err := graph.NormalizeLabels([]string{labelOrDefault(t.ObjectLabel)}); err != nil {
		return graph.NewValidationError(op, fmt.Errorf("object label: %w", err))
	}
	return nil
}

// SubjectID returns the deterministic node id of the subject.
func (t Triplet) SubjectID() string {
	return id.Node(labelOrDefault(t.SubjectLabel), t.Subject)
}

// ObjectID returns the deterministic node id of the object.
func (t Triplet) ObjectID() string {
	return id.Node(labelOrDefault(t.ObjectLabel), t.Object)
}

func labelOrDefault(label string) string {
	if label = strings.TrimSpace(label); label != "" {
		return label
	}
	return DefaultEntityLabel
}

// AddKnowledgeTriplet materializes a triplet and invalidates the query
// cache. Endpoint nodes are created only when missing, so existing nodes
// keep their properties and version. The relationship is then created
// between them. The cache is invalidated whenever the graph changed, even
// when a later step fails.
func (m *Manager) AddKnowledgeTriplet(ctx context.Context, t Triplet) error {
	ctx, span := m.cfg.tracer.Start(ctx, "cag.AddKnowledgeTriplet",
		trace.WithAttributes(attribute.String("cag.predicate", t.Predicate)))
	defer span.End()

	wrote, err := m.addTriplet(ctx, t)
	if wrote && err != nil {
		m.InvalidateCache(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.InvalidateCache(ctx)
	return nil
}

// AddKnowledge materializes a batch of triplets and invalidates the cache
// once. Triplets are applied in order without atomicity; a failing triplet
// is skipped and reported in the joined error. The cache is invalidated when
// any node or relationship was written. Returns the number of triplets
// added.
func (m *Manager) AddKnowledge(ctx context.Context, triplets []Triplet) (int, error) {
	ctx, span := m.cfg.tracer.Start(ctx, "cag.AddKnowledge",
		trace.WithAttributes(attribute.Int("cag.triplets", len(triplets))))
	defer span.End()

	added := 0
	changed := false
	var errs []error
	for i, t := range triplets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		wrote, err := m.addTriplet(ctx, t)
		changed = changed || wrote
		if err != nil {
			errs = append(errs, fmt.Errorf("triplet %d: %w", i, err))
			continue
		}
		added++
	}
	if changed {
		m.InvalidateCache(ctx)
	}

	span.SetAttributes(attribute.Int("cag.triplets.added", added))
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "some triplets failed")
	}
	return added, err
}

// addTriplet reports whether it wrote to the store, including on failure.
func (m *Manager) addTriplet(ctx context.Context, t Triplet) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	subjectID, subjectCreated, err := m.ensureNode(ctx, t.SubjectID(), labelOrDefault(t.SubjectLabel), t.Subject)
	if err != nil {
		return false, err
	}
	objectID, objectCreated, err := m.ensureNode(ctx, t.ObjectID(), labelOrDefault(t.ObjectLabel), t.Object)
	wrote := subjectCreated || objectCreated
	if err != nil {
		return wrote, err
	}
	relType := id.RelationshipType(t.Predicate)
	if _, err := m.store.CreateRelationship(ctx, subjectID, objectID, relType, t.Properties); err != nil {
		return wrote, err
	}
	m.cfg.logger.Debug("added knowledge triplet",
		"subject", subjectID,
		"type", relType,
		"object", objectID,
	)
	return true, nil
}

// ensureNode creates the node when it does not exist and reports whether
// it did.
func (m *Manager) ensureNode(ctx context.Context, nodeID, label, name string) (string, bool, error) {
	_, err := m.store.GetNode(ctx, nodeID)
	if err == nil {
		return nodeID, false, nil
	}
	if !graph.IsNotFound(err) {
		return "", false, err
	}
	if _, err := m.store.CreateNode(ctx, nodeID, []string{label}, map[string]any{"name": strings.TrimSpace(name)}); err != nil {
		return "", false, err
	}
	return nodeID, true, nil
}
