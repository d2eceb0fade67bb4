package cag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/graph/id"
)

func TestTriplet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		triplet Triplet
		wantErr error
	}{
		{
			name:    "complete",
			triplet: Triplet{Subject: "Mimikatz", Predicate: "uses", Object: "LSASS"},
		},
		{
			name:    "missing subject",
			triplet: Triplet{Subject: " ", Predicate: "uses", Object: "LSASS"},
			wantErr: ErrInvalidTriplet,
		},
		{
			name:    "missing predicate",
			triplet: Triplet{Subject: "Mimikatz", Object: "LSASS"},
			wantErr: ErrInvalidTriplet,
		},
		{
			name:    "missing object",
			triplet: Triplet{Subject: "Mimikatz", Predicate: "uses"},
			wantErr: ErrInvalidTriplet,
		},
		{
			name:    "labelled",
			triplet: Triplet{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "uses", Object: "LSASS", ObjectLabel: "Process"},
		},
		{
			name:    "invalid subject label",
			triplet: Triplet{Subject: "Mimikatz", SubjectLabel: "bad label", Predicate: "uses", Object: "LSASS"},
			wantErr: graph.ErrInvalidLabel,
		},
		{
			name:    "invalid object label",
			triplet: Triplet{Subject: "Mimikatz", Predicate: "uses", Object: "LSASS", ObjectLabel: "Process!"},
			wantErr: graph.ErrInvalidLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.triplet.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, graph.IsValidation(err))
		})
	}
}

func TestTriplet_IDs(t *testing.T) {
	tr := Triplet{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "uses", Object: "LSASS"}
	assert.Equal(t, id.Node("Tool", "Mimikatz"), tr.SubjectID())
	assert.Equal(t, id.Node(DefaultEntityLabel, "LSASS"), tr.ObjectID())

	same := Triplet{Subject: " mimikatz ", SubjectLabel: "Tool"}
	assert.Equal(t, tr.SubjectID(), same.SubjectID())
}

func TestAddKnowledgeTriplet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := newManager(t, store)

	tr := Triplet{
		Subject:      "Mimikatz",
		SubjectLabel: "Tool",
		Predicate:    "uses technique",
		Object:       "Credential Dumping",
		ObjectLabel:  "Technique",
		Properties:   map[string]any{"confidence": 0.9},
	}
	require.NoError(t, m.AddKnowledgeTriplet(ctx, tr))

	subject, err := store.GetNode(ctx, tr.SubjectID())
	require.NoError(t, err)
	assert.Equal(t, []string{"Tool"}, subject.Labels)
	assert.Equal(t, "Mimikatz", subject.Properties["name"])

	rels, err := store.FindRelationships(ctx, tr.SubjectID(), "USES_TECHNIQUE", graph.DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, tr.ObjectID(), rels[0].ToNodeID)
	assert.Equal(t, 0.9, rels[0].Properties["confidence"])

	got, err := m.GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)
	assert.Contains(t, got, "- Credential Dumping [")
}

func TestAddKnowledgeTriplet_ExistingNodesUntouched(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := newManager(t, store)

	tr := Triplet{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "targets", Object: "LSASS"}
	_, err := store.CreateNode(ctx, tr.SubjectID(), []string{"Tool"}, map[string]any{"name": "Mimikatz", "author": "gentilkiwi"})
	require.NoError(t, err)

	require.NoError(t, m.AddKnowledgeTriplet(ctx, tr))

	subject, err := store.GetNode(ctx, tr.SubjectID())
	require.NoError(t, err)
	assert.Equal(t, 1, subject.Version)
	assert.Equal(t, "gentilkiwi", subject.Properties["author"])
}

func TestAddKnowledgeTriplet_Invalid(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := newManager(t, store)

	_, err := m.GetContextForQuery(ctx, "mimikatz")
	require.NoError(t, err)

	err = m.AddKnowledgeTriplet(ctx, Triplet{Subject: "Mimikatz"})
	require.Error(t, err)
	assert.True(t, graph.IsValidation(err))

	err = m.AddKnowledgeTriplet(ctx, Triplet{Subject: "Mimikatz", SubjectLabel: "bad label", Predicate: "uses", Object: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidLabel)

	n, err := m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed writes keep the cache")
	assert.Zero(t, store.Stats(ctx).Nodes)
}

func TestAddKnowledgeTriplet_InvalidObjectLabel(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := newManager(t, store)

	before, err := m.GetContextForQuery(ctx, "Mimikatz")
	require.NoError(t, err)
	require.Empty(t, before)

	err = m.AddKnowledgeTriplet(ctx, Triplet{
		Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "targets", Object: "LSASS", ObjectLabel: "bad label",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidLabel)
	assert.Zero(t, store.Stats(ctx).Nodes, "the subject is not created before the object label is checked")
}

// relFailingStore accepts nodes but rejects every relationship.
type relFailingStore struct {
	*graph.Store
}

func (s relFailingStore) CreateRelationship(context.Context, string, string, string, map[string]any) (*graph.Relationship, error) {
	return nil, graph.NewStorageError("CreateRelationship", graph.ErrStorageFailed)
}

func TestAddKnowledgeTriplet_PartialWriteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := relFailingStore{newStore(t)}
	m := newManager(t, store)

	before, err := m.GetContextForQuery(ctx, "Mimikatz")
	require.NoError(t, err)
	require.Empty(t, before)

	err = m.AddKnowledgeTriplet(ctx, Triplet{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "targets", Object: "LSASS"})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrStorageFailed)
	assert.Equal(t, 2, store.Stats(ctx).Nodes)

	n, err := m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nodes were written, so the cache is dropped")

	after, err := m.GetContextForQuery(ctx, "Mimikatz")
	require.NoError(t, err)
	assert.Contains(t, after, "## Tool\n- Mimikatz [")
}

func TestAddKnowledge_PartialWriteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := relFailingStore{newStore(t)}
	m := newManager(t, store)

	_, err := m.GetContextForQuery(ctx, "Mimikatz")
	require.NoError(t, err)

	added, err := m.AddKnowledge(ctx, []Triplet{
		{Subject: "Mimikatz", SubjectLabel: "Tool", Predicate: "targets", Object: "LSASS"},
	})
	assert.Zero(t, added)
	require.Error(t, err)

	n, err := m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddKnowledge_Batch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())
	m := newManager(t, store, WithTracer(tp.Tracer("test")))

	_, err := m.GetContextForQuery(ctx, "nmap")
	require.NoError(t, err)

	added, err := m.AddKnowledge(ctx, []Triplet{
		{Subject: "nmap", SubjectLabel: "Tool", Predicate: "performs", Object: "Port Scanning", ObjectLabel: "Technique"},
		{Subject: "nmap", Predicate: ""},
		{Subject: "masscan", SubjectLabel: "Tool", Predicate: "performs", Object: "Port Scanning", ObjectLabel: "Technique"},
	})
	assert.Equal(t, 2, added)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTriplet)
	assert.Contains(t, err.Error(), "triplet 1")

	assert.Equal(t, 3, store.Stats(ctx).Nodes, "shared object node is created once")
	assert.Equal(t, 2, store.Stats(ctx).Relationships)

	n, err := m.CacheLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"cag.GetContextForQuery", "cag.AddKnowledge"}, names)
}

func TestAddKnowledge_Cancelled(t *testing.T) {
	store := newStore(t)
	m := newManager(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	added, err := m.AddKnowledge(ctx, []Triplet{{Subject: "a", Predicate: "b", Object: "c"}})
	assert.Zero(t, added)
	assert.True(t, errors.Is(err, context.Canceled))
}
