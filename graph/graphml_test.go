package graph

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphML_RoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()
	seedScenario(t, src)
	_, err := src.CreateNode(ctx, "A3", []string{"Host", "Target"}, map[string]any{"ip": "10.0.0.5", "open": true, "ports": []int{22}})
	require.NoError(t, err)
	_, err = src.CreateRelationship(ctx, "A1", "A3", "RUNS_ON", map[string]any{"confidence": 0.5})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.ExportGraphML(ctx, &buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `edgedefault="directed"`)
	assert.Contains(t, out, `attr.name="ip"`)

	dst := newTestStore(t)
	report, err := dst.ImportGraphML(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Nodes)
	assert.Equal(t, 2, report.Relationships)

	a3, err := dst.GetNode(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, []string{"Host", "Target"}, a3.Labels)
	assert.Equal(t, "10.0.0.5", a3.Properties["ip"])
	assert.Equal(t, true, a3.Properties["open"])
	assert.Equal(t, []any{float64(22)}, a3.Properties["ports"])

	rels, err := dst.FindRelationships(ctx, "A1", "RUNS_ON", DirectionOutgoing)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.5, rels[0].Properties["confidence"])

	found, err := dst.FindNodesByProperty(ctx, "name", "Mimikatz", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "A1", found[0].ID)
}

func TestImportGraphML_Lenient(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<graphml xmlns="http://graphml.graphdrawing.org/xmlns">
  <key id="d0" for="node" attr.name="name" attr.type="string"/>
  <graph id="g" edgedefault="directed">
    <node id="n1"><data key="d0">plain text</data></node>
    <node id="n2"/>
    <edge source="n1" target="n2"><data key="type">LINKS</data></edge>
    <edge source="n1" target="n2"/>
  </graph>
</graphml>`

	s := newTestStore(t)
	ctx := context.Background()
	report, err := s.ImportGraphML(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Nodes)
	assert.Equal(t, 1, report.Relationships)
	assert.Equal(t, 1, report.DroppedRelationships)

	n1, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Node"}, n1.Labels)
	assert.Equal(t, "plain text", n1.Properties["name"])
}

func TestImportGraphML_Invalid(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ImportGraphML(context.Background(), strings.NewReader("<graphml><graph>"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
