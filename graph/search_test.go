package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSearch(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateNode(ctx, "tool-mimikatz", []string{"Tool"}, map[string]any{"name": "Mimikatz", "platform": "windows"})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "t1003", []string{"Technique"}, map[string]any{"name": "Credential Dumping", "tool": "mimikatz"})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "host-1", []string{"Host"}, map[string]any{"ip": "10.0.0.5"})
	require.NoError(t, err)
}

func TestSearch_Substring(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSearch(t, s)

	results, err := s.Search(ctx, "MIMIKATZ", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "tool-mimikatz", results[0].Node.ID)
	assert.Equal(t, "t1003", results[1].Node.ID)
	assert.Zero(t, results[0].Score)

	byLabel, err := s.Search(ctx, "technique", 10)
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	assert.Equal(t, "t1003", byLabel[0].Node.ID)

	limited, err := s.Search(ctx, "mimikatz", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// The whole query is one substring in unscored mode.
	none, err := s.Search(ctx, "mimikatz windows", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	blank, err := s.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, blank)
}

func TestSearch_Scored(t *testing.T) {
	s := newTestStore(t, WithScoredSearch(true))
	ctx := context.Background()
	seedSearch(t, s)

	results, err := s.Search(ctx, "mimikatz windows", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// tool-mimikatz: id(2) + property(1) for "mimikatz", property(1) for "windows".
	assert.Equal(t, "tool-mimikatz", results[0].Node.ID)
	assert.Equal(t, float64(4), results[0].Score)
	assert.Equal(t, "t1003", results[1].Node.ID)
	assert.Equal(t, float64(1), results[1].Score)

	byLabel, err := s.Search(ctx, "tool", 10)
	require.NoError(t, err)
	require.Len(t, byLabel, 2)
	// Label (3) plus id (2); t1003 only matches the property key "tool".
	assert.Equal(t, "tool-mimikatz", byLabel[0].Node.ID)
	assert.Equal(t, float64(5), byLabel[0].Score)
	assert.Equal(t, "t1003", byLabel[1].Node.ID)
	assert.Equal(t, float64(1), byLabel[1].Score)

	top, err := s.Search(ctx, "mimikatz", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "tool-mimikatz", top[0].Node.ID)
}
