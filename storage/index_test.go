package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

func TestFTSIndexRanking(t *testing.T) {
	ix := NewFTSIndex([]string{schema.ColTitle, schema.ColTextContent})
	ix.AddDocument("u-1", "greetings", "hello world, hello again")
	ix.AddDocument("u-2", "farewell", "goodbye world")
	ix.AddDocument("u-3", "unrelated", "cabbages and kings")

	hits := ix.Search("hello", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "u-1", hits[0].UUID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits = ix.Search("world", 10)
	require.Len(t, hits, 2)
}

func TestFTSIndexDeterministicTieBreak(t *testing.T) {
	ix := NewFTSIndex([]string{schema.ColTextContent})
	ix.AddDocument("u-b", "same words here")
	ix.AddDocument("u-a", "same words here")

	first := ix.Search("same words", 10)
	second := ix.Search("same words", 10)
	require.Equal(t, first, second)
	assert.Equal(t, "u-a", first[0].UUID, "ties break by uuid")
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, WORLD! 42"))
	assert.Empty(t, Tokenize("--- !!!"))
}

func seededVectors(n, dim int) ([]string, [][]float32) {
	uuids := make([]string, n)
	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		uuids[i] = fmt.Sprintf("u-%03d", i)
		v := make([]float32, dim)
		v[i%dim] = 1
		v[(i+1)%dim] = float32(i) / float32(n)
		vectors[i] = v
	}
	return uuids, vectors
}

func TestFlatSearchTopK(t *testing.T) {
	uuids, vectors := seededVectors(20, 4)
	query := []float32{1, 0, 0, 0}
	hits := FlatSearch(uuids, vectors, query, 5, MetricCosine)
	require.Len(t, hits, 5)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestFlatSearchDeterminism(t *testing.T) {
	uuids, vectors := seededVectors(20, 4)
	query := []float32{0, 1, 0, 0}
	first := FlatSearch(uuids, vectors, query, 10, MetricCosine)
	second := FlatSearch(uuids, vectors, query, 10, MetricCosine)
	assert.Equal(t, first, second)
}

func TestIVFIndexFindsNeighbours(t *testing.T) {
	uuids, vectors := seededVectors(64, 4)
	ix, err := BuildVectorIndex(uuids, vectors, 4, VectorIndexParams{Partitions: 4, Metric: MetricCosine})
	require.NoError(t, err)

	query := vectors[7]
	hits := ix.Search(query, 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, uuids[7], hits[0].UUID, "a stored vector is its own nearest neighbour")
}

func TestIVFPQIndexRoundTrips(t *testing.T) {
	uuids, vectors := seededVectors(64, 4)
	ix, err := BuildVectorIndex(uuids, vectors, 4, VectorIndexParams{
		Partitions: 4, SubQuantizers: 2, Metric: MetricL2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ix.Codes)
	assert.Empty(t, ix.Vectors)

	hits := ix.Search(vectors[3], 5)
	require.NotEmpty(t, hits)
}

func TestSimilarityMetrics(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0, similarity(a, b, MetricCosine), 1e-9)
	assert.InDelta(t, 1, similarity(a, a, MetricCosine), 1e-9)
	assert.InDelta(t, 0, similarity(a, b, MetricDot), 1e-9)
	assert.InDelta(t, 0, similarity(a, a, MetricL2), 1e-9)
	assert.Less(t, similarity(a, b, MetricL2), similarity(a, a, MetricL2))
}

func TestScalarIndexKinds(t *testing.T) {
	btree := NewScalarIndex(schema.ColAuthor, ScalarBTree)
	btree.Add("u-2", "bob")
	btree.Add("u-1", "ada")
	btree.Add("u-3", "ada")
	assert.Equal(t, []string{"ada", "bob"}, btree.Values)
	assert.Equal(t, []string{"u-1", "u-3"}, btree.Lookup("ada"))

	bitmap := NewScalarIndex(schema.ColStatus, ScalarBitmap)
	bitmap.Add("u-1", "published")
	bitmap.Add("u-2", "published")
	assert.Equal(t, 1, bitmap.Cardinality())

	inverted := NewScalarIndex(schema.ColTitle, ScalarInverted)
	inverted.Add("u-1", "Hello World")
	assert.Equal(t, []string{"u-1"}, inverted.Lookup("hello"))
}

func TestTableIndexLifecycle(t *testing.T) {
	table := testTable(t)
	ctx := context.Background()
	var recs []*models.Record
	for i := 0; i < 12; i++ {
		r := rec(fmt.Sprintf("u-%02d", i), fmt.Sprintf("doc %d about topic", i))
		r.TextContent = fmt.Sprintf("text body %d", i)
		r.Vector = []float32{float32(i), 1, 0, 0}
		recs = append(recs, r)
	}
	require.NoError(t, table.Append(ctx, schema.ToBatch(recs)))

	require.NoError(t, table.CreateFTSIndex(ctx, "fts_default", nil))
	require.NoError(t, table.CreateScalarIndex(ctx, "scalar_status", schema.ColStatus, ScalarBitmap))
	require.NoError(t, table.CreateVectorIndex(ctx, "vector_ivf", VectorIndexParams{Partitions: 2}))

	stats := table.Stats()
	require.Len(t, stats.Indices, 3)

	ref, ok := table.IndexRefByKind("fts")
	require.True(t, ok)
	ix, err := table.LoadFTSIndex(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 12, ix.NumDocs)

	// A write staleness-marks the indices; optimize rebuilds them.
	require.NoError(t, table.Append(ctx, schema.ToBatch([]*models.Record{rec("u-99", "fresh")})))
	rebuilt, err := table.OptimizeIndices(ctx)
	require.NoError(t, err)
	assert.Len(t, rebuilt, 3)

	require.NoError(t, table.DropIndex(ctx, "scalar_status"))
	_, ok = table.IndexRefByKind("bitmap")
	assert.False(t, ok)

	require.Error(t, table.DropIndex(ctx, "missing"))
}
