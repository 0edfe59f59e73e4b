package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/storage"
)

// memSource is an in-memory Source over a fixed doc set.
type memSource struct {
	embedder embedding.Embedder
	docs     []Doc
}

func (s *memSource) VectorCandidates(ctx context.Context, queryVec []float32, k int) ([]Doc, []float64, error) {
	if storage.IsZeroVector(queryVec) {
		return nil, nil, nil
	}
	type scored struct {
		doc  Doc
		dist float64
	}
	var all []scored
	for _, d := range s.docs {
		vec, err := s.embedder.Embed(ctx, d.Title+"\n"+joinFields(d))
		if err != nil {
			return nil, nil, err
		}
		all = append(all, scored{doc: d, dist: storage.CosineDistance(queryVec, vec)})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].dist < all[j-1].dist; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	docs := make([]Doc, len(all))
	dists := make([]float64, len(all))
	for i, sc := range all {
		docs[i] = sc.doc
		dists[i] = sc.dist
	}
	return docs, dists, nil
}

func (s *memSource) ScanAll(context.Context) ([]Doc, error) { return s.docs, nil }

func joinFields(d Doc) string {
	out := ""
	for _, f := range d.Fields {
		out += f + " "
	}
	return out
}

func newFixture() (*Engine, *memSource) {
	embedder := embedding.NewHashEmbedder(384)
	src := &memSource{
		embedder: embedder,
		docs: []Doc{
			{Key: "1", Title: "JWT authentication", Fields: []string{"token based auth login flows"}},
			{Key: "2", Title: "OAuth flow", Fields: []string{"third party auth delegation"}},
			{Key: "3", Title: "Database migration", Fields: []string{"schema versioning scripts"}},
		},
	}
	return NewEngine(embedder), src
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	engine, src := newFixture()

	_, err := engine.Search(context.Background(), src, "   ", Options{})
	require.Error(t, err)
	je, ok := jiveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, jiveerr.CodeValidation, je.Code)
}

func TestSearch_HybridRanksRelevantFirst(t *testing.T) {
	engine, src := newFixture()

	results, err := engine.Search(context.Background(), src, "token based login auth", Options{Mode: ModeHybrid, Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Doc.Key)
	assert.LessOrEqual(t, len(results), 2)
}

func TestSearch_KeywordTitleBoost(t *testing.T) {
	engine, src := newFixture()

	results, err := engine.Search(context.Background(), src, "migration", Options{Mode: ModeKeyword})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "3", results[0].Doc.Key)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearch_SemanticMode(t *testing.T) {
	engine, src := newFixture()

	results, err := engine.Search(context.Background(), src, "JWT authentication", Options{Mode: ModeSemantic, Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].Doc.Key)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearch_UnknownModeRejected(t *testing.T) {
	engine, src := newFixture()

	_, err := engine.Search(context.Background(), src, "anything", Options{Mode: "fuzzy"})
	assert.Error(t, err)
}

func TestSearch_ThresholdDropsWeakHits(t *testing.T) {
	engine, src := newFixture()

	all, err := engine.Search(context.Background(), src, "auth", Options{Mode: ModeKeyword})
	require.NoError(t, err)
	filtered, err := engine.Search(context.Background(), src, "auth", Options{Mode: ModeKeyword, SimilarityThreshold: 0.99})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(filtered), len(all))
}

func TestClampLimit(t *testing.T) {
	limit, warning, err := ClampLimit(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, limit)
	assert.Empty(t, warning)

	limit, warning, err = ClampLimit(250)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, limit)
	assert.NotEmpty(t, warning)

	_, _, err = ClampLimit(-1)
	assert.Error(t, err)
}
