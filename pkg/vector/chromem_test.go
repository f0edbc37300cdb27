package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore("", false)
	require.NoError(t, err)
	return s
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{1, 0, 0}, "go routines", map[string]string{"doc": "d1"}))
	require.NoError(t, s.Upsert(ctx, "kb", "c2", []float32{0, 1, 0}, "python asyncio", map[string]string{"doc": "d2"}))

	results, err := s.Query(ctx, "kb", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "go routines", results[0].Content)
	assert.Equal(t, "d1", results[0].Metadata["doc"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestChromemStore_ScoresNormalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "same", []float32{1, 0}, "", nil))
	require.NoError(t, s.Upsert(ctx, "kb", "opposite", []float32{-1, 0}, "", nil))

	results, err := s.Query(ctx, "kb", []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.InDelta(t, 1.0, results[0].Score, 0.01)
	assert.InDelta(t, 0.0, results[1].Score, 0.01)
}

func TestChromemStore_EmptyCollectionReturnsEmpty(t *testing.T) {
	s := newTestStore(t)

	results, err := s.Query(context.Background(), "nothing-here", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_QueryClampsK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "only", []float32{1, 0}, "", nil))

	results, err := s.Query(ctx, "kb", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemStore_ReUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{1, 0}, "old text", map[string]string{"rev": "1"}))
	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{0, 1}, "new text", map[string]string{"rev": "2"}))

	results, err := s.Query(ctx, "kb", []float32{0, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Content)
	assert.Equal(t, "2", results[0].Metadata["rev"])
}

func TestChromemStore_MetadataFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{1, 0}, "", map[string]string{"doc": "d1"}))
	require.NoError(t, s.Upsert(ctx, "kb", "c2", []float32{0.9, 0.1}, "", map[string]string{"doc": "d2"}))

	results, err := s.Query(ctx, "kb", []float32{1, 0}, 2, map[string]string{"doc": "d2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ID)
}

func TestChromemStore_DeleteAndDeleteCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{1, 0}, "", nil))
	require.NoError(t, s.Upsert(ctx, "kb", "c2", []float32{0, 1}, "", nil))

	require.NoError(t, s.Delete(ctx, "kb", "c1"))
	results, err := s.Query(ctx, "kb", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ID)

	require.NoError(t, s.DeleteCollection(ctx, "kb"))
	results, err = s.Query(ctx, "kb", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "kb", "c1", []float32{1, 0}, "kept", nil))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(dir, false)
	require.NoError(t, err)
	results, err := reopened.Query(ctx, "kb", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Content)
}
