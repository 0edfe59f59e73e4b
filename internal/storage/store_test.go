package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store, err := NewStore(config.StorageConfig{Path: t.TempDir(), BusyTimeout: 5000}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testItem(ns, title string) *models.WorkItem {
	now := time.Now().UTC()
	return &models.WorkItem{
		ID:        uuid.New(),
		Namespace: ns,
		ItemType:  models.TypeTask,
		Title:     title,
		Status:    models.StatusNotStarted,
		Priority:  models.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("default", "Write docs")
	require.NoError(t, store.Upsert(ctx, item))

	var got models.WorkItem
	require.NoError(t, store.Get(ctx, &got, Filter{"namespace": "default", "id": item.ID}))
	assert.Equal(t, item.Title, got.Title)
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)

	var got models.WorkItem
	err := store.Get(context.Background(), &got, Filter{"id": uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LastWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("default", "original")
	item.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, item))

	// a stale write with an older updated_at must not clobber the row
	stale := *item
	stale.Title = "stale"
	stale.UpdatedAt = item.UpdatedAt.Add(-time.Hour)
	require.NoError(t, store.Upsert(ctx, &stale))

	var got models.WorkItem
	require.NoError(t, store.Get(ctx, &got, Filter{"id": item.ID}))
	assert.Equal(t, "original", got.Title)

	// a newer write does
	fresh := *item
	fresh.Title = "fresh"
	fresh.UpdatedAt = item.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, &fresh))
	require.NoError(t, store.Get(ctx, &got, Filter{"id": item.ID}))
	assert.Equal(t, "fresh", got.Title)
}

func TestStore_ScanFiltersByNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testItem("project-a", "T")))
	require.NoError(t, store.Upsert(ctx, testItem("project-b", "U")))

	var items []models.WorkItem
	require.NoError(t, store.Scan(ctx, &items, Filter{"namespace": "project-a"}, Query{}))
	require.Len(t, items, 1)
	assert.Equal(t, "T", items[0].Title)
}

func TestStore_ScanNullFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := testItem("default", "root")
	child := testItem("default", "child")
	child.ParentID = &root.ID
	require.NoError(t, store.Upsert(ctx, root))
	require.NoError(t, store.Upsert(ctx, child))

	var roots []models.WorkItem
	require.NoError(t, store.Scan(ctx, &roots, Filter{"namespace": "default", "parent_id": nil}, Query{}))
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].Title)
}

func TestStore_Count(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testItem("default", "a")))
	require.NoError(t, store.Upsert(ctx, testItem("default", "b")))

	n, err := store.Count(ctx, &models.WorkItem{}, Filter{"namespace": "default"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("default", "gone")
	require.NoError(t, store.Upsert(ctx, item))
	require.NoError(t, store.Delete(ctx, &models.WorkItem{}, Filter{"id": item.ID}))

	var got models.WorkItem
	assert.ErrorIs(t, store.Get(ctx, &got, Filter{"id": item.ID}), ErrNotFound)

	// deleting again is not an error
	assert.NoError(t, store.Delete(ctx, &models.WorkItem{}, Filter{"id": item.ID}))
}

func TestStore_VectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := testItem("default", "near")
	near.Embedding = EncodeVector([]float32{1, 0, 0})
	far := testItem("default", "far")
	far.Embedding = EncodeVector([]float32{0, 1, 0})
	require.NoError(t, store.Upsert(ctx, near))
	require.NoError(t, store.Upsert(ctx, far))

	var hits []models.WorkItem
	distances, err := store.VectorSearch(ctx, &hits, Filter{"namespace": "default"}, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].Title)
	assert.InDelta(t, 0.0, distances[0], 1e-9)
}

func TestStore_VectorSearchZeroQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("default", "x")
	item.Embedding = EncodeVector([]float32{1, 0})
	require.NoError(t, store.Upsert(ctx, item))

	var hits []models.WorkItem
	distances, err := store.VectorSearch(ctx, &hits, Filter{"namespace": "default"}, []float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, distances)
}

func TestStore_OpenIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Open(ctx, "alpha")
	store.Open(ctx, "alpha")
	store.Open(ctx, "beta")
	assert.Equal(t, []string{"alpha", "beta"}, store.Namespaces())
}
