package syncdata

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

func newService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	root := t.TempDir()
	store, err := storage.NewStore(config.StorageConfig{Path: root, BusyTimeout: 5000}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, root, log), store
}

func seedItem(t *testing.T, store *storage.Store, ns, title string) *models.WorkItem {
	t.Helper()
	now := time.Now().UTC()
	item := &models.WorkItem{
		ID: uuid.New(), Namespace: ns, ItemType: models.TypeTask, Title: title,
		Status: models.StatusNotStarted, Priority: models.PriorityMedium,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Upsert(context.Background(), item))
	return item
}

func TestSync_DBToFileAndBack(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	item := seedItem(t, store, "default", "exported")

	result, err := svc.Sync(ctx, "default", DBToFile)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsWritten)
	_, err = os.Stat(result.File)
	require.NoError(t, err)

	// wipe the row and pull it back from the file
	require.NoError(t, store.Delete(ctx, &models.WorkItem{}, storage.Filter{"id": item.ID}))
	result, err = svc.Sync(ctx, "default", FileToDB)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsRead)

	var restored models.WorkItem
	require.NoError(t, store.Get(ctx, &restored, storage.Filter{"id": item.ID}))
	assert.Equal(t, "exported", restored.Title)
}

func TestSync_InvalidDirection(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Sync(context.Background(), "default", "sideways")
	require.Error(t, err)
	assert.Equal(t, jiveerr.CodeValidation, jiveerr.CodeOf(err))
}

func TestStatusReportsBothSides(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seedItem(t, store, "default", "one")
	st, err := svc.GetStatus(ctx, "default")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.WorkItems)
	assert.False(t, st.FileExists)

	_, err = svc.Sync(ctx, "default", DBToFile)
	require.NoError(t, err)
	st, err = svc.GetStatus(ctx, "default")
	require.NoError(t, err)
	assert.True(t, st.FileExists)
	assert.Equal(t, 1, st.FileItems)
}

func TestBackupAndRestore(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	item := seedItem(t, store, "default", "precious")

	name, err := svc.Backup(ctx, "default")
	require.NoError(t, err)
	require.NotEmpty(t, name)

	backups, err := svc.Backups()
	require.NoError(t, err)
	assert.Contains(t, backups, name)

	require.NoError(t, store.Delete(ctx, &models.WorkItem{}, storage.Filter{"id": item.ID}))

	result, err := svc.Restore(ctx, "default", name)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsRead)

	var restored models.WorkItem
	require.NoError(t, store.Get(ctx, &restored, storage.Filter{"id": item.ID}))
	assert.Equal(t, "precious", restored.Title)
}

func TestRestoreMissingBackup(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Restore(context.Background(), "default", "nope")
	require.Error(t, err)
	assert.Equal(t, jiveerr.CodeNotFound, jiveerr.CodeOf(err))
}

func TestValidateDiff(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seedItem(t, store, "default", "synced")
	_, err := svc.Sync(ctx, "default", DBToFile)
	require.NoError(t, err)

	diff, err := svc.Validate(ctx, "default")
	require.NoError(t, err)
	assert.True(t, diff.InSync)

	extra := seedItem(t, store, "default", "new since sync")
	diff, err = svc.Validate(ctx, "default")
	require.NoError(t, err)
	assert.False(t, diff.InSync)
	assert.Contains(t, diff.OnlyInStore, extra.ID.String())
}
