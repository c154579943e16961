package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBuildID = "6f1d2c1e-0a4b-4f3e-9d55-0c1f8e2b7a10"

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGetByBuildID(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()

	require.NoError(t, store.Append(ctx, testBuildID, TypeBuildStarted, []byte(`{"mode":"full"}`), map[string]string{"key": "value"}))
	require.NoError(t, store.Append(ctx, "other", TypeBuildStarted, []byte(`{}`), nil))
	require.NoError(t, store.Append(ctx, testBuildID, TypeBuildCompleted, []byte(`{}`), nil))

	events, err := store.GetByBuildID(ctx, testBuildID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeBuildStarted, events[0].Type())
	assert.Equal(t, TypeBuildCompleted, events[1].Type())
	assert.Equal(t, `{"mode":"full"}`, string(events[0].Payload()))
	assert.Equal(t, "value", events[0].Metadata()["key"])
	assert.Nil(t, events[1].Metadata())
	assert.Less(t, events[0].ID(), events[1].ID())
}

func TestGetRangeAndDeleteBefore(t *testing.T) {
	store := newMemoryStore(t)
	ctx := t.Context()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	require.NoError(t, store.Append(ctx, "a", TypeBuildStarted, nil, nil))
	clock = base.Add(2 * time.Hour)
	require.NoError(t, store.Append(ctx, "b", TypeBuildStarted, nil, nil))

	events, err := store.GetRange(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].BuildID())

	removed, err := store.DeleteBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err = store.GetRange(ctx, time.Time{}, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFileBackedStorePersists(t *testing.T) {
	path := t.TempDir() + "/history.db"
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(t.Context(), testBuildID, TypeBuildStarted, []byte(`{}`), nil))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	events, err := reopened.GetByBuildID(t.Context(), testBuildID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
