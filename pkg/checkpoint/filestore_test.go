package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/mongorelay/pkg/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "progress"))
	require.NoError(t, err)
	return store
}

func TestBulkCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cp, err := store.LoadBulk("users")
	require.NoError(t, err)
	assert.Nil(t, cp, "missing checkpoint should load as nil")

	require.NoError(t, store.SaveBulk("users", &types.BulkCheckpoint{
		LastID: "507f1f77bcf86cd799439011",
		Count:  1000,
	}))

	cp, err = store.LoadBulk("users")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "507f1f77bcf86cd799439011", cp.LastID)
	assert.Equal(t, int64(1000), cp.Count)
	assert.NotEmpty(t, cp.Timestamp, "save should stamp the checkpoint")
}

func TestBulkCheckpointFileShape(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveBulk("users", &types.BulkCheckpoint{LastID: "abc", Count: 5}))

	data, err := os.ReadFile(filepath.Join(store.Dir(), "users.json"))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "last_id")
	assert.Contains(t, raw, "count")
	assert.Contains(t, raw, "timestamp")
}

func TestCorruptCheckpointTreatedAsAbsent(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Dir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0644))

	cp, err := store.LoadBulk("users")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveBulk("users", &types.BulkCheckpoint{LastID: "x", Count: 1}))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestPollingCheckpointMergesCounters(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SavePolling("orders", &types.PollingCheckpoint{
		LastUpdatedAt: "2024-01-01T00:00:00Z",
		Updates:       10,
		Deletions:     2,
	}))
	require.NoError(t, store.SavePolling("orders", &types.PollingCheckpoint{
		LastUpdatedAt: "2024-01-02T00:00:00Z",
		Updates:       5,
		Deletions:     1,
	}))

	cp, err := store.LoadPolling("orders")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(15), cp.Updates, "updates accumulate across saves")
	assert.Equal(t, int64(3), cp.Deletions, "deletions accumulate across saves")
	assert.Equal(t, "2024-01-02T00:00:00Z", cp.LastUpdatedAt)
}

func TestPollingSaveKeepsWatermarkWhenIncrementOnly(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SavePolling("orders", &types.PollingCheckpoint{
		LastUpdatedAt:     "2024-01-01T00:00:00Z",
		LastOperationTime: "507f1f77bcf86cd799439011",
		Updates:           3,
	}))
	// A deletes-only save passes no watermark.
	require.NoError(t, store.SavePolling("orders", &types.PollingCheckpoint{
		Deletions: 4,
	}))

	cp, err := store.LoadPolling("orders")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "2024-01-01T00:00:00Z", cp.LastUpdatedAt)
	assert.Equal(t, "507f1f77bcf86cd799439011", cp.LastOperationTime)
	assert.Equal(t, int64(3), cp.Updates)
	assert.Equal(t, int64(4), cp.Deletions)
}

func TestResumeTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cp, err := store.LoadResumeToken("events")
	require.NoError(t, err)
	assert.Nil(t, cp)

	token := map[string]interface{}{"_data": "8265A1B2C3000000012B022C0100"}
	require.NoError(t, store.SaveResumeToken("events", &types.StreamCheckpoint{Token: token}))

	cp, err = store.LoadResumeToken("events")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "8265A1B2C3000000012B022C0100", cp.Token["_data"])
}

func TestClearResumeToken(t *testing.T) {
	store := newTestStore(t)

	// Clearing a token that was never saved is not an error.
	require.NoError(t, store.ClearResumeToken("events"))

	require.NoError(t, store.SaveResumeToken("events", &types.StreamCheckpoint{
		Token: map[string]interface{}{"_data": "abc"},
	}))
	require.NoError(t, store.ClearResumeToken("events"))

	cp, err := store.LoadResumeToken("events")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestHistoryRingTrims(t *testing.T) {
	store := newTestStore(t)

	history, err := store.LoadHistory()
	require.NoError(t, err)
	assert.Empty(t, history)

	entries := make([]types.HistoryEntry, 0, 15)
	for i := 0; i < 15; i++ {
		entries = append(entries, types.HistoryEntry{
			Timestamp: "2024-01-01T00:00:00Z",
			Count:     int64(i),
		})
	}
	history = types.CheckpointHistory{"users": entries}
	require.NoError(t, store.SaveHistory(history))

	loaded, err := store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, loaded["users"], types.HistoryLimit)
	assert.Equal(t, int64(14), loaded["users"][types.HistoryLimit-1].Count, "newest entries survive the trim")
	assert.Equal(t, int64(5), loaded["users"][0].Count, "oldest entries are dropped")
}
