package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/types"
)

func newStore(t *testing.T) *checkpoint.FileStore {
	t.Helper()
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "progress"))
	require.NoError(t, err)
	return store
}

func mapping(collection string) types.CollectionMapping {
	return types.CollectionMapping{SourceDB: "src", TargetDB: "dst", Collection: collection}
}

func TestSnapshotReadsAllCheckpointKinds(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.SaveBulk("orders", &types.BulkCheckpoint{LastID: "66f0", Count: 5000}))
	require.NoError(t, store.SavePolling("orders", &types.PollingCheckpoint{
		LastUpdatedAt: "2026-01-05T10:00:00Z",
		Updates:       12,
		Deletions:     3,
	}))
	require.NoError(t, store.SaveResumeToken("orders", &types.StreamCheckpoint{
		Token: map[string]interface{}{"_data": "8266ABCDEF"},
	}))

	statuses := Snapshot(store, []types.CollectionMapping{mapping("orders"), mapping("users")})
	require.Len(t, statuses, 2)

	orders := statuses[0]
	assert.Equal(t, "orders", orders.Collection)
	assert.Equal(t, int64(5000), orders.Copied)
	assert.Equal(t, "66f0", orders.LastID)
	assert.NotEmpty(t, orders.CopiedAt)
	assert.Equal(t, int64(12), orders.Updates)
	assert.Equal(t, int64(3), orders.Deletions)
	assert.Equal(t, "2026-01-05T10:00:00Z", orders.Watermark)
	assert.True(t, orders.HasResumeToken)
	assert.NotEmpty(t, orders.LastSyncedAt)

	users := statuses[1]
	assert.Equal(t, "users", users.Collection)
	assert.Zero(t, users.Copied)
	assert.False(t, users.HasResumeToken)
	assert.Empty(t, users.LastSyncedAt)
}

func TestSnapshotWatermarkFallsBackToOperationTime(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.SavePolling("events", &types.PollingCheckpoint{
		LastOperationTime: "66f191a2b3c4d5e6f7a8b9c0",
	}))

	statuses := Snapshot(store, []types.CollectionMapping{mapping("events")})
	require.Len(t, statuses, 1)
	assert.Equal(t, "66f191a2b3c4d5e6f7a8b9c0", statuses[0].Watermark)
}

func TestUpdateHistoryAppendsAndDedupes(t *testing.T) {
	store := newStore(t)

	status := CollectionStatus{Collection: "orders", Copied: 1000, CopiedAt: "2026-01-05T10:00:00Z"}

	require.NoError(t, UpdateHistory(store, []CollectionStatus{status}))
	require.NoError(t, UpdateHistory(store, []CollectionStatus{status}))

	history, err := store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, history["orders"], 1, "identical observation must not append")

	status.Copied = 2000
	status.CopiedAt = "2026-01-05T10:00:30Z"
	require.NoError(t, UpdateHistory(store, []CollectionStatus{status}))

	history, err = store.LoadHistory()
	require.NoError(t, err)
	require.Len(t, history["orders"], 2)
	assert.Equal(t, int64(2000), history["orders"][1].Count)
}

func TestUpdateHistorySkipsCollectionsWithoutBulkProgress(t *testing.T) {
	store := newStore(t)

	require.NoError(t, UpdateHistory(store, []CollectionStatus{{Collection: "users"}}))

	history, err := store.LoadHistory()
	require.NoError(t, err)
	assert.Empty(t, history["users"])
}

func TestETA(t *testing.T) {
	entries := []types.HistoryEntry{
		{Timestamp: "2026-01-05T10:00:00Z", Count: 1000},
		{Timestamp: "2026-01-05T10:01:40Z", Count: 2000},
	}

	t.Run("rate only without total", func(t *testing.T) {
		est := ETA(entries, 0)
		require.NotNil(t, est)
		assert.InDelta(t, 10.0, est.DocsPerSecond, 0.001)
		assert.Zero(t, est.RemainingDocs)
		assert.Empty(t, est.ETA)
	})

	t.Run("projection with total", func(t *testing.T) {
		est := ETA(entries, 3000)
		require.NotNil(t, est)
		assert.Equal(t, int64(1000), est.RemainingDocs)
		assert.InDelta(t, 100.0, est.ETASeconds, 0.001)
		assert.Equal(t, "1m40s", est.ETA)
	})

	t.Run("total already reached", func(t *testing.T) {
		est := ETA(entries, 1500)
		require.NotNil(t, est)
		assert.Zero(t, est.RemainingDocs)
	})

	t.Run("too few entries", func(t *testing.T) {
		assert.Nil(t, ETA(entries[:1], 3000))
	})

	t.Run("no forward progress", func(t *testing.T) {
		flat := []types.HistoryEntry{
			{Timestamp: "2026-01-05T10:00:00Z", Count: 1000},
			{Timestamp: "2026-01-05T10:01:40Z", Count: 1000},
		}
		assert.Nil(t, ETA(flat, 3000))
	})

	t.Run("unsorted entries", func(t *testing.T) {
		reversed := []types.HistoryEntry{entries[1], entries[0]}
		est := ETA(reversed, 0)
		require.NotNil(t, est)
		assert.InDelta(t, 10.0, est.DocsPerSecond, 0.001)
	})
}

func TestSaveCurrent(t *testing.T) {
	dir := t.TempDir()
	statuses := []CollectionStatus{{Collection: "orders", Copied: 42}}

	require.NoError(t, SaveCurrent(dir, statuses))

	data, err := os.ReadFile(filepath.Join(dir, "monitor_current.json"))
	require.NoError(t, err)

	var decoded []CollectionStatus
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(42), decoded[0].Copied)
}

func TestRenderListsEveryCollection(t *testing.T) {
	statuses := []CollectionStatus{
		{Collection: "orders", Copied: 5000, HasResumeToken: true, Estimate: &Estimate{DocsPerSecond: 12.5}},
		{Collection: "users", Copied: 10},
	}

	out := Render(statuses)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "12.5/s")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "never")
}
