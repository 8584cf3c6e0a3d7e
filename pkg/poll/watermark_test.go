package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/stratumhq/mongorelay/pkg/types"
)

func rawDoc(t *testing.T, doc interface{}) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	require.NoError(t, err)
	return bson.Raw(data)
}

func stampValue(t *testing.T, value interface{}) bson.RawValue {
	t.Helper()
	return rawDoc(t, bson.D{{Key: watermarkField, Value: value}}).Lookup(watermarkField)
}

func TestNewWatermarkFallsBackToID(t *testing.T) {
	wm := newWatermark(nil, fieldProbe{})

	assert.Equal(t, fieldID, wm.field)
	assert.Empty(t, wm.filter())
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, wm.sort())
}

func TestNewWatermarkRevivesObjectID(t *testing.T) {
	id := primitive.NewObjectID()
	cp := &types.PollingCheckpoint{LastOperationTime: id.Hex()}

	wm := newWatermark(cp, fieldProbe{})

	inner, ok := wm.filter()["_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, id, inner["$gt"])
}

func TestNewWatermarkParsesTimeTypedStamp(t *testing.T) {
	cp := &types.PollingCheckpoint{LastUpdatedAt: "2024-03-01T10:00:00Z"}

	wm := newWatermark(cp, fieldProbe{present: true, timeTyped: true})

	require.Equal(t, watermarkField, wm.field)
	parsed, ok := wm.value.(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), parsed.UTC())
}

func TestNewWatermarkKeepsStringTypedStamp(t *testing.T) {
	// The field holds strings on the wire, so the query value must stay a
	// string or the range scan matches nothing.
	cp := &types.PollingCheckpoint{LastUpdatedAt: "2024-03-01T10:00:00Z"}

	wm := newWatermark(cp, fieldProbe{present: true, timeTyped: false})

	assert.Equal(t, "2024-03-01T10:00:00Z", wm.value)
}

func TestNewWatermarkUnparseableStampStaysString(t *testing.T) {
	cp := &types.PollingCheckpoint{LastUpdatedAt: "yesterday-ish"}

	wm := newWatermark(cp, fieldProbe{present: true, timeTyped: true})

	assert.Equal(t, "yesterday-ish", wm.value)
}

func TestWatermarkAdvanceDateTime(t *testing.T) {
	stamp := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
	doc := rawDoc(t, bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: watermarkField, Value: stamp},
	})

	wm := &watermark{field: watermarkField}
	require.NoError(t, wm.advance(doc))

	assert.Equal(t, stamp, wm.value)
	inner, ok := wm.filter()[watermarkField].(bson.M)
	require.True(t, ok)
	assert.Equal(t, stamp, inner["$gt"])
}

func TestWatermarkAdvanceKeepsStringForm(t *testing.T) {
	doc := rawDoc(t, bson.D{
		{Key: "_id", Value: "order-1"},
		{Key: watermarkField, Value: "2024-05-20T08:30:00Z"},
	})

	wm := &watermark{field: watermarkField}
	require.NoError(t, wm.advance(doc))

	assert.Equal(t, "2024-05-20T08:30:00Z", wm.value)
}

func TestWatermarkAdvanceMissingFieldFails(t *testing.T) {
	doc := rawDoc(t, bson.D{{Key: "_id", Value: "order-1"}})

	wm := &watermark{field: watermarkField}
	err := wm.advance(doc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot advance watermark")
}

func TestWatermarkAdvanceByID(t *testing.T) {
	id := primitive.NewObjectID()
	doc := rawDoc(t, bson.D{{Key: "_id", Value: id}})

	wm := &watermark{field: fieldID}
	require.NoError(t, wm.advance(doc))

	assert.Equal(t, id, wm.value)
}

func TestWatermarkCheckpointRendering(t *testing.T) {
	id := primitive.NewObjectID()
	stamp := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		wm   *watermark
		want types.PollingCheckpoint
	}{
		{
			name: "empty",
			wm:   &watermark{field: fieldID},
			want: types.PollingCheckpoint{},
		},
		{
			name: "time value",
			wm:   &watermark{field: watermarkField, value: stamp},
			want: types.PollingCheckpoint{LastUpdatedAt: "2024-05-20T08:30:00Z"},
		},
		{
			name: "string stamp",
			wm:   &watermark{field: watermarkField, value: "2024-05-20T08:30:00Z"},
			want: types.PollingCheckpoint{LastUpdatedAt: "2024-05-20T08:30:00Z"},
		},
		{
			name: "object id",
			wm:   &watermark{field: fieldID, value: id},
			want: types.PollingCheckpoint{LastOperationTime: id.Hex()},
		},
		{
			name: "string id",
			wm:   &watermark{field: fieldID, value: "order-42"},
			want: types.PollingCheckpoint{LastOperationTime: "order-42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *tt.wm.checkpoint())
		})
	}
}

func TestNewerThan(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		src  interface{}
		tgt  interface{}
		want bool
	}{
		{"source newer", newer, older, true},
		{"source older", older, newer, false},
		{"equal stamps", older, older, false},
		{"string stamps compare as times", "2024-01-02T00:00:00Z", "2024-01-01T00:00:00Z", true},
		{"mixed representations", newer, "2024-01-01T00:00:00Z", true},
		{"unparseable falls back to lexicographic", "v2", "v10", true},
		{"unparseable source against time", "1999-bad-stamp", older, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newerThan(stampValue(t, tt.src), stampValue(t, tt.tgt))
			assert.Equal(t, tt.want, got)
		})
	}
}
