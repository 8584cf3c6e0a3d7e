package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCanonicalSortsKeys(t *testing.T) {
	doc := bson.D{
		{Key: "zebra", Value: 1},
		{Key: "apple", Value: 2},
		{Key: "mango", Value: bson.D{{Key: "y", Value: 1}, {Key: "x", Value: 2}}},
	}

	out, err := Canonical(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":{"x":2,"y":1},"zebra":1}`, string(out))
}

func TestCanonicalScalarEncodings(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("507f1f77bcf86cd799439011")
	require.NoError(t, err)
	dec, err := primitive.ParseDecimal128("10.50")
	require.NoError(t, err)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		doc      bson.D
		expected string
	}{
		{
			name:     "object id as hex string",
			doc:      bson.D{{Key: "_id", Value: oid}},
			expected: `{"_id":"507f1f77bcf86cd799439011"}`,
		},
		{
			name:     "datetime as rfc3339 utc",
			doc:      bson.D{{Key: "updated_at", Value: ts}},
			expected: `{"updated_at":"2024-01-02T03:04:05Z"}`,
		},
		{
			name:     "decimal as string",
			doc:      bson.D{{Key: "price", Value: dec}},
			expected: `{"price":"10.50"}`,
		},
		{
			name:     "binary as hex",
			doc:      bson.D{{Key: "blob", Value: primitive.Binary{Subtype: 0, Data: []byte{0xde, 0xad, 0xbe, 0xef}}}},
			expected: `{"blob":"deadbeef"}`,
		},
		{
			name:     "null and bool literals",
			doc:      bson.D{{Key: "a", Value: nil}, {Key: "b", Value: true}},
			expected: `{"a":null,"b":true}`,
		},
		{
			name:     "numbers",
			doc:      bson.D{{Key: "f", Value: 1.5}, {Key: "n", Value: int64(42)}},
			expected: `{"f":1.5,"n":42}`,
		},
		{
			name:     "array preserves order",
			doc:      bson.D{{Key: "tags", Value: bson.A{"b", "a", 3}}},
			expected: `{"tags":["b","a",3]}`,
		},
		{
			name:     "escaped string",
			doc:      bson.D{{Key: "s", Value: `quote " and \ slash`}},
			expected: `{"s":"quote \" and \\ slash"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Canonical(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestCanonicalAcceptsRawAndMap(t *testing.T) {
	doc := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: "two"}}
	data, err := bson.Marshal(doc)
	require.NoError(t, err)

	fromRaw, err := Canonical(bson.Raw(data))
	require.NoError(t, err)
	fromMap, err := Canonical(bson.M{"b": "two", "a": 1})
	require.NoError(t, err)

	assert.Equal(t, string(fromRaw), string(fromMap))
}

func TestHashIgnoresFieldOrder(t *testing.T) {
	h1, err := Hash(bson.D{{Key: "a", Value: 1}, {Key: "b", Value: "x"}})
	require.NoError(t, err)
	h2, err := Hash(bson.D{{Key: "b", Value: "x"}, {Key: "a", Value: 1}})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestHashIgnoresIntegerWidth(t *testing.T) {
	h32, err := Hash(bson.D{{Key: "n", Value: int32(5)}})
	require.NoError(t, err)
	h64, err := Hash(bson.D{{Key: "n", Value: int64(5)}})
	require.NoError(t, err)

	assert.Equal(t, h32, h64)
}

func TestHashDetectsValueChange(t *testing.T) {
	h1, err := Hash(bson.M{"v": "a"})
	require.NoError(t, err)
	h2, err := Hash(bson.M{"v": "b"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestHashNilDocument(t *testing.T) {
	_, err := Hash(nil)
	assert.Error(t, err)
}

func TestFormatID(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("507f1f77bcf86cd799439011")
	require.NoError(t, err)

	assert.Equal(t, "507f1f77bcf86cd799439011", FormatID(oid))
	assert.Equal(t, "user-42", FormatID("user-42"))
	assert.Equal(t, "99", FormatID(int64(99)))
}

func TestParseIDRevivesObjectID(t *testing.T) {
	parsed := ParseID("507f1f77bcf86cd799439011")
	oid, ok := parsed.(primitive.ObjectID)
	require.True(t, ok)
	assert.Equal(t, "507f1f77bcf86cd799439011", oid.Hex())
}

func TestParseIDKeepsPlainString(t *testing.T) {
	parsed := ParseID("user-42")
	assert.Equal(t, "user-42", parsed)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 12, 30, 45, 123000000, time.UTC)
	formatted := FormatTime(ts)
	parsed, err := ParseTime(formatted)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	_, err = ParseTime("not a timestamp")
	assert.Error(t, err)
}
