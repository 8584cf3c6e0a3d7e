package bulk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func rawDoc(t *testing.T, doc interface{}) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	require.NoError(t, err)
	return bson.Raw(data)
}

func TestResumeFilterEmpty(t *testing.T) {
	filter := resumeFilter("")
	assert.Empty(t, filter)
}

func TestResumeFilterRevivesObjectID(t *testing.T) {
	id := primitive.NewObjectID()
	filter := resumeFilter(id.Hex())

	inner, ok := filter["_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, id, inner["$gt"])
}

func TestResumeFilterKeepsPlainString(t *testing.T) {
	filter := resumeFilter("order-42")

	inner, ok := filter["_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "order-42", inner["$gt"])
}

func TestSamplePickSmallBatch(t *testing.T) {
	docs := []bson.Raw{
		rawDoc(t, bson.D{{Key: "_id", Value: 1}}),
		rawDoc(t, bson.D{{Key: "_id", Value: 2}}),
	}

	picked := samplePick(docs, 10)
	assert.Len(t, picked, 2)
}

func TestSamplePickStridesLargeBatch(t *testing.T) {
	docs := make([]bson.Raw, 100)
	for i := range docs {
		docs[i] = rawDoc(t, bson.D{{Key: "_id", Value: int32(i)}})
	}

	picked := samplePick(docs, 10)
	require.Len(t, picked, 10)

	// First document is always part of the sample, and the picks spread
	// across the batch rather than clustering at the front.
	first, ok := picked[0].Lookup("_id").Int32OK()
	require.True(t, ok)
	assert.Equal(t, int32(0), first)

	last, ok := picked[9].Lookup("_id").Int32OK()
	require.True(t, ok)
	assert.Equal(t, int32(90), last)
}

func TestIndexSpecModel(t *testing.T) {
	unique := true
	sparse := true
	ttl := int32(3600)

	spec := indexSpec{
		Name:               "user_email_1",
		Key:                bson.D{{Key: "user_email", Value: int32(1)}},
		Unique:             &unique,
		Sparse:             &sparse,
		ExpireAfterSeconds: &ttl,
	}

	model := spec.model()

	require.NotNil(t, model.Options)
	require.NotNil(t, model.Options.Name)
	assert.Equal(t, "user_email_1", *model.Options.Name)
	require.NotNil(t, model.Options.Unique)
	assert.True(t, *model.Options.Unique)
	require.NotNil(t, model.Options.Sparse)
	assert.True(t, *model.Options.Sparse)
	require.NotNil(t, model.Options.ExpireAfterSeconds)
	assert.Equal(t, int32(3600), *model.Options.ExpireAfterSeconds)
	assert.Nil(t, model.Options.PartialFilterExpression)

	keys, ok := model.Keys.(bson.D)
	require.True(t, ok)
	require.Len(t, keys, 1)
	assert.Equal(t, "user_email", keys[0].Key)
}

func TestIndexSpecModelBareIndex(t *testing.T) {
	spec := indexSpec{
		Name: "created_at_-1",
		Key:  bson.D{{Key: "created_at", Value: int32(-1)}},
	}

	model := spec.model()

	require.NotNil(t, model.Options.Name)
	assert.Equal(t, "created_at_-1", *model.Options.Name)
	assert.Nil(t, model.Options.Unique)
	assert.Nil(t, model.Options.Sparse)
	assert.Nil(t, model.Options.ExpireAfterSeconds)
}

func TestIsIndexConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"options conflict", mongo.CommandError{Code: 85, Name: "IndexOptionsConflict"}, true},
		{"key specs conflict", mongo.CommandError{Code: 86, Name: "IndexKeySpecsConflict"}, true},
		{"unrelated command error", mongo.CommandError{Code: 13, Name: "Unauthorized"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isIndexConflict(tt.err))
		})
	}
}

func TestSamplePickReturnsUnderlyingDocs(t *testing.T) {
	docs := make([]bson.Raw, 30)
	for i := range docs {
		docs[i] = rawDoc(t, bson.D{{Key: "_id", Value: fmt.Sprintf("doc-%02d", i)}})
	}

	picked := samplePick(docs, 10)
	for _, doc := range picked {
		assert.Contains(t, doc.Lookup("_id").StringValue(), "doc-")
	}
}
