package verify

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/stratumhq/mongorelay/pkg/types"
)

func TestTolerance(t *testing.T) {
	tests := []struct {
		name string
		src  int64
		tol  int64
	}{
		{"empty collection", 0, 5},
		{"small collection floor", 100, 5},
		{"floor boundary", 500, 5},
		{"one percent", 1000, 10},
		{"large collection", 250000, 2500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tol, tolerance(tt.src))
		})
	}
}

func TestKeyPatternNormalizesDirectionTypes(t *testing.T) {
	// mongosh creates {a: 1} as a double, the driver as an int32; both
	// describe the same index.
	asInt := bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(-1)}}
	asDouble := bson.D{{Key: "a", Value: float64(1)}, {Key: "b", Value: float64(-1)}}

	assert.Equal(t, keyPattern(asInt), keyPattern(asDouble))
	assert.Equal(t, "a:1,b:-1", keyPattern(asInt))
}

func TestKeyPatternIsOrderSensitive(t *testing.T) {
	ab := bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}}
	ba := bson.D{{Key: "b", Value: int32(1)}, {Key: "a", Value: int32(1)}}

	assert.NotEqual(t, keyPattern(ab), keyPattern(ba))
}

func TestKeyPatternSpecialIndexes(t *testing.T) {
	text := bson.D{{Key: "description", Value: "text"}}
	geo := bson.D{{Key: "location", Value: "2dsphere"}}

	assert.Equal(t, "description:text", keyPattern(text))
	assert.Equal(t, "location:2dsphere", keyPattern(geo))
}

func TestSortedNames(t *testing.T) {
	specs := map[string]bson.D{
		"updated_at_1": {{Key: "updated_at", Value: int32(1)}},
		"_id_":         {{Key: "_id", Value: int32(1)}},
		"name_1":       {{Key: "name", Value: int32(1)}},
	}

	assert.Equal(t, []string{"_id_", "name_1", "updated_at_1"}, sortedNames(specs))
}

func TestFinishRequiresAllChecks(t *testing.T) {
	v := &Verifier{logger: zerolog.Nop()}

	passing := func() *types.VerificationResult {
		return &types.VerificationResult{
			Collection: "orders",
			Exists:     types.ExistsCheck{Passed: true},
			Count:      types.CountCheck{Passed: true},
			Indexes:    types.IndexCheck{Passed: true},
			Sample:     types.SampleCheck{Passed: true},
		}
	}

	result := passing()
	v.finish(result, zerolog.Nop())
	assert.Equal(t, types.VerificationOK, result.Status)

	for _, breakCheck := range []func(*types.VerificationResult){
		func(r *types.VerificationResult) { r.Exists.Passed = false },
		func(r *types.VerificationResult) { r.Count.Passed = false },
		func(r *types.VerificationResult) { r.Indexes.Passed = false },
		func(r *types.VerificationResult) { r.Sample.Passed = false },
	} {
		result := passing()
		breakCheck(result)
		v.finish(result, zerolog.Nop())
		assert.Equal(t, types.VerificationFailed, result.Status)
	}
}

func TestFailedCollections(t *testing.T) {
	report := &types.VerificationReport{
		Results: []types.VerificationResult{
			{Collection: "orders", Status: types.VerificationOK},
			{Collection: "users", Status: types.VerificationFailed},
			{Collection: "events", Status: types.VerificationFailed},
		},
	}

	assert.Equal(t, []string{"users", "events"}, failedCollections(report))
}

func TestReportOK(t *testing.T) {
	assert.True(t, (&types.VerificationReport{Total: 3, Passed: 3}).OK())
	assert.False(t, (&types.VerificationReport{Total: 3, Passed: 2, Failed: 1}).OK())
}
