package framework

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// CountsMatch asserts that source and target hold the same number of
// documents. Only meaningful once the workload under test has finished;
// against a live writer the counts are a moving target.
func (a *Assertions) CountsMatch(h *Harness, mapping types.CollectionMapping) {
	a.t.Helper()

	src := h.SourceCount(mapping)
	tgt := h.TargetCount(mapping)
	if src != tgt {
		a.t.Fatalf("Collection %s counts diverge: source=%d target=%d", mapping.Collection, src, tgt)
	}
}

// DocMatches asserts that document n carries identical content on both
// sides, compared by canonical hash so BSON field order cannot produce a
// false mismatch.
func (a *Assertions) DocMatches(h *Harness, mapping types.CollectionMapping, n int) {
	a.t.Helper()

	ctx, cancel := h.opCtx()
	defer cancel()

	var srcDoc, tgtDoc bson.Raw
	if err := h.SourceCollection(mapping).FindOne(ctx, bson.M{"_id": DocID(n)}).Decode(&srcDoc); err != nil {
		a.t.Fatalf("Failed to read document %s from source: %v", DocID(n), err)
	}
	if err := h.TargetCollection(mapping).FindOne(ctx, bson.M{"_id": DocID(n)}).Decode(&tgtDoc); err != nil {
		a.t.Fatalf("Failed to read document %s from target: %v", DocID(n), err)
	}

	srcHash, err := codec.Hash(srcDoc)
	if err != nil {
		a.t.Fatalf("Failed to hash source document %s: %v", DocID(n), err)
	}
	tgtHash, err := codec.Hash(tgtDoc)
	if err != nil {
		a.t.Fatalf("Failed to hash target document %s: %v", DocID(n), err)
	}

	if srcHash != tgtHash {
		a.t.Fatalf("Document %s content diverges: source=%s target=%s", DocID(n), srcHash, tgtHash)
	}
}

// TargetMissing asserts that document n does not exist on the target
func (a *Assertions) TargetMissing(h *Harness, mapping types.CollectionMapping, n int) {
	a.t.Helper()

	ctx, cancel := h.opCtx()
	defer cancel()

	err := h.TargetCollection(mapping).FindOne(ctx, bson.M{"_id": DocID(n)}).Err()
	if err == nil {
		a.t.Fatalf("Document %s still exists on target", DocID(n))
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		a.t.Fatalf("Failed to probe target for %s: %v", DocID(n), err)
	}
}

// NoError asserts that the error is nil
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()

	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()

	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// True asserts that a condition is true
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()

	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// Step logs a test step (for visibility in test output)
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Success logs a success message
func (a *Assertions) Success(msg string) {
	a.t.Helper()
	a.t.Logf("✓ %s", msg)
}
