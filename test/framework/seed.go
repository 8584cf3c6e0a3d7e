package framework

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/stratumhq/mongorelay/pkg/types"
)

// DocID renders the _id for sequence number n. Zero padding keeps the
// lexicographic string order identical to the numeric order, which the
// ascending id scans depend on.
func DocID(n int) string {
	return fmt.Sprintf("doc-%06d", n)
}

// InsertDocs seeds count documents with sequence numbers first through
// first+count-1 into the source collection. Every document gets its own
// updatedAt, one millisecond apart and ascending with the sequence
// number: the polling watermark pages with a strict greater-than, so
// shared timestamps across a batch boundary would skip documents.
func (h *Harness) InsertDocs(mapping types.CollectionMapping, first, count int) {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	base := time.Now().Add(-time.Hour).UTC()
	docs := make([]interface{}, 0, count)
	for n := first; n < first+count; n++ {
		docs = append(docs, bson.D{
			{Key: "_id", Value: DocID(n)},
			{Key: "seq", Value: int32(n)},
			{Key: "account", Value: fmt.Sprintf("acct-%03d", n%7)},
			{Key: "amount", Value: int64(n) * 100},
			{Key: "updatedAt", Value: base.Add(time.Duration(n) * time.Millisecond)},
		})
	}

	if _, err := h.SourceCollection(mapping).InsertMany(ctx, docs); err != nil {
		h.t.Fatalf("Failed to seed %d documents into %s: %v", count, mapping.Collection, err)
	}
}

// TouchDocs rewrites the amount and updatedAt of the given documents on
// the source, marking them as drifted relative to the target. Each touch
// gets a distinct timestamp.
func (h *Harness) TouchDocs(mapping types.CollectionMapping, ids ...int) {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	now := time.Now().UTC()
	coll := h.SourceCollection(mapping)
	for i, n := range ids {
		update := bson.M{"$set": bson.M{
			"amount":    int64(-n) * 100,
			"updatedAt": now.Add(time.Duration(i) * time.Millisecond),
		}}
		res, err := coll.UpdateOne(ctx, bson.M{"_id": DocID(n)}, update)
		if err != nil {
			h.t.Fatalf("Failed to touch document %s: %v", DocID(n), err)
		}
		if res.MatchedCount == 0 {
			h.t.Fatalf("Touched document %s does not exist on source", DocID(n))
		}
	}
}

// RemoveDocs deletes the given documents from the source.
func (h *Harness) RemoveDocs(mapping types.CollectionMapping, ids ...int) {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	docIDs := make([]string, 0, len(ids))
	for _, n := range ids {
		docIDs = append(docIDs, DocID(n))
	}

	res, err := h.SourceCollection(mapping).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": docIDs}})
	if err != nil {
		h.t.Fatalf("Failed to remove documents from source: %v", err)
	}
	if res.DeletedCount != int64(len(ids)) {
		h.t.Fatalf("Removed %d of %d documents from source", res.DeletedCount, len(ids))
	}
}

// CorruptTargetDoc rewrites the amount of one document on the target
// only, leaving updatedAt alone so the damage is invisible to the
// last-modified watermark and only a content comparison can find it.
func (h *Harness) CorruptTargetDoc(mapping types.CollectionMapping, n int) {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	update := bson.M{"$set": bson.M{"amount": int64(999999999)}}
	res, err := h.TargetCollection(mapping).UpdateOne(ctx, bson.M{"_id": DocID(n)}, update)
	if err != nil {
		h.t.Fatalf("Failed to corrupt target document %s: %v", DocID(n), err)
	}
	if res.MatchedCount == 0 {
		h.t.Fatalf("Corrupted document %s does not exist on target", DocID(n))
	}
}

// CreateSourceIndex adds a single-field ascending index on the source
// collection so a run exercises index replication.
func (h *Harness) CreateSourceIndex(mapping types.CollectionMapping, field string) {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	model := mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}
	if _, err := h.SourceCollection(mapping).Indexes().CreateOne(ctx, model); err != nil {
		h.t.Fatalf("Failed to create source index on %s: %v", field, err)
	}
}

// SourceCount returns the source collection's document count.
func (h *Harness) SourceCount(mapping types.CollectionMapping) int64 {
	h.t.Helper()
	return h.countDocs(h.SourceCollection(mapping), "source")
}

// TargetCount returns the target collection's document count.
func (h *Harness) TargetCount(mapping types.CollectionMapping) int64 {
	h.t.Helper()
	return h.countDocs(h.TargetCollection(mapping), "target")
}

func (h *Harness) countDocs(coll *mongo.Collection, role string) int64 {
	h.t.Helper()
	ctx, cancel := h.opCtx()
	defer cancel()

	count, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		h.t.Fatalf("Failed to count %s documents: %v", role, err)
	}
	return count
}

func (h *Harness) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.Config.Timeout)
}
