package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/events"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// sampleLimit caps how many documents of each batch are hash-verified
// inline. The verifier remains the authoritative gate; this is an early
// smoke signal only.
const sampleLimit = 10

// Loader copies whole collections from source to target in resumable
// batches, ascending by _id.
type Loader struct {
	clients *client.Manager
	store   checkpoint.Store
	cfg     *config.Config
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewLoader creates a new bulk loader
func NewLoader(clients *client.Manager, store checkpoint.Store, cfg *config.Config, broker *events.Broker) *Loader {
	return &Loader{
		clients: clients,
		store:   store,
		cfg:     cfg,
		broker:  broker,
		logger:  log.WithComponent("bulk"),
	}
}

// Copy migrates one collection. It replicates indexes, then loops batches
// of ascending _id order until the source is drained, checkpointing after
// every batch so a crash or shutdown resumes where it left off. A fetch or
// write failure after retries aborts only this collection.
func (l *Loader) Copy(ctx context.Context, mapping types.CollectionMapping) (*types.CollectionResult, error) {
	logger := l.logger.With().Str("collection", mapping.Collection).Logger()
	started := time.Now().UTC()

	result := &types.CollectionResult{
		Collection: mapping.Collection,
		SourceDB:   mapping.SourceDB,
		TargetDB:   mapping.TargetDB,
		Status:     types.ResultCompleted,
		StartedAt:  started,
	}

	logger.Info().Str("source_db", mapping.SourceDB).Str("target_db", mapping.TargetDB).Msg("Starting collection copy")
	l.publish(&events.Event{Type: events.EventCollectionStarted, Collection: mapping.Collection, Mode: string(types.ModeMigrate)})

	created, err := l.replicateIndexes(ctx, mapping)
	if err != nil {
		// Index replication is best-effort; document data wins.
		logger.Warn().Err(err).Msg("Could not replicate indexes")
	}
	result.IndexesCreated = created

	err = l.copyBatches(ctx, mapping, result)
	result.FinishedAt = time.Now().UTC()
	result.Elapsed = result.FinishedAt.Sub(started)
	result.DurationSeconds = result.Elapsed.Seconds()

	if err != nil {
		result.Status = types.ResultFailed
		result.Error = err.Error()
		logger.Error().Err(err).Int64("synced", result.Synced).Msg("Collection copy failed")
		l.publish(&events.Event{Type: events.EventCollectionFailed, Collection: mapping.Collection, Mode: string(types.ModeMigrate), Message: err.Error()})
		return result, err
	}

	logger.Info().
		Int64("synced", result.Synced).
		Int("indexes", result.IndexesCreated).
		Float64("duration_seconds", result.DurationSeconds).
		Msg("Collection copy completed")
	l.publish(&events.Event{Type: events.EventCollectionCompleted, Collection: mapping.Collection, Mode: string(types.ModeMigrate), Count: result.Synced})
	return result, nil
}

// replicateIndexes copies every non-default index spec from source to
// target. Per-index failures are logged and skipped; an existing index with
// the same name is fine.
func (l *Loader) replicateIndexes(ctx context.Context, mapping types.CollectionMapping) (int, error) {
	logger := l.logger.With().Str("collection", mapping.Collection).Logger()
	source := l.clients.SourceCollection(mapping)
	target := l.clients.TargetCollection(mapping)

	cursor, err := source.Indexes().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source indexes: %w", err)
	}

	var specs []indexSpec
	if err := cursor.All(ctx, &specs); err != nil {
		return 0, fmt.Errorf("failed to read source indexes: %w", err)
	}

	created := 0
	for _, spec := range specs {
		if spec.Name == "_id_" {
			continue
		}

		model := spec.model()
		if _, err := target.Indexes().CreateOne(ctx, model); err != nil {
			if mongo.IsDuplicateKeyError(err) || isIndexConflict(err) {
				logger.Debug().Str("index", spec.Name).Msg("Index already present on target")
				continue
			}
			logger.Warn().Err(err).Str("index", spec.Name).Msg("Could not create index")
			continue
		}

		logger.Info().Str("index", spec.Name).Msg("Created index")
		metrics.IndexesCreated.WithLabelValues(mapping.Collection).Inc()
		created++
	}

	if created > 0 {
		l.publish(&events.Event{Type: events.EventIndexesCreated, Collection: mapping.Collection, Count: int64(created)})
	}
	return created, nil
}

func (l *Loader) copyBatches(ctx context.Context, mapping types.CollectionMapping, result *types.CollectionResult) error {
	logger := l.logger.With().Str("collection", mapping.Collection).Logger()
	source := l.clients.SourceCollection(mapping)
	target := l.clients.TargetCollection(mapping)

	cp, err := l.store.LoadBulk(mapping.Collection)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var lastID string
	var total int64
	if cp != nil {
		lastID = cp.LastID
		total = cp.Count
		logger.Info().Str("last_id", lastID).Int64("count", total).Msg("Resuming from checkpoint")
	}

	for {
		if err := ctx.Err(); err != nil {
			// Shutdown between batches: checkpoint already reflects the
			// last applied batch, nothing to flush.
			return err
		}

		timer := metrics.NewTimer()

		docs, err := l.fetchBatch(ctx, source, lastID)
		if err != nil {
			return fmt.Errorf("failed to fetch batch after %s: %w", lastID, err)
		}
		if len(docs) == 0 {
			logger.Info().Int64("total", total).Msg("Source drained")
			return nil
		}

		if err := l.applyBatch(ctx, target, docs); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}

		if failures := l.sampleVerify(ctx, target, docs); failures > 0 {
			result.VerifyFailed += int64(failures)
			logger.Warn().Int("failures", failures).Msg("Inline sample verification found mismatches")
		}

		batchLast := docs[len(docs)-1].Lookup("_id")
		lastID = codec.FormatID(batchLast)
		total += int64(len(docs))
		result.Synced += int64(len(docs))

		if err := l.store.SaveBulk(mapping.Collection, &types.BulkCheckpoint{
			LastID: lastID,
			Count:  total,
		}); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		timer.ObserveDurationVec(metrics.BatchDuration, string(types.ModeMigrate))
		metrics.DocumentsSynced.WithLabelValues(mapping.Collection, string(types.ModeMigrate)).Add(float64(len(docs)))
		l.publish(&events.Event{Type: events.EventBatchApplied, Collection: mapping.Collection, Mode: string(types.ModeMigrate), Count: int64(len(docs))})

		logger.Info().Int("batch", len(docs)).Int64("total", total).Str("last_id", lastID).Msg("Batch applied")
	}
}

// fetchBatch reads the next batch in ascending _id order, retrying
// transient failures.
func (l *Loader) fetchBatch(ctx context.Context, source *mongo.Collection, lastID string) ([]bson.Raw, error) {
	var docs []bson.Raw
	err := l.clients.WithRetry(ctx, "bulk_fetch", func(ctx context.Context) error {
		opts := options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(l.cfg.BatchSize)).
			SetBatchSize(int32(l.cfg.BatchSize))

		cursor, err := source.Find(ctx, resumeFilter(lastID), opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		docs = docs[:0]
		for cursor.Next(ctx) {
			var raw bson.Raw
			if err := cursor.Decode(&raw); err != nil {
				return err
			}
			docs = append(docs, raw)
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// applyBatch upserts the batch into the target as one unordered bulk write.
func (l *Loader) applyBatch(ctx context.Context, target *mongo.Collection, docs []bson.Raw) error {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.Lookup("_id")}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	return l.clients.WithRetry(ctx, "bulk_write", func(ctx context.Context) error {
		_, err := target.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return err
	})
}

// sampleVerify re-reads up to sampleLimit documents of the batch from the
// target and compares content hashes. Mismatches are counted, never fatal.
func (l *Loader) sampleVerify(ctx context.Context, target *mongo.Collection, docs []bson.Raw) int {
	sample := samplePick(docs, sampleLimit)
	failures := 0

	for _, doc := range sample {
		id := doc.Lookup("_id")

		var targetDoc bson.Raw
		err := target.FindOne(ctx, bson.M{"_id": id}).Decode(&targetDoc)
		if err != nil {
			failures++
			l.logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Sample document missing on target")
			continue
		}

		srcHash, err := codec.Hash(doc)
		if err != nil {
			continue
		}
		tgtHash, err := codec.Hash(targetDoc)
		if err != nil {
			continue
		}
		if srcHash != tgtHash {
			failures++
			l.logger.Warn().Str("id", codec.FormatID(id)).Msg("Sample document hash mismatch")
		}
	}
	return failures
}

func (l *Loader) publish(event *events.Event) {
	if l.broker != nil {
		l.broker.Publish(event)
	}
}

// resumeFilter builds the resume query for a checkpointed last id. An empty
// id means start from the beginning.
func resumeFilter(lastID string) bson.M {
	if lastID == "" {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$gt": codec.ParseID(lastID)}}
}

// samplePick selects up to n documents evenly strided across the batch.
func samplePick(docs []bson.Raw, n int) []bson.Raw {
	if len(docs) <= n {
		return docs
	}
	stride := len(docs) / n
	picked := make([]bson.Raw, 0, n)
	for i := 0; i < len(docs) && len(picked) < n; i += stride {
		picked = append(picked, docs[i])
	}
	return picked
}
