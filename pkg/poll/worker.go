package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/events"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/reconciler"
	"github.com/stratumhq/mongorelay/pkg/types"
)

const (
	// verifySampleLimit caps how many documents of each batch are
	// hash-verified inline. The verifier remains the authoritative gate.
	verifySampleLimit = 10

	// refreshSampleLimit caps the targeted force-refresh pass over
	// existing target documents.
	refreshSampleLimit = 500

	// cycleRetryDelay spaces retries after a failed polling cycle.
	cycleRetryDelay = 5 * time.Second
)

// Worker captures source changes by polling: each cycle scans documents
// past the last watermark, compares them against the target, and upserts
// the ones the source won. It is the fallback when change streams are
// unavailable, and the drift pass after a bulk copy.
type Worker struct {
	clients    *client.Manager
	store      checkpoint.Store
	cfg        *config.Config
	broker     *events.Broker
	reconciler *reconciler.Reconciler
	stats      *types.Stats
	logger     zerolog.Logger
}

// NewWorker creates a new polling worker
func NewWorker(clients *client.Manager, store checkpoint.Store, cfg *config.Config, broker *events.Broker, rec *reconciler.Reconciler) *Worker {
	return &Worker{
		clients:    clients,
		store:      store,
		cfg:        cfg,
		broker:     broker,
		reconciler: rec,
		stats:      &types.Stats{},
		logger:     log.WithComponent("poll"),
	}
}

// Stats exposes the worker's aggregate counters for status reporting.
func (w *Worker) Stats() *types.Stats {
	return w.stats
}

// RunLoop polls one collection until ctx is canceled. Cycle failures are
// logged and retried after a short delay; only cancellation ends the loop.
// Safe to run concurrently for different mappings.
func (w *Worker) RunLoop(ctx context.Context, mapping types.CollectionMapping) error {
	logger := w.logger.With().Str("collection", mapping.Collection).Logger()
	logger.Info().
		Str("source_db", mapping.SourceDB).
		Str("target_db", mapping.TargetDB).
		Dur("interval", w.cfg.PollingInterval).
		Msg("Starting polling worker")

	metrics.ActiveWorkers.WithLabelValues(string(types.ModeCDC)).Inc()
	defer metrics.ActiveWorkers.WithLabelValues(string(types.ModeCDC)).Dec()

	if w.cfg.ForceRefresh {
		if _, err := w.refreshFromTarget(ctx, mapping); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Best-effort: the main loop still converges every document
			// the watermark reaches.
			logger.Warn().Err(err).Msg("Targeted refresh failed")
		}
	}

	for {
		if _, err := w.RunCycle(ctx, mapping); err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("Polling worker stopped")
				return nil
			}
			w.stats.SetError(err)
			logger.Error().Err(err).Msg("Polling cycle failed, will retry")
			if err := client.Sleep(ctx, cycleRetryDelay); err != nil {
				logger.Info().Msg("Polling worker stopped")
				return nil
			}
			continue
		}

		if err := client.Sleep(ctx, w.cfg.PollingInterval); err != nil {
			logger.Info().Msg("Polling worker stopped")
			return nil
		}
	}
}

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	Scanned      int64 // documents read from the source
	Staged       int64 // upserts written to the target
	Deleted      int64 // deletions applied by the reconciler
	VerifyFailed int64 // inline sample mismatches
}

// RunCycle drains every document past the watermark in batches, then hands
// the collection to the delete reconciler. The checkpoint advances after
// each applied batch, so an interrupted cycle resumes mid-scan.
func (w *Worker) RunCycle(ctx context.Context, mapping types.CollectionMapping) (*CycleResult, error) {
	logger := w.logger.With().Str("collection", mapping.Collection).Logger()
	source := w.clients.SourceCollection(mapping)
	target := w.clients.TargetCollection(mapping)

	result := &CycleResult{}
	defer func() {
		w.stats.Add(result.Scanned, result.Staged, result.Deleted, result.VerifyFailed)
	}()

	// A target holding more documents than the source is the signature of
	// unobserved deletions; reconcile before polling new changes.
	srcCount, tgtCount, err := w.counts(ctx, source, target)
	if err != nil {
		return result, fmt.Errorf("failed to count documents: %w", err)
	}
	if tgtCount > srcCount {
		logger.Info().Int64("source", srcCount).Int64("target", tgtCount).Msg("Target exceeds source, reconciling deletes first")
		if rec, err := w.reconciler.Reconcile(ctx, mapping, reconciler.Opts{}); err != nil {
			logger.Warn().Err(err).Msg("Delete reconciliation failed")
		} else {
			result.Deleted += rec.Deleted
		}
	}

	wm, err := w.loadWatermark(ctx, mapping, source)
	if err != nil {
		return result, err
	}
	if w.cfg.Debug {
		logger.Info().
			Str("sort_field", wm.field).
			Interface("filter", wm.filter()).
			Int64("source_count", srcCount).
			Int64("target_count", tgtCount).
			Msg("Polling query")
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		timer := metrics.NewTimer()

		docs, err := w.fetchBatch(ctx, source, wm)
		if err != nil {
			return result, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(docs) == 0 {
			if rec, err := w.reconciler.Reconcile(ctx, mapping, reconciler.Opts{Force: w.cfg.ForceRefresh}); err != nil {
				logger.Warn().Err(err).Msg("Delete reconciliation failed")
			} else {
				result.Deleted += rec.Deleted
			}
			if result.Scanned > 0 {
				logger.Info().
					Int64("scanned", result.Scanned).
					Int64("staged", result.Staged).
					Int64("deleted", result.Deleted).
					Msg("Polling cycle complete")
			}
			return result, nil
		}

		staged, err := w.stageBatch(ctx, target, docs)
		if err != nil {
			return result, err
		}

		if err := w.writeStaged(ctx, mapping, target, staged); err != nil {
			return result, err
		}

		if failures := w.verifySample(ctx, source, target, docs); failures > 0 {
			result.VerifyFailed += int64(failures)
			logger.Warn().Int("failures", failures).Msg("Inline sample verification found mismatches")
		}

		if err := wm.advance(docs[len(docs)-1]); err != nil {
			return result, err
		}
		cp := wm.checkpoint()
		cp.Updates = int64(len(staged))
		if err := w.store.SavePolling(mapping.Collection, cp); err != nil {
			return result, fmt.Errorf("failed to save checkpoint: %w", err)
		}

		result.Scanned += int64(len(docs))
		result.Staged += int64(len(staged))
		timer.ObserveDurationVec(metrics.BatchDuration, string(types.ModeCDC))
		if len(staged) > 0 {
			metrics.DocumentsSynced.WithLabelValues(mapping.Collection, string(types.ModeCDC)).Add(float64(len(staged)))
			w.publish(&events.Event{Type: events.EventBatchApplied, Collection: mapping.Collection, Mode: string(types.ModeCDC), Count: int64(len(staged))})
		}

		logger.Info().Int("scanned", len(docs)).Int("staged", len(staged)).Msg("Poll batch applied")
	}
}

// loadWatermark decides which field orders this collection's polling and
// revives the last persisted position. Force-refresh ignores the
// checkpoint and rescans everything in id order.
func (w *Worker) loadWatermark(ctx context.Context, mapping types.CollectionMapping, source *mongo.Collection) (*watermark, error) {
	if w.cfg.ForceRefresh {
		w.logger.Info().Str("collection", mapping.Collection).Msg("Force refresh enabled, ignoring checkpoint")
		return &watermark{field: fieldID}, nil
	}

	cp, err := w.store.LoadPolling(mapping.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	probe, err := w.probeWatermarkField(ctx, source)
	if err != nil {
		return nil, err
	}
	if !probe.present {
		w.logger.Debug().Str("collection", mapping.Collection).Msg("Collection has no last-modified field, polling by id")
	}
	return newWatermark(cp, probe), nil
}

// probeWatermarkField samples one document to learn whether the collection
// carries the last-modified field and which BSON type it uses. An empty
// collection polls by id.
func (w *Worker) probeWatermarkField(ctx context.Context, source *mongo.Collection) (fieldProbe, error) {
	var sample bson.Raw
	err := w.clients.WithRetry(ctx, "poll_probe", func(ctx context.Context) error {
		err := source.FindOne(ctx, bson.M{}).Decode(&sample)
		if errors.Is(err, mongo.ErrNoDocuments) {
			sample = nil
			return nil
		}
		return err
	})
	if err != nil {
		return fieldProbe{}, fmt.Errorf("failed to sample source document: %w", err)
	}
	if sample == nil {
		return fieldProbe{}, nil
	}

	v, ok := lookupValue(sample, watermarkField)
	if !ok {
		return fieldProbe{}, nil
	}
	return fieldProbe{present: true, timeTyped: v.Type == bsontype.DateTime}, nil
}

// fetchBatch reads the next batch past the watermark, retrying transient
// failures.
func (w *Worker) fetchBatch(ctx context.Context, source *mongo.Collection, wm *watermark) ([]bson.Raw, error) {
	var docs []bson.Raw
	err := w.clients.WithRetry(ctx, "poll_fetch", func(ctx context.Context) error {
		opts := options.Find().
			SetSort(wm.sort()).
			SetLimit(int64(w.cfg.BatchSize)).
			SetBatchSize(int32(w.cfg.BatchSize))

		cursor, err := source.Find(ctx, wm.filter(), opts)
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

// stageBatch compares each fetched document against the target and returns
// the subset to upsert: documents missing on the target, and documents
// whose content differs where the source wins last-writer-wins.
func (w *Worker) stageBatch(ctx context.Context, target *mongo.Collection, docs []bson.Raw) ([]bson.Raw, error) {
	staged := make([]bson.Raw, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := doc.Lookup(fieldID)

		var tgtDoc bson.Raw
		err := target.FindOne(ctx, bson.M{fieldID: id}).Decode(&tgtDoc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			w.logger.Debug().Str("id", codec.FormatID(id)).Msg("Document missing on target, staging upsert")
			staged = append(staged, doc)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read target document %s: %w", codec.FormatID(id), err)
		}

		srcHash, err := codec.Hash(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to hash source document %s: %w", codec.FormatID(id), err)
		}
		tgtHash, err := codec.Hash(tgtDoc)
		if err != nil {
			return nil, fmt.Errorf("failed to hash target document %s: %w", codec.FormatID(id), err)
		}
		if srcHash == tgtHash {
			w.logger.Debug().Str("id", codec.FormatID(id)).Msg("Document content identical, skipping")
			continue
		}

		if w.shouldReplace(doc, tgtDoc) {
			w.logger.Debug().Str("id", codec.FormatID(id)).Msg("Document content differs, staging upsert")
			staged = append(staged, doc)
		} else {
			w.logger.Debug().Str("id", codec.FormatID(id)).Msg("Target copy is newer, keeping target")
		}
	}
	return staged, nil
}

// shouldReplace applies last-writer-wins: when both sides carry the
// last-modified field, the source must be strictly newer to overwrite the
// target. A missing timestamp on either side, or force-refresh, always
// replaces.
func (w *Worker) shouldReplace(src, tgt bson.Raw) bool {
	if w.cfg.ForceRefresh {
		return true
	}
	srcStamp, srcOK := lookupValue(src, watermarkField)
	tgtStamp, tgtOK := lookupValue(tgt, watermarkField)
	if !srcOK || !tgtOK {
		return true
	}
	return newerThan(srcStamp, tgtStamp)
}

// writeStaged applies the staged upserts as one unordered bulk write. When
// the write still fails after retries, every staged id is appended to the
// collection's failure log before the error is returned.
func (w *Worker) writeStaged(ctx context.Context, mapping types.CollectionMapping, target *mongo.Collection, staged []bson.Raw) error {
	if len(staged) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(staged))
	for _, doc := range staged {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{fieldID: doc.Lookup(fieldID)}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	err := w.clients.WithRetry(ctx, "poll_write", func(ctx context.Context) error {
		_, err := target.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return err
	})
	if err != nil {
		metrics.DocumentsFailed.WithLabelValues(mapping.Collection).Add(float64(len(staged)))
		if logErr := w.logFailures(mapping.Collection, staged, err); logErr != nil {
			w.logger.Error().Err(logErr).Str("collection", mapping.Collection).Msg("Could not append to failure log")
		}
		return fmt.Errorf("failed to write %d staged documents: %w", len(staged), err)
	}
	return nil
}

// verifySample re-reads up to verifySampleLimit documents of the batch
// from both endpoints and compares content hashes. Mismatches are counted,
// never fatal.
func (w *Worker) verifySample(ctx context.Context, source, target *mongo.Collection, docs []bson.Raw) int {
	failures := 0
	for _, doc := range samplePick(docs, verifySampleLimit) {
		id := doc.Lookup(fieldID)
		ok, err := verifyDoc(ctx, source, target, id)
		if err != nil {
			failures++
			w.logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Could not verify document")
			continue
		}
		if !ok {
			failures++
			w.logger.Warn().Str("id", codec.FormatID(id)).Msg("Document verification failed")
		}
	}
	return failures
}

// refreshFromTarget runs the targeted force-refresh pass: sample existing
// target documents, re-read their source counterparts, and replace every
// one whose content drifted. This closes the gap for documents whose
// last-modified stamp never advances. Deletions are left to the
// reconciler.
func (w *Worker) refreshFromTarget(ctx context.Context, mapping types.CollectionMapping) (int64, error) {
	logger := w.logger.With().Str("collection", mapping.Collection).Logger()
	source := w.clients.SourceCollection(mapping)
	target := w.clients.TargetCollection(mapping)

	var targetDocs []bson.Raw
	err := w.clients.WithRetry(ctx, "poll_refresh_sample", func(ctx context.Context) error {
		cursor, err := target.Find(ctx, bson.M{}, options.Find().SetLimit(refreshSampleLimit))
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		targetDocs = targetDocs[:0]
		for cursor.Next(ctx) {
			var raw bson.Raw
			if err := cursor.Decode(&raw); err != nil {
				return err
			}
			targetDocs = append(targetDocs, raw)
		}
		return cursor.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sample target: %w", err)
	}

	models := make([]mongo.WriteModel, 0)
	for _, tgtDoc := range targetDocs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id := tgtDoc.Lookup(fieldID)

		srcDoc, err := findByID(ctx, source, id)
		if err != nil {
			return 0, fmt.Errorf("failed to read source document %s: %w", codec.FormatID(id), err)
		}
		if srcDoc == nil {
			continue
		}

		srcHash, err := codec.Hash(srcDoc)
		if err != nil {
			logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Could not hash source document")
			continue
		}
		tgtHash, err := codec.Hash(tgtDoc)
		if err != nil {
			logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Could not hash target document")
			continue
		}
		if srcHash == tgtHash {
			continue
		}

		logger.Debug().Str("id", codec.FormatID(id)).Msg("Target content drifted, staging replace")
		// The document exists on the target by construction; replace
		// without upsert.
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{fieldID: id}).
			SetReplacement(srcDoc))
	}

	if len(models) == 0 {
		logger.Info().Int("sampled", len(targetDocs)).Msg("Targeted refresh found no drift")
		return 0, nil
	}

	err = w.clients.WithRetry(ctx, "poll_refresh_write", func(ctx context.Context) error {
		_, err := target.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply targeted refresh: %w", err)
	}

	if err := w.store.SavePolling(mapping.Collection, &types.PollingCheckpoint{Updates: int64(len(models))}); err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	w.stats.Add(0, int64(len(models)), 0, 0)
	metrics.DocumentsSynced.WithLabelValues(mapping.Collection, string(types.ModeCDC)).Add(float64(len(models)))
	logger.Info().Int("sampled", len(targetDocs)).Int("updated", len(models)).Msg("Targeted refresh applied")
	return int64(len(models)), nil
}

func (w *Worker) counts(ctx context.Context, source, target *mongo.Collection) (int64, int64, error) {
	var srcCount, tgtCount int64
	err := w.clients.WithRetry(ctx, "poll_count", func(ctx context.Context) error {
		var err error
		if srcCount, err = source.CountDocuments(ctx, bson.M{}); err != nil {
			return err
		}
		tgtCount, err = target.CountDocuments(ctx, bson.M{})
		return err
	})
	return srcCount, tgtCount, err
}

func (w *Worker) publish(event *events.Event) {
	if w.broker != nil {
		w.broker.Publish(event)
	}
}

// verifyDoc compares one document across endpoints by canonical hash.
// Absent on both sides counts as a match.
func verifyDoc(ctx context.Context, source, target *mongo.Collection, id bson.RawValue) (bool, error) {
	srcDoc, err := findByID(ctx, source, id)
	if err != nil {
		return false, err
	}
	tgtDoc, err := findByID(ctx, target, id)
	if err != nil {
		return false, err
	}

	if srcDoc == nil && tgtDoc == nil {
		return true, nil
	}
	if srcDoc == nil || tgtDoc == nil {
		return false, nil
	}

	srcHash, err := codec.Hash(srcDoc)
	if err != nil {
		return false, err
	}
	tgtHash, err := codec.Hash(tgtDoc)
	if err != nil {
		return false, err
	}
	return srcHash == tgtHash, nil
}

// findByID fetches one document, mapping not-found to a nil document.
func findByID(ctx context.Context, coll *mongo.Collection, id bson.RawValue) (bson.Raw, error) {
	var doc bson.Raw
	err := coll.FindOne(ctx, bson.M{fieldID: id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
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
