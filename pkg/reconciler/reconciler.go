package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/events"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/types"
)

const (
	// DefaultSample is the number of target documents probed per pass.
	DefaultSample = 100

	// EscalatedSample is used when the target holds more documents than
	// the source, or when a forced pass is requested.
	EscalatedSample = 1000
)

// Opts tunes a single reconciliation pass
type Opts struct {
	// Force always uses the escalated sample size
	Force bool
}

// Result reports what one reconciliation pass observed and removed
type Result struct {
	SourceCount int64
	TargetCount int64
	Sampled     int
	Deleted     int64
	Escalated   bool
}

// Reconciler removes target documents whose source counterpart no longer
// exists. Replication has no delete log in polling mode, so deletions are
// discovered by sampling the target and probing the source.
type Reconciler struct {
	clients *client.Manager
	store   checkpoint.Store
	broker  *events.Broker
	logger  zerolog.Logger
}

// NewReconciler creates a new delete reconciler
func NewReconciler(clients *client.Manager, store checkpoint.Store, broker *events.Broker) *Reconciler {
	return &Reconciler{
		clients: clients,
		store:   store,
		broker:  broker,
		logger:  log.WithComponent("reconciler"),
	}
}

// Reconcile performs one sampling pass over the target collection. The
// sample escalates from 100 to 1000 documents when the target count
// exceeds the source count or opts.Force is set. Deletes are idempotent;
// a concurrent writer re-inserting a sampled id simply wins the race.
func (r *Reconciler) Reconcile(ctx context.Context, mapping types.CollectionMapping, opts Opts) (*Result, error) {
	logger := r.logger.With().Str("collection", mapping.Collection).Logger()
	source := r.clients.SourceCollection(mapping)
	target := r.clients.TargetCollection(mapping)

	result := &Result{}

	err := r.clients.WithRetry(ctx, "reconcile_count", func(ctx context.Context) error {
		var err error
		if result.SourceCount, err = source.CountDocuments(ctx, bson.M{}); err != nil {
			return err
		}
		result.TargetCount, err = target.CountDocuments(ctx, bson.M{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	targetExceeds := result.TargetCount > result.SourceCount
	sampleSize, escalated := sampleSizeFor(opts.Force, result.SourceCount, result.TargetCount)
	result.Escalated = escalated

	logger.Info().
		Int64("source_count", result.SourceCount).
		Int64("target_count", result.TargetCount).
		Int("sample", sampleSize).
		Bool("target_exceeds", targetExceeds).
		Msg("Checking for deletions")

	ids, err := r.sampleTargetIDs(ctx, target, sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to sample target: %w", err)
	}
	result.Sampled = len(ids)

	var deletes []mongo.WriteModel
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := source.FindOne(ctx, bson.M{"_id": id}).Err()
		switch {
		case err == nil:
			// Still present in source, nothing to do.
		case errors.Is(err, mongo.ErrNoDocuments):
			logger.Info().Str("id", codec.FormatID(id)).Msg("Document deleted in source, removing from target")
			deletes = append(deletes, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
		default:
			// A failed probe is not evidence of deletion. Skip.
			logger.Warn().Err(err).Str("id", codec.FormatID(id)).Msg("Source probe failed, keeping document")
		}
	}

	if len(deletes) == 0 {
		return result, nil
	}

	err = r.clients.WithRetry(ctx, "reconcile_delete", func(ctx context.Context) error {
		res, err := target.BulkWrite(ctx, deletes, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return err
		}
		result.Deleted = res.DeletedCount
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to apply deletes: %w", err)
	}

	logger.Info().Int64("deleted", result.Deleted).Msg("Removed deleted documents from target")
	metrics.DocumentsDeleted.WithLabelValues(mapping.Collection).Add(float64(result.Deleted))

	// Fold the deletions into the polling checkpoint totals. The merge
	// save preserves existing watermarks.
	if err := r.store.SavePolling(mapping.Collection, &types.PollingCheckpoint{
		Deletions: result.Deleted,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record deletions in checkpoint")
	}

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:       events.EventDeletesReconciled,
			Collection: mapping.Collection,
			Count:      result.Deleted,
		})
	}

	return result, nil
}

// sampleSizeFor escalates the sample when the target outgrew the source
// or a forced pass is requested.
func sampleSizeFor(force bool, sourceCount, targetCount int64) (int, bool) {
	if force || targetCount > sourceCount {
		return EscalatedSample, true
	}
	return DefaultSample, false
}

// sampleTargetIDs fetches up to limit document ids from the target.
func (r *Reconciler) sampleTargetIDs(ctx context.Context, target *mongo.Collection, limit int) ([]bson.RawValue, error) {
	var ids []bson.RawValue

	err := r.clients.WithRetry(ctx, "reconcile_sample", func(ctx context.Context) error {
		opts := options.Find().
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1})

		cursor, err := target.Find(ctx, bson.M{}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		ids = ids[:0]
		for cursor.Next(ctx) {
			var raw bson.Raw
			if err := cursor.Decode(&raw); err != nil {
				return err
			}
			ids = append(ids, raw.Lookup("_id"))
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
