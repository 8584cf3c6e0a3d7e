package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// ErrStreamsUnsupported reports a source deployment that cannot serve
// change streams at all, typically a standalone server or a restricted
// hosting tier. Callers fall back to polling.
var ErrStreamsUnsupported = errors.New("change streams not supported by source deployment")

const (
	// tokenSaveInterval is how many applied events pass between resume
	// token saves. A crash replays at most this many events; replays are
	// harmless because every apply is an idempotent replace or delete.
	tokenSaveInterval = 100

	// reconnectDelay spaces reopen attempts after a broken stream.
	reconnectDelay = 5 * time.Second

	// idlePollInterval bounds how long the server holds an empty getMore,
	// which is also how often an idle worker notices cancellation.
	idlePollInterval = time.Second
)

// Server codes distinguishing dead deployments from dead streams.
const (
	codeHistoryLost         = 286   // ChangeStreamHistoryLost
	codeInvalidResumeToken  = 260   // InvalidResumeToken
	codeLocationUnsupported = 40573 // $changeStream requires a replica set
)

// changeEvent is the slice of a change notification the worker acts on.
type changeEvent struct {
	OperationType string      `bson:"operationType"`
	FullDocument  bson.Raw    `bson:"fullDocument"`
	DocumentKey   documentKey `bson:"documentKey"`
}

type documentKey struct {
	ID bson.RawValue `bson:"_id"`
}

// Worker tails a collection's change stream and replays every event onto
// the target in source order. It is the low-latency capture path; the
// polling worker covers deployments where streams are unavailable.
type Worker struct {
	clients *client.Manager
	store   checkpoint.Store
	cfg     *config.Config
	broker  *events.Broker
	stats   *types.Stats
	logger  zerolog.Logger
}

// NewWorker creates a new change stream worker
func NewWorker(clients *client.Manager, store checkpoint.Store, cfg *config.Config, broker *events.Broker) *Worker {
	return &Worker{
		clients: clients,
		store:   store,
		cfg:     cfg,
		broker:  broker,
		stats:   &types.Stats{},
		logger:  log.WithComponent("stream"),
	}
}

// Stats exposes the worker's aggregate counters for status reporting.
func (w *Worker) Stats() *types.Stats {
	return w.stats
}

// Probe opens and immediately closes a change stream to discover whether
// the deployment supports them. The orchestrator calls it once before
// choosing between streaming and polling.
func (w *Worker) Probe(ctx context.Context, mapping types.CollectionMapping) error {
	source := w.clients.SourceCollection(mapping)

	stream, err := source.Watch(ctx, mongo.Pipeline{}, options.ChangeStream())
	if err != nil {
		if isUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrStreamsUnsupported, err)
		}
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	closeStream(stream)
	return nil
}

// Run tails one collection until ctx is canceled, reopening the stream
// after transient failures with the last saved token. It returns
// ErrStreamsUnsupported when the deployment rejects streams outright so
// the caller can fall back to polling; all other exits are clean.
func (w *Worker) Run(ctx context.Context, mapping types.CollectionMapping) error {
	logger := w.logger.With().Str("collection", mapping.Collection).Logger()
	logger.Info().
		Str("source_db", mapping.SourceDB).
		Str("target_db", mapping.TargetDB).
		Msg("Starting change stream worker")

	metrics.ActiveWorkers.WithLabelValues(string(types.ModeCDC)).Inc()
	defer metrics.ActiveWorkers.WithLabelValues(string(types.ModeCDC)).Dec()

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("Change stream worker stopped")
			return nil
		}

		stream, resumed, err := w.open(ctx, mapping)
		if err != nil {
			if errors.Is(err, ErrStreamsUnsupported) {
				logger.Warn().Err(err).Msg("Change streams unsupported, falling back to polling")
				w.publish(&events.Event{Type: events.EventStreamFallback, Collection: mapping.Collection, Message: err.Error()})
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			if isStaleToken(err) {
				w.dropToken(mapping.Collection, logger)
				continue
			}
			w.stats.SetError(err)
			metrics.StreamReconnects.WithLabelValues(mapping.Collection).Inc()
			logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("Could not open change stream, retrying")
			if err := client.Sleep(ctx, reconnectDelay); err != nil {
				return nil
			}
			continue
		}

		if resumed {
			logger.Info().Msg("Change stream resumed from saved token")
			w.publish(&events.Event{Type: events.EventStreamResumed, Collection: mapping.Collection, Mode: string(types.ModeCDC)})
		} else {
			logger.Info().Msg("Change stream established")
		}

		err = w.tail(ctx, stream, mapping)
		closeStream(stream)

		if ctx.Err() != nil {
			logger.Info().Msg("Change stream worker stopped")
			return nil
		}
		if err == nil {
			continue
		}

		if isStaleToken(err) {
			w.dropToken(mapping.Collection, logger)
			continue
		}
		w.stats.SetError(err)
		metrics.StreamReconnects.WithLabelValues(mapping.Collection).Inc()
		logger.Warn().Err(err).Dur("delay", reconnectDelay).Msg("Change stream interrupted, reconnecting")
		if err := client.Sleep(ctx, reconnectDelay); err != nil {
			return nil
		}
	}
}

// open starts a stream session, presenting the saved resume token when
// one exists.
func (w *Worker) open(ctx context.Context, mapping types.CollectionMapping) (*mongo.ChangeStream, bool, error) {
	source := w.clients.SourceCollection(mapping)

	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetBatchSize(int32(w.cfg.BatchSize)).
		SetMaxAwaitTime(idlePollInterval)

	resumed := false
	cp, err := w.store.LoadResumeToken(mapping.Collection)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load resume token: %w", err)
	}
	if cp != nil {
		opts.SetResumeAfter(cp.Token)
		resumed = true
	}

	stream, err := source.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		if isUnsupported(err) {
			return nil, false, fmt.Errorf("%w: %v", ErrStreamsUnsupported, err)
		}
		return nil, resumed, err
	}
	return stream, resumed, nil
}

// tail consumes the stream until cancellation or a stream error. The
// resume token persists every tokenSaveInterval applied events and once
// more on clean shutdown; a crash in between replays at most one
// interval's worth of idempotent writes.
func (w *Worker) tail(ctx context.Context, stream *mongo.ChangeStream, mapping types.CollectionMapping) error {
	logger := w.logger.With().Str("collection", mapping.Collection).Logger()
	target := w.clients.TargetCollection(mapping)

	var applied int64
	sinceSave := 0

	for {
		if ctx.Err() != nil {
			// The token points just past the last applied event; saving it
			// here makes restart seamless.
			w.saveToken(stream, mapping.Collection, logger)
			return nil
		}

		if !stream.TryNext(ctx) {
			if err := stream.Err(); err != nil {
				if ctx.Err() != nil {
					w.saveToken(stream, mapping.Collection, logger)
					return nil
				}
				return err
			}
			// Idle getMore came back empty; loop to poll cancellation.
			continue
		}

		var event changeEvent
		if err := stream.Decode(&event); err != nil {
			logger.Error().Err(err).Msg("Could not decode change event")
			continue
		}

		if err := w.apply(ctx, target, mapping.Collection, &event); err != nil {
			if ctx.Err() != nil || client.IsTransient(err) {
				// Leave the token where it was; the replay after reconnect
				// re-delivers this event.
				return err
			}
			w.stats.SetError(err)
			metrics.DocumentsFailed.WithLabelValues(mapping.Collection).Inc()
			logger.Error().Err(err).
				Str("operation", event.OperationType).
				Msg("Could not apply change event, skipping")
			continue
		}

		applied++
		sinceSave++
		metrics.ChangeEvents.WithLabelValues(mapping.Collection, event.OperationType).Inc()

		if sinceSave >= tokenSaveInterval {
			w.saveToken(stream, mapping.Collection, logger)
			sinceSave = 0
			logger.Info().Int64("events", applied).Msg("Resume token saved")
		}
	}
}

// apply replays one event onto the target. Post-image operations become
// replaces keyed on _id, deletes become deletes; anything else is noise
// from the server's lifecycle events and is ignored.
func (w *Worker) apply(ctx context.Context, target *mongo.Collection, collection string, event *changeEvent) error {
	switch event.OperationType {
	case "insert", "update", "replace":
		if len(event.FullDocument) == 0 {
			// The post-image lookup races document deletion; the delete
			// event that follows will remove the target copy.
			w.logger.Warn().
				Str("collection", collection).
				Str("operation", event.OperationType).
				Msg("Change event carries no post-image, skipping")
			return nil
		}

		id := event.FullDocument.Lookup("_id")
		err := w.clients.WithRetry(ctx, "stream_replace", func(ctx context.Context) error {
			_, err := target.ReplaceOne(ctx, bson.M{"_id": id}, event.FullDocument, options.Replace().SetUpsert(true))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to replace document %s: %w", codec.FormatID(id), err)
		}
		w.stats.Add(1, 0, 0, 0)
		metrics.DocumentsSynced.WithLabelValues(collection, string(types.ModeCDC)).Inc()
		w.logger.Debug().Str("id", codec.FormatID(id)).Str("operation", event.OperationType).Msg("Applied change event")
		return nil

	case "delete":
		id := event.DocumentKey.ID
		if id.IsZero() {
			w.logger.Warn().Str("collection", collection).Msg("Delete event carries no document key, skipping")
			return nil
		}

		err := w.clients.WithRetry(ctx, "stream_delete", func(ctx context.Context) error {
			_, err := target.DeleteOne(ctx, bson.M{"_id": id})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to delete document %s: %w", codec.FormatID(id), err)
		}
		w.stats.Add(0, 0, 1, 0)
		metrics.DocumentsDeleted.WithLabelValues(collection).Inc()
		w.logger.Debug().Str("id", codec.FormatID(id)).Msg("Applied delete event")
		return nil

	default:
		w.logger.Debug().
			Str("collection", collection).
			Str("operation", event.OperationType).
			Msg("Ignoring change event")
		return nil
	}
}

// saveToken persists the stream's current position. Failures are logged
// and not fatal: capture continues and the next save retries, at the cost
// of a wider replay window after a crash.
func (w *Worker) saveToken(stream *mongo.ChangeStream, collection string, logger zerolog.Logger) {
	raw := stream.ResumeToken()
	if len(raw) == 0 {
		return
	}

	var token map[string]interface{}
	if err := bson.Unmarshal(raw, &token); err != nil {
		logger.Error().Err(err).Msg("Could not decode resume token")
		return
	}
	if err := w.store.SaveResumeToken(collection, &types.StreamCheckpoint{Token: token}); err != nil {
		logger.Error().Err(err).Msg("Could not save resume token")
	}
}

// dropToken discards a resume token the server no longer honors. The
// stream reopens from now, so untailed writes in the gap surface only
// through verification or a polling pass.
func (w *Worker) dropToken(collection string, logger zerolog.Logger) {
	logger.Warn().Msg("Resume token no longer valid, dropping it; events in the gap need a verify or polling pass")
	if err := w.store.ClearResumeToken(collection); err != nil {
		logger.Error().Err(err).Msg("Could not clear resume token")
	}
	metrics.StreamReconnects.WithLabelValues(collection).Inc()
}

func (w *Worker) publish(event *events.Event) {
	if w.broker != nil {
		w.broker.Publish(event)
	}
}

// closeStream releases the server-side cursor with its own deadline so
// shutdown never hangs on a dead connection.
func closeStream(stream *mongo.ChangeStream) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = stream.Close(ctx)
}

// isStaleToken reports whether the saved resume position fell outside the
// server's retained change history.
func isStaleToken(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == codeHistoryLost || cmdErr.Code == codeInvalidResumeToken {
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "resume token")
}

// isUnsupported reports whether the deployment rejects change streams
// outright rather than failing one stream session.
func isUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == codeLocationUnsupported {
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "$changeStream")
}
