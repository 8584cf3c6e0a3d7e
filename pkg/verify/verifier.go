package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/codec"
	"github.com/stratumhq/mongorelay/pkg/config"
	"github.com/stratumhq/mongorelay/pkg/events"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/scheduler"
	"github.com/stratumhq/mongorelay/pkg/types"
)

const (
	// sampleTarget is how many documents the sample check draws per
	// collection, spread evenly across the _id order.
	sampleTarget = 100

	// countSlack is the minimum absolute count difference tolerated; CDC
	// lag makes exact counts a moving target on a live source.
	countSlack = 5

	// passRatio is the sample match ratio below which a collection fails.
	passRatio = 0.99
)

// Verifier checks that target collections faithfully mirror their
// sources. It is read-only on both clusters and is the authoritative
// gate for a run: the inline spot checks elsewhere only warn.
type Verifier struct {
	clients *client.Manager
	cfg     *config.Config
	broker  *events.Broker
	pool    *scheduler.Pool
	logger  zerolog.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(clients *client.Manager, cfg *config.Config, broker *events.Broker) *Verifier {
	return &Verifier{
		clients: clients,
		cfg:     cfg,
		broker:  broker,
		pool:    scheduler.NewPool(cfg.Concurrency),
		logger:  log.WithComponent("verify"),
	}
}

// VerifyCollection runs the four checks against one collection: the
// target has it, counts agree within tolerance, indexes match by name
// and key pattern, and a strided document sample hash-matches. Check
// errors are recorded on the result, never returned; a result always
// comes back.
func (v *Verifier) VerifyCollection(ctx context.Context, mapping types.CollectionMapping) *types.VerificationResult {
	logger := v.logger.With().Str("collection", mapping.Collection).Logger()
	logger.Info().Msg("Verifying collection")

	result := &types.VerificationResult{
		Collection: mapping.Collection,
		SourceDB:   mapping.SourceDB,
		TargetDB:   mapping.TargetDB,
		Status:     types.VerificationFailed,
		Timestamp:  time.Now().UTC(),
	}

	exists, err := v.checkExists(ctx, mapping)
	if err != nil {
		result.Error = err.Error()
		logger.Error().Err(err).Msg("Existence check failed")
		v.finish(result, logger)
		return result
	}
	result.Exists = types.ExistsCheck{Passed: exists}
	if !exists {
		logger.Error().Msg("Collection does not exist on target")
		v.finish(result, logger)
		return result
	}

	if err := v.checkCount(ctx, mapping, result); err != nil {
		result.Error = err.Error()
		logger.Error().Err(err).Msg("Count check failed")
	}
	if err := v.checkIndexes(ctx, mapping, result); err != nil {
		if result.Error == "" {
			result.Error = err.Error()
		}
		logger.Error().Err(err).Msg("Index check failed")
	}
	if err := v.checkSample(ctx, mapping, result, logger); err != nil {
		if result.Error == "" {
			result.Error = err.Error()
		}
		logger.Error().Err(err).Msg("Sample check failed")
	}

	v.finish(result, logger)
	return result
}

// VerifyAll fans the collection checks out across the worker pool and
// writes the run report under the verification directory. The report
// always reflects every collection that finished, even on cancellation;
// the file is only written for complete runs.
func (v *Verifier) VerifyAll(ctx context.Context, mappings []types.CollectionMapping) (*types.VerificationReport, error) {
	v.logger.Info().Int("collections", len(mappings)).Msg("Starting verification run")

	report := &types.VerificationReport{
		RunID:     uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}

	var mu sync.Mutex
	runErr := v.pool.Run(ctx, mappings, func(ctx context.Context, mapping types.CollectionMapping) error {
		result := v.VerifyCollection(ctx, mapping)
		mu.Lock()
		report.Results = append(report.Results, *result)
		mu.Unlock()
		return ctx.Err()
	})

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Collection < report.Results[j].Collection
	})
	report.Total = len(report.Results)
	for _, result := range report.Results {
		if result.Status == types.VerificationOK {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if runErr != nil {
		return report, fmt.Errorf("verification run interrupted: %w", runErr)
	}

	if err := v.writeReport(report); err != nil {
		return report, err
	}

	if report.Failed > 0 {
		v.logger.Warn().
			Int("failed", report.Failed).
			Int("total", report.Total).
			Strs("collections", failedCollections(report)).
			Msg("Verification failed for some collections")
	} else {
		v.logger.Info().Int("total", report.Total).Msg("All collections verified successfully")
	}
	return report, nil
}

// finish derives the overall status and emits the metric and lifecycle
// event for the result.
func (v *Verifier) finish(result *types.VerificationResult, logger zerolog.Logger) {
	if result.Exists.Passed && result.Count.Passed && result.Indexes.Passed && result.Sample.Passed {
		result.Status = types.VerificationOK
		logger.Info().Msg("Verification OK")
		v.publish(&events.Event{Type: events.EventVerificationPassed, Collection: result.Collection})
		return
	}

	result.Status = types.VerificationFailed
	metrics.VerificationFailures.WithLabelValues(result.Collection).Inc()
	logger.Warn().Msg("Verification FAILED")
	v.publish(&events.Event{Type: events.EventVerificationFailed, Collection: result.Collection, Message: result.Error})
}

func (v *Verifier) checkExists(ctx context.Context, mapping types.CollectionMapping) (bool, error) {
	var names []string
	err := v.clients.WithRetry(ctx, "verify_exists", func(ctx context.Context) error {
		db := v.clients.Target().Database(mapping.TargetDB)
		listed, err := db.ListCollectionNames(ctx, bson.M{"name": mapping.Collection})
		if err != nil {
			return err
		}
		names = listed
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to list target collections: %w", err)
	}
	return len(names) > 0, nil
}

func (v *Verifier) checkCount(ctx context.Context, mapping types.CollectionMapping, result *types.VerificationResult) error {
	source := v.clients.SourceCollection(mapping)
	target := v.clients.TargetCollection(mapping)

	srcCount, err := v.count(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to count source documents: %w", err)
	}
	tgtCount, err := v.count(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to count target documents: %w", err)
	}

	diff := srcCount - tgtCount
	if diff < 0 {
		diff = -diff
	}
	tol := tolerance(srcCount)

	result.Count = types.CountCheck{
		Source:    srcCount,
		Target:    tgtCount,
		Diff:      diff,
		Tolerance: tol,
		Passed:    diff <= tol,
	}
	if !result.Count.Passed {
		v.logger.Warn().
			Str("collection", mapping.Collection).
			Int64("source", srcCount).
			Int64("target", tgtCount).
			Msg("Document count mismatch")
	}
	return nil
}

func (v *Verifier) checkIndexes(ctx context.Context, mapping types.CollectionMapping, result *types.VerificationResult) error {
	srcIndexes, err := v.listIndexes(ctx, v.clients.SourceCollection(mapping), "verify_indexes_source")
	if err != nil {
		return fmt.Errorf("failed to list source indexes: %w", err)
	}
	tgtIndexes, err := v.listIndexes(ctx, v.clients.TargetCollection(mapping), "verify_indexes_target")
	if err != nil {
		return fmt.Errorf("failed to list target indexes: %w", err)
	}

	check := types.IndexCheck{
		SourceIndexes: sortedNames(srcIndexes),
		TargetIndexes: sortedNames(tgtIndexes),
	}

	for name, key := range srcIndexes {
		tgtKey, ok := tgtIndexes[name]
		if !ok {
			check.Missing = append(check.Missing, name)
			continue
		}
		if keyPattern(key) != keyPattern(tgtKey) {
			check.Mismatched = append(check.Mismatched, name)
		}
	}
	extra := 0
	for name := range tgtIndexes {
		if _, ok := srcIndexes[name]; !ok {
			extra++
		}
	}
	sort.Strings(check.Missing)
	sort.Strings(check.Mismatched)

	check.Passed = len(check.Missing) == 0 && len(check.Mismatched) == 0 && extra == 0
	result.Indexes = check
	if !check.Passed {
		v.logger.Warn().
			Str("collection", mapping.Collection).
			Strs("missing", check.Missing).
			Strs("mismatched", check.Mismatched).
			Int("extra", extra).
			Msg("Index mismatch")
	}
	return nil
}

// checkSample hash-compares documents drawn at a fixed stride across the
// source's _id order against their target copies.
func (v *Verifier) checkSample(ctx context.Context, mapping types.CollectionMapping, result *types.VerificationResult, logger zerolog.Logger) error {
	source := v.clients.SourceCollection(mapping)
	target := v.clients.TargetCollection(mapping)

	total, err := v.count(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to count source documents: %w", err)
	}
	if total == 0 {
		logger.Info().Msg("Collection is empty on source, skipping sample check")
		result.Sample = types.SampleCheck{Ratio: 1, Passed: true}
		return nil
	}

	stride := total / sampleTarget
	if stride < 1 {
		stride = 1
	}

	var sampled, matched int64
	for offset := int64(0); offset < total && sampled < sampleTarget; offset += stride {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doc, err := v.sampleAt(ctx, source, offset)
		if err != nil {
			return fmt.Errorf("failed to sample source document: %w", err)
		}
		if doc == nil {
			// Collection shrank below the offset while sampling.
			break
		}
		sampled++

		id := doc.Lookup("_id")
		tgtDoc, err := v.findByID(ctx, target, id)
		if err != nil {
			return fmt.Errorf("failed to look up target document: %w", err)
		}
		if tgtDoc == nil {
			logger.Warn().Str("id", codec.FormatID(id)).Msg("Sample document missing on target")
			continue
		}

		srcHash, err := codec.Hash(doc)
		if err != nil {
			logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Could not hash source document")
			continue
		}
		tgtHash, err := codec.Hash(tgtDoc)
		if err != nil {
			logger.Warn().Str("id", codec.FormatID(id)).Err(err).Msg("Could not hash target document")
			continue
		}
		if srcHash != tgtHash {
			logger.Warn().Str("id", codec.FormatID(id)).Msg("Sample document content mismatch")
			continue
		}
		matched++
	}

	ratio := float64(1)
	if sampled > 0 {
		ratio = float64(matched) / float64(sampled)
	}
	result.Sample = types.SampleCheck{
		Sampled: sampled,
		Matched: matched,
		Ratio:   ratio,
		Passed:  ratio >= passRatio,
	}
	logger.Info().
		Int64("sampled", sampled).
		Int64("matched", matched).
		Float64("ratio", ratio).
		Msg("Sample comparison complete")
	return nil
}

func (v *Verifier) count(ctx context.Context, coll *mongo.Collection) (int64, error) {
	var count int64
	err := v.clients.WithRetry(ctx, "verify_count", func(ctx context.Context) error {
		n, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// sampleAt fetches the document at the given offset in _id order, or nil
// when the offset is past the end.
func (v *Verifier) sampleAt(ctx context.Context, source *mongo.Collection, offset int64) (bson.Raw, error) {
	var doc bson.Raw
	err := v.clients.WithRetry(ctx, "verify_sample", func(ctx context.Context) error {
		opts := options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetSkip(offset).
			SetLimit(1)

		cursor, err := source.Find(ctx, bson.M{}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		doc = nil
		if cursor.Next(ctx) {
			var raw bson.Raw
			if err := cursor.Decode(&raw); err != nil {
				return err
			}
			doc = raw
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (v *Verifier) findByID(ctx context.Context, coll *mongo.Collection, id bson.RawValue) (bson.Raw, error) {
	var doc bson.Raw
	err := v.clients.WithRetry(ctx, "verify_lookup", func(ctx context.Context) error {
		res := coll.FindOne(ctx, bson.M{"_id": id})
		if err := res.Err(); err != nil {
			if err == mongo.ErrNoDocuments {
				doc = nil
				return nil
			}
			return err
		}
		return res.Decode(&doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// indexSpec is the slice of a listIndexes document the comparison needs.
type indexSpec struct {
	Name string `bson:"name"`
	Key  bson.D `bson:"key"`
}

func (v *Verifier) listIndexes(ctx context.Context, coll *mongo.Collection, op string) (map[string]bson.D, error) {
	var specs map[string]bson.D
	err := v.clients.WithRetry(ctx, op, func(ctx context.Context) error {
		cursor, err := coll.Indexes().List(ctx)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		specs = make(map[string]bson.D)
		for cursor.Next(ctx) {
			var spec indexSpec
			if err := cursor.Decode(&spec); err != nil {
				return err
			}
			specs[spec.Name] = spec.Key
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// writeReport persists the run record as
// verification/verification_<YYYYMMDD_HHMMSS>.json.
func (v *Verifier) writeReport(report *types.VerificationReport) error {
	dir := v.cfg.VerificationDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create verification directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("verification_%s.json", report.Timestamp.UTC().Format("20060102_150405")))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode verification report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write verification report: %w", err)
	}

	v.logger.Info().Str("path", path).Msg("Verification report saved")
	return nil
}

func (v *Verifier) publish(event *events.Event) {
	if v.broker != nil {
		v.broker.Publish(event)
	}
}

// tolerance is the allowed absolute count difference: 1% of the source
// count, with a floor of countSlack for small collections.
func tolerance(src int64) int64 {
	tol := src / 100
	if tol < countSlack {
		return countSlack
	}
	return tol
}

// keyPattern renders an index key document in a normalized comparable
// form. Key order is significant; numeric direction values compare by
// value so an int32 1 and a double 1 read as the same spec.
func keyPattern(key bson.D) string {
	parts := make([]string, 0, len(key))
	for _, elem := range key {
		parts = append(parts, elem.Key+":"+keyValue(elem.Value))
	}
	return strings.Join(parts, ",")
}

func keyValue(v interface{}) string {
	switch n := v.(type) {
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedNames(specs map[string]bson.D) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func failedCollections(report *types.VerificationReport) []string {
	var failed []string
	for _, result := range report.Results {
		if result.Status != types.VerificationOK {
			failed = append(failed, result.Collection)
		}
	}
	return failed
}
