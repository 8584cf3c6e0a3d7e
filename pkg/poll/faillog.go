package poll

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/stratumhq/mongorelay/pkg/codec"
)

// failureRecord is one line of the per-collection failure log, kept as
// newline-delimited JSON so replay tooling can stream it.
type failureRecord struct {
	DocID     string `json:"doc_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// logFailures appends one record per staged document to
// logs/<collection>_failed_docs.log so the ids survive for manual replay
// after a bulk write exhausted its retries.
func (w *Worker) logFailures(collection string, staged []bson.Raw, cause error) error {
	if err := os.MkdirAll(w.cfg.LogsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := filepath.Join(w.cfg.LogsDir(), collection+"_failed_docs.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open failure log %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, doc := range staged {
		record := failureRecord{
			DocID:     codec.FormatID(doc.Lookup(fieldID)),
			Error:     cause.Error(),
			Timestamp: stamp,
		}
		if err := enc.Encode(&record); err != nil {
			return fmt.Errorf("failed to append failure record: %w", err)
		}
	}
	return nil
}
