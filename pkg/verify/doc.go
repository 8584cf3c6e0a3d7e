// Package verify checks that target collections faithfully mirror their
// sources. It is the authoritative consistency gate of a run: the inline
// spot checks in the copy and polling paths only warn, while a failed
// verification fails the run.
//
// # Checks
//
// Each collection passes through four checks, and its status is OK only
// when all four pass:
//
//	┌───────────┬──────────────────────────────────────────────────┐
//	│ Exists    │ target database lists the collection             │
//	│ Count     │ |source − target| ≤ max(5, 1% of source)         │
//	│ Indexes   │ index name sets equal, key patterns match        │
//	│ Sample    │ strided hash sample matches ≥ 99%                │
//	└───────────┴──────────────────────────────────────────────────┘
//
// The count tolerance exists because the source keeps moving: CDC lag
// makes exact equality a coin flip on a busy cluster. The sample check
// walks the source in _id order at stride max(1, count/100), so roughly
// one hundred documents spread across the whole keyspace are compared by
// canonical content hash rather than clustering at the head.
//
// Index keys compare by normalized pattern, not raw BSON, because tools
// disagree on direction types: mongosh writes {a: 1} as a double and the
// driver as an int32, and both describe the same index.
//
// # Reports
//
// VerifyAll fans collections out across the shared worker pool and writes
// a run record to verification/verification_<YYYYMMDD_HHMMSS>.json with a
// run id, per-collection check detail, and summary totals. Callers gate
// on Report.OK().
//
// # Usage
//
//	verifier := verify.NewVerifier(clients, cfg, broker)
//
//	report, err := verifier.VerifyAll(ctx, mappings)
//	if err != nil {
//		return err
//	}
//	if !report.OK() {
//		return fmt.Errorf("verification failed for %d collections", report.Failed)
//	}
//
// Verification is read-only on both clusters and safe to run against a
// live replication stream.
//
// # See Also
//
//   - pkg/codec: the canonical document hash the sample check compares
//   - pkg/scheduler: the pool VerifyAll dispatches through
package verify
