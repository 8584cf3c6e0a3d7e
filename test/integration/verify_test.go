package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stratumhq/mongorelay/pkg/bulk"
	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/client"
	"github.com/stratumhq/mongorelay/pkg/orchestrator"
	"github.com/stratumhq/mongorelay/pkg/types"
	"github.com/stratumhq/mongorelay/pkg/verify"
	"github.com/stratumhq/mongorelay/test/framework"
)

// TestVerifyFlagsCorruptedTarget checks that verification passes a
// faithful copy, then catches a single silently corrupted target
// document that no watermark would ever surface.
func TestVerifyFlagsCorruptedTarget(t *testing.T) {
	h := framework.NewHarness(t)
	a := framework.NewAssertions(t)

	mapping := h.Mapping("ledger")
	cfg := h.EngineConfig()
	mappings := []types.CollectionMapping{mapping}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clients := client.NewManager(cfg)
	if err := clients.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := clients.Close(closeCtx); err != nil {
			t.Logf("Warning: failed to disconnect: %v", err)
		}
	}()

	store, err := checkpoint.NewFileStore(cfg.ProgressDir())
	if err != nil {
		t.Fatalf("Failed to open checkpoint store: %v", err)
	}

	a.Step("Copying the initial documents")
	h.InsertDocs(mapping, 0, 50)

	loader := bulk.NewLoader(clients, store, cfg, nil)
	if _, err := loader.Copy(ctx, mapping); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	verifier := verify.NewVerifier(clients, cfg, nil)

	a.Step("Verifying the faithful copy")
	report, err := verifier.VerifyAll(ctx, mappings)
	if err != nil {
		t.Fatalf("Verification run failed: %v", err)
	}
	a.True(report.OK(), "Faithful copy verifies clean")
	a.Equal(1, report.Passed, "Collections passed")

	a.Step("Corrupting one target document")
	h.CorruptTargetDoc(mapping, 25)

	report, err = verifier.VerifyAll(ctx, mappings)
	if err != nil {
		t.Fatalf("Verification run failed: %v", err)
	}
	a.True(!report.OK(), "Corruption fails the run")
	a.Equal(1, report.Failed, "Collections failed")

	result := report.Results[0]
	a.True(result.Count.Passed, "Counts still agree")
	a.True(!result.Sample.Passed, "Sample comparison catches the corruption")
	a.Equal(int64(50), result.Sample.Sampled, "Small collections sample every document")
	a.Equal(int64(49), result.Sample.Matched, "Exactly one document diverges")

	// The verify mode must refuse to bless the copy too.
	a.Step("Running verify mode against the corrupted target")
	o, err := orchestrator.New(cfg, mappings)
	if err != nil {
		t.Fatalf("Failed to build orchestrator: %v", err)
	}
	a.Error(o.Run(ctx, types.ModeVerify), "Verify mode fails on a corrupted target")
	a.Success("Verification flagged the corrupted document")
}
