package integration

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VeriTrail/internal/anchor"
	"VeriTrail/internal/store"
	"VeriTrail/internal/verify"
)

// TestFallbackAfterPrimaryOutage checks that when the primary target
// is down, the sweep exhausts its retries and anchors through the
// fallback instead.
func TestFallbackAfterPrimaryOutage(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(downstream.Close)

	tr := NewTrail(t,
		WithAnchorConfig(anchor.Config{MaxRetries: 3, RetryDelay: 2 * time.Second}),
		WithPrimaryTarget(func(*store.Store) anchor.Target {
			return anchor.NewCustomTarget(downstream.URL, downstream.Client())
		}),
		WithFallbackTarget(func(s *store.Store) anchor.Target {
			return anchor.NewLocalTarget(s)
		}),
	)

	recordTrades(t, tr, 2)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal batch: %v", err)
	}

	results, err := tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("run anchors: %v", err)
	}
	if len(results) != 1 || !results[0].Anchored {
		t.Fatalf("expected the fallback to anchor the batch, got %+v", results)
	}
	if results[0].TargetUsed != anchor.TargetLocalFile {
		t.Fatalf("expected LOCAL_FILE fallback, got %q", results[0].TargetUsed)
	}

	// The primary burned all its retries before the fallback ran.
	slept := tr.Clock.Slept()
	if len(slept) != 2 {
		t.Fatalf("expected 2 retry delays, got %d (%v)", len(slept), slept)
	}
	for i, d := range slept {
		if d != 2*time.Second {
			t.Fatalf("retry delay %d is %v, want 2s", i, d)
		}
	}

	// A fallback anchor is a first-class anchor: the pack verifies.
	packDir := exportPack(t, tr)
	report, err := verify.VerifyPack(packDir)
	if err != nil {
		t.Fatalf("verify pack: %v", err)
	}
	if !report.Passed() {
		t.Fatalf("pack verification failed: %+v", report.Failed())
	}
}

// TestNotConfiguredTargetFailsFast checks that a misconfigured target
// is not retried: the sweep moves straight to the fallback.
func TestNotConfiguredTargetFailsFast(t *testing.T) {
	tr := NewTrail(t,
		WithPrimaryTarget(func(*store.Store) anchor.Target {
			return anchor.NewCustomTarget("", http.DefaultClient)
		}),
		WithFallbackTarget(func(s *store.Store) anchor.Target {
			return anchor.NewLocalTarget(s)
		}),
	)

	recordTrades(t, tr, 1)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal batch: %v", err)
	}

	results, err := tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("run anchors: %v", err)
	}
	if len(results) != 1 || !results[0].Anchored {
		t.Fatalf("expected the fallback to anchor the batch, got %+v", results)
	}
	if results[0].TargetUsed != anchor.TargetLocalFile {
		t.Fatalf("expected LOCAL_FILE fallback, got %q", results[0].TargetUsed)
	}

	if slept := tr.Clock.Slept(); len(slept) != 0 {
		t.Fatalf("configuration errors must not be retried, slept %v", slept)
	}
}

// TestSweepScheduleHonorsInterval checks IsDue gating: due with
// pending work and an elapsed interval, not due right after a sweep,
// never due with an empty queue.
func TestSweepScheduleHonorsInterval(t *testing.T) {
	tr := NewTrail(t, WithAnchorConfig(anchor.Config{Interval: time.Hour}))

	recordTrades(t, tr, 1)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal first batch: %v", err)
	}

	if !tr.Orchestrator.IsDue(tr.Clock.Now()) {
		t.Fatal("first sweep must be due: pending work and no prior sweep")
	}

	if _, err := tr.Client.RunAnchors(); err != nil {
		t.Fatalf("run anchors: %v", err)
	}
	if tr.Orchestrator.IsDue(tr.Clock.Now()) {
		t.Fatal("sweep marker did not advance")
	}

	tr.Clock.Advance(time.Minute)
	recordTrades(t, tr, 1)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal second batch: %v", err)
	}

	if tr.Orchestrator.IsDue(tr.Clock.Now()) {
		t.Fatal("sweep due before the interval elapsed")
	}

	tr.Clock.Advance(time.Hour)
	if !tr.Orchestrator.IsDue(tr.Clock.Now()) {
		t.Fatal("sweep not due after the interval elapsed")
	}

	results, err := tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("run anchors: %v", err)
	}
	if len(results) != 1 || !results[0].Anchored {
		t.Fatalf("expected the second batch to anchor, got %+v", results)
	}

	// Nothing pending: never due, however much time passes.
	tr.Clock.Advance(2 * time.Hour)
	if tr.Orchestrator.IsDue(tr.Clock.Now()) {
		t.Fatal("sweep due with an empty queue")
	}
}

// TestFailedBatchRetriesOnLaterSweeps checks that a batch surviving a
// failed sweep stays queued and anchors on a later one, with attempt
// counting across sweeps.
func TestFailedBatchRetriesOnLaterSweeps(t *testing.T) {
	ft := &flakyTarget{failures: 4}

	tr := NewTrail(t,
		WithAnchorConfig(anchor.Config{MaxRetries: 3, RetryDelay: time.Second}),
		WithPrimaryTarget(func(*store.Store) anchor.Target { return ft }),
	)

	recordTrades(t, tr, 2)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal batch: %v", err)
	}

	// Sweep 1: three attempts, all inside the outage.
	results, err := tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(results) != 1 || results[0].Anchored {
		t.Fatalf("expected a failed result, got %+v", results)
	}
	if results[0].TargetUsed != anchor.TargetCustomHTTP {
		t.Fatalf("unexpected target on failure: %q", results[0].TargetUsed)
	}
	if results[0].Error == "" {
		t.Fatal("failed result carries no error")
	}

	st, err := tr.Client.Status()
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.PendingBatches != 1 || st.Anchors != 0 {
		t.Fatalf("failed batch must stay pending: %+v", st)
	}

	// Sweep 2: attempt 4 still fails, attempt 5 lands.
	results, err = tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(results) != 1 || !results[0].Anchored {
		t.Fatalf("expected the batch to anchor on the second sweep, got %+v", results)
	}
	if ft.callCount() != 5 {
		t.Fatalf("expected 5 calls across sweeps, got %d", ft.callCount())
	}

	st, err = tr.Client.Status()
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.PendingBatches != 0 || st.Anchors != 1 {
		t.Fatalf("batch not anchored after second sweep: %+v", st)
	}
}

// TestOpenTimestampsReceiptStored anchors through a stub calendar and
// checks the receipt lands in the proof blob store.
func TestOpenTimestampsReceiptStored(t *testing.T) {
	const receiptPrefix = "ots-receipt:"

	calendar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/digest" {
			http.NotFound(w, r)
			return
		}

		digest, err := io.ReadAll(r.Body)
		if err != nil || len(digest) != 32 {
			http.Error(w, "bad digest", http.StatusBadRequest)
			return
		}

		w.Write([]byte(receiptPrefix))
		w.Write(digest)
	}))
	t.Cleanup(calendar.Close)

	tr := NewTrail(t,
		WithPrimaryTarget(func(*store.Store) anchor.Target {
			return anchor.NewOpenTimestampsTarget(calendar.URL, calendar.Client())
		}),
	)

	recordTrades(t, tr, 2)
	if _, err := tr.Client.SealBatch(); err != nil {
		t.Fatalf("seal batch: %v", err)
	}

	results, err := tr.Client.RunAnchors()
	if err != nil {
		t.Fatalf("run anchors: %v", err)
	}
	if len(results) != 1 || !results[0].Anchored {
		t.Fatalf("expected the calendar to anchor the batch, got %+v", results)
	}
	if results[0].TargetUsed != anchor.TargetOpenTimestamps {
		t.Fatalf("expected OPENTIMESTAMPS target, got %q", results[0].TargetUsed)
	}

	anchors, err := tr.Client.ListAnchors()
	if err != nil {
		t.Fatalf("list anchors: %v", err)
	}
	if len(anchors) != 1 {
		t.Fatalf("expected 1 anchor record, got %d", len(anchors))
	}

	rec := anchors[0]
	if rec.AnchorTarget != anchor.TargetOpenTimestamps {
		t.Fatalf("anchor record target is %q", rec.AnchorTarget)
	}
	if _, ok := rec.AnchorProof["receipt_bytes"]; !ok {
		t.Fatalf("proof missing receipt size: %+v", rec.AnchorProof)
	}

	blob, err := tr.Store.AnchorProofBlob(rec.AnchorID)
	if err != nil {
		t.Fatalf("load proof blob: %v", err)
	}
	if !bytes.HasPrefix(blob, []byte(receiptPrefix)) {
		t.Fatalf("proof blob does not carry the calendar receipt: %q", blob)
	}
}
