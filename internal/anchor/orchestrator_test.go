package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/clock"
	"VeriTrail/internal/event"
)

// scriptedTarget fails a fixed number of calls before succeeding, or
// always fails when err is set.
type scriptedTarget struct {
	name     string
	failures int
	err      error
	panicMsg string
	calls    int
}

func (s *scriptedTarget) Name() string { return s.name }

func (s *scriptedTarget) Anchor(_ context.Context, _ *batch.Batch) (map[string]any, []byte, error) {
	s.calls++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	if s.calls <= s.failures {
		return nil, nil, errors.New("transient failure")
	}
	return map[string]any{"ok": true}, []byte("raw-proof"), nil
}

type orchStore struct {
	anchors   []*batch.AnchorRecord
	batches   []*batch.Batch
	blobs     map[string][]byte
	lastTime  time.Time
	commitErr error
}

func (s *orchStore) CommitAnchor(b *batch.Batch, rec *batch.AnchorRecord, raw []byte) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.anchors = append(s.anchors, rec)
	s.batches = append(s.batches, b)
	if raw != nil {
		if s.blobs == nil {
			s.blobs = make(map[string][]byte)
		}
		s.blobs[rec.AnchorID] = raw
	}
	return nil
}

func (s *orchStore) SetLastAnchorTime(t time.Time) error {
	s.lastTime = t
	return nil
}

func newTestOrchestrator(t *testing.T, primary, fallback Target) (*Orchestrator, *batch.Queue, *orchStore, *clock.Fake) {
	t.Helper()

	queue := batch.NewQueue()
	store := &orchStore{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{
		Interval:    24 * time.Hour,
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		CallTimeout: time.Minute,
	}

	o := NewOrchestrator(cfg, primary, fallback, queue, store, clk)
	o.RestoreLastAnchorTime(clk.Now())
	return o, queue, store, clk
}

func pendingBatch(id string) *batch.Batch {
	return &batch.Batch{
		BatchID:    id,
		MerkleRoot: strings.Repeat("ab", 32),
		HashAlgo:   "SHA256",
		EventCount: 1,
		Tier:       "SILVER",
	}
}

func TestIsDue(t *testing.T) {
	o, queue, _, clk := newTestOrchestrator(t, &scriptedTarget{name: TargetLocalFile}, nil)

	if o.IsDue(clk.Now().Add(48 * time.Hour)) {
		t.Error("empty queue must never be due")
	}

	queue.Push(pendingBatch("b1"))
	if o.IsDue(clk.Now().Add(23 * time.Hour)) {
		t.Error("due before the interval elapsed")
	}
	if !o.IsDue(clk.Now().Add(24 * time.Hour)) {
		t.Error("not due exactly at the interval")
	}
	if !o.IsDue(clk.Now().Add(25 * time.Hour)) {
		t.Error("not due after the interval elapsed")
	}
}

func TestSweepRetriesThenSucceeds(t *testing.T) {
	target := &scriptedTarget{name: TargetCustomHTTP, failures: 2}
	o, queue, store, clk := newTestOrchestrator(t, target, nil)
	queue.Push(pendingBatch("b1"))

	results := o.AnchorPending(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Anchored {
		t.Fatalf("expected success after retries, got %v", results[0].Err)
	}
	if target.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", target.calls)
	}

	slept := clk.Slept()
	if len(slept) != 2 {
		t.Fatalf("expected 2 retry delays, got %d", len(slept))
	}
	for _, d := range slept {
		if d != 2*time.Second {
			t.Errorf("expected a fixed 2s retry delay, got %s", d)
		}
	}
	if len(store.anchors) != 1 {
		t.Errorf("expected 1 anchor record, got %d", len(store.anchors))
	}
}

func TestSweepKeepsFailedBatchQueued(t *testing.T) {
	target := &scriptedTarget{name: TargetCustomHTTP, err: errors.New("endpoint down")}
	o, queue, store, clk := newTestOrchestrator(t, target, nil)
	queue.Push(pendingBatch("b1"))
	before := o.LastAnchorTime()
	clk.Advance(25 * time.Hour)

	results := o.AnchorPending(context.Background())
	res := results[0]
	if res.Anchored {
		t.Fatal("expected failure")
	}
	if res.Err == nil {
		t.Fatal("expected the last error to surface")
	}
	if target.calls != 3 {
		t.Errorf("expected 3 attempts before giving up, got %d", target.calls)
	}
	if queue.Len() != 1 {
		t.Error("failed batch must stay queued for the next sweep")
	}
	if len(store.anchors) != 0 {
		t.Error("no anchor record may be written on failure")
	}

	if !o.LastAnchorTime().After(before) {
		t.Error("sweep marker must advance even when every batch fails")
	}
	if !store.lastTime.Equal(o.LastAnchorTime()) {
		t.Error("sweep marker must be persisted")
	}
}

func TestFallbackAfterPrimaryExhausted(t *testing.T) {
	primary := &scriptedTarget{name: TargetOpenTimestamps, err: errors.New("calendar down")}
	fallback := &scriptedTarget{name: TargetLocalFile}
	o, queue, store, _ := newTestOrchestrator(t, primary, fallback)
	b := pendingBatch("b1")
	queue.Push(b)

	res := o.AnchorPending(context.Background())[0]
	if !res.Anchored {
		t.Fatalf("expected fallback success, got %v", res.Err)
	}
	if res.TargetUsed != TargetLocalFile {
		t.Errorf("expected target %s, got %s", TargetLocalFile, res.TargetUsed)
	}
	if primary.calls != 3 {
		t.Errorf("primary attempted %d times, expected 3", primary.calls)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback attempted %d times, expected 1", fallback.calls)
	}

	if queue.Len() != 0 {
		t.Error("anchored batch must leave the queue")
	}
	if !b.Anchored || b.Anchor == nil {
		t.Error("batch must carry its anchor record")
	}
	if res.Record.AnchorTarget != TargetLocalFile {
		t.Errorf("record names target %s, expected %s", res.Record.AnchorTarget, TargetLocalFile)
	}
	if store.blobs[res.Record.AnchorID] == nil {
		t.Error("raw proof blob must be persisted")
	}
}

func TestConfigurationErrorNotRetried(t *testing.T) {
	target := &scriptedTarget{
		name: TargetCustomHTTP,
		err:  fmt.Errorf("custom anchor URL missing: %w", ErrNotConfigured),
	}
	o, queue, _, clk := newTestOrchestrator(t, target, nil)
	queue.Push(pendingBatch("b1"))

	res := o.AnchorPending(context.Background())[0]
	if res.Anchored {
		t.Fatal("expected failure")
	}
	if target.calls != 1 {
		t.Errorf("configuration errors must not be retried, got %d attempts", target.calls)
	}
	if len(clk.Slept()) != 0 {
		t.Error("no retry delay expected for a configuration error")
	}
}

func TestTargetPanicContained(t *testing.T) {
	target := &scriptedTarget{name: TargetCustomHTTP, panicMsg: "nil dereference"}
	o, queue, _, _ := newTestOrchestrator(t, target, nil)
	queue.Push(pendingBatch("b1"))

	res := o.AnchorPending(context.Background())[0]
	if res.Anchored {
		t.Fatal("expected failure")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "panicked") {
		t.Errorf("expected a contained panic error, got %v", res.Err)
	}
	if queue.Len() != 1 {
		t.Error("batch must stay queued after a target panic")
	}
}

func TestSweepAnchorsInEnqueueOrder(t *testing.T) {
	target := &scriptedTarget{name: TargetLocalFile}
	o, queue, store, _ := newTestOrchestrator(t, target, nil)
	ids := []string{"b1", "b2", "b3"}
	for _, id := range ids {
		queue.Push(pendingBatch(id))
	}

	results := o.AnchorPending(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, id := range ids {
		if results[i].BatchID != id {
			t.Errorf("result %d is for %s, expected %s", i, results[i].BatchID, id)
		}
		if store.anchors[i].BatchID != id {
			t.Errorf("anchor %d is for %s, expected %s", i, store.anchors[i].BatchID, id)
		}
	}
	if queue.Len() != 0 {
		t.Errorf("expected an empty queue, %d left", queue.Len())
	}
}

func TestCommitFailureRollsBack(t *testing.T) {
	target := &scriptedTarget{name: TargetLocalFile}
	o, queue, store, _ := newTestOrchestrator(t, target, nil)
	store.commitErr = errors.New("disk full")
	b := pendingBatch("b1")
	queue.Push(b)

	res := o.AnchorPending(context.Background())[0]
	if res.Anchored {
		t.Fatal("a failed commit must not report success")
	}
	if b.Anchored || b.Anchor != nil {
		t.Error("batch state must roll back when the commit fails")
	}
	if queue.Len() != 1 {
		t.Error("batch must stay queued when the commit fails")
	}
}

func TestAnchorRecordFields(t *testing.T) {
	target := &scriptedTarget{name: TargetCustomHTTP}
	o, queue, _, clk := newTestOrchestrator(t, target, nil)

	b := pendingBatch("b1")
	b.EventCount = 4
	b.Tier = "GOLD"
	b.FirstTimestamp = "2025-06-01T00:00:00.000Z"
	b.LastTimestamp = "2025-06-01T00:00:01.000Z"
	queue.Push(b)

	rec := o.AnchorPending(context.Background())[0].Record
	if rec == nil {
		t.Fatal("expected an anchor record")
	}
	if rec.AnchorID == "" {
		t.Error("expected an anchor ID")
	}
	if rec.BatchID != "b1" || rec.MerkleRoot != b.MerkleRoot {
		t.Error("record must reference the anchored batch")
	}
	if rec.AnchorTimeInt != clk.Now().UnixMilli() {
		t.Errorf("unexpected anchor time %d", rec.AnchorTimeInt)
	}
	if rec.AnchorTimeISO != clk.Now().UTC().Format(event.TimeLayout) {
		t.Errorf("unexpected anchor time %q", rec.AnchorTimeISO)
	}
	if rec.EventCount != 4 || rec.Tier != "GOLD" {
		t.Error("record must copy the batch's count and tier")
	}
	if rec.FirstTimestamp != b.FirstTimestamp || rec.LastTimestamp != b.LastTimestamp {
		t.Error("record must copy the batch's time range")
	}
	if rec.AnchorProof["ok"] != true {
		t.Error("record must carry the target's proof object")
	}
}
