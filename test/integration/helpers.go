package integration

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"VeriTrail/client"
	"VeriTrail/internal/anchor"
	"VeriTrail/internal/api"
	"VeriTrail/internal/batch"
	"VeriTrail/internal/clock"
	"VeriTrail/internal/digest"
	"VeriTrail/internal/event"
	"VeriTrail/internal/export"
	"VeriTrail/internal/store"
)

// trailStart is the fake-clock epoch every trail starts at.
var trailStart = time.Date(2025, 5, 23, 12, 0, 0, 0, time.UTC)

// trailOpts holds configuration for a Trail.
type trailOpts struct {
	algo      digest.Algorithm                 // algo is the event hash algorithm
	tier      string                           // tier is the anchor durability tier
	chain     bool                             // chain links events via PrevHash
	anchorCfg anchor.Config                    // anchorCfg tunes the orchestrator
	primary   func(*store.Store) anchor.Target // primary builds the primary target
	fallback  func(*store.Store) anchor.Target // fallback builds the fallback target
}

// TrailOption configures trail behavior.
type TrailOption func(*trailOpts)

// WithAlgorithm sets the event hash algorithm.
func WithAlgorithm(algo digest.Algorithm) TrailOption {
	return func(o *trailOpts) { o.algo = algo }
}

// WithTier sets the anchor durability tier.
func WithTier(tier string) TrailOption { return func(o *trailOpts) { o.tier = tier } }

// WithoutChain disables PrevHash linking between events.
func WithoutChain() TrailOption { return func(o *trailOpts) { o.chain = false } }

// WithAnchorConfig sets the orchestrator schedule and retry tuning.
func WithAnchorConfig(cfg anchor.Config) TrailOption {
	return func(o *trailOpts) { o.anchorCfg = cfg }
}

// WithPrimaryTarget sets the builder for the primary anchor target.
// Builders run on every open, so a restarted trail gets targets wired
// to the fresh store.
func WithPrimaryTarget(build func(*store.Store) anchor.Target) TrailOption {
	return func(o *trailOpts) { o.primary = build }
}

// WithFallbackTarget sets the builder for the fallback anchor target.
func WithFallbackTarget(build func(*store.Store) anchor.Target) TrailOption {
	return func(o *trailOpts) { o.fallback = build }
}

// Trail runs one audit-trail service in-process: real store, recorder,
// aggregator and orchestrator behind the real HTTP API, driven through
// the real client. Only the clock is fake, so schedules and retry
// delays are deterministic and tests never wait on wall time.
type Trail struct {
	t    *testing.T
	dir  string
	opts trailOpts

	Clock        *clock.Fake          // Clock is the shared fake time source
	Store        *store.Store         // Store is the evidence store
	Recorder     *event.Recorder      // Recorder finalizes and buffers events
	Queue        *batch.Queue         // Queue holds batches awaiting anchoring
	Aggregator   *batch.Aggregator    // Aggregator seals buffers into batches
	Orchestrator *anchor.Orchestrator // Orchestrator sweeps the pending queue
	Client       *client.Client       // Client talks to the trail over HTTP

	ts *httptest.Server

	mu    sync.Mutex
	carry []*event.Event // carry holds events owed to the next seal
}

// NewTrail starts a trail service over a fresh data directory and
// registers cleanup.
func NewTrail(t *testing.T, options ...TrailOption) *Trail {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := trailOpts{
		algo:  digest.SHA256,
		tier:  "SILVER",
		chain: true,
		primary: func(s *store.Store) anchor.Target {
			return anchor.NewLocalTarget(s)
		},
	}
	for _, o := range options {
		o(&opts)
	}

	dir, err := os.MkdirTemp("", "veritrail_trail_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	tr := &Trail{
		t:     t,
		dir:   dir,
		opts:  opts,
		Clock: clock.NewFake(trailStart),
	}
	tr.open()
	t.Cleanup(tr.Shutdown)

	return tr
}

// open wires fresh components over the trail's data directory and
// restores persisted state, matching the daemon's startup sequence.
func (tr *Trail) open() {
	tr.t.Helper()

	st, err := store.Open(filepath.Join(tr.dir, "db"))
	if err != nil {
		tr.t.Fatalf("open store: %v", err)
	}
	tr.Store = st

	gen := event.NewIDGenerator(tr.Clock)
	tr.Recorder = event.NewRecorder(tr.opts.algo, gen, st, tr.opts.chain)

	tip, err := st.ChainTip()
	if err != nil {
		tr.t.Fatalf("load chain tip: %v", err)
	}
	if tip != nil {
		ms, seq, err := event.ParseID(tip.EventID)
		if err != nil {
			tr.t.Fatalf("parse chain tip ID: %v", err)
		}
		gen.Restore(ms, seq)
		tr.Recorder.RestoreChain(tip.EventHash, tip.Count)
	}

	tr.Queue = batch.NewQueue()
	tr.Aggregator = batch.NewAggregator(tr.opts.algo, tr.opts.tier, st, tr.Queue, tr.Clock)
	tr.restoreCarry()

	var fallback anchor.Target
	if tr.opts.fallback != nil {
		fallback = tr.opts.fallback(st)
	}
	tr.Orchestrator = anchor.NewOrchestrator(tr.opts.anchorCfg, tr.opts.primary(st), fallback, tr.Queue, st, tr.Clock)

	pending, err := st.PendingBatches()
	if err != nil {
		tr.t.Fatalf("load pending batches: %v", err)
	}
	for _, b := range pending {
		tr.Queue.Push(b)
	}

	last, ok, err := st.LastAnchorTime()
	if err != nil {
		tr.t.Fatalf("load last anchor time: %v", err)
	}
	if ok {
		tr.Orchestrator.RestoreLastAnchorTime(last)
	}

	s := api.New("127.0.0.1:0", tr.Recorder, tr, tr, st, tr, tr)
	tr.ts = httptest.NewServer(s.Handler())

	cli, err := client.NewClient(strings.TrimPrefix(tr.ts.URL, "http://"))
	if err != nil {
		tr.t.Fatalf("connect client: %v", err)
	}
	tr.Client = cli
}

// restoreCarry reloads events that were persisted but never sealed.
// Seals drain the log in recording order, so the unbatched events are
// exactly the log suffix past the batched total.
func (tr *Trail) restoreCarry() {
	tr.t.Helper()

	batches, err := tr.Store.Batches()
	if err != nil {
		tr.t.Fatalf("load batches: %v", err)
	}

	var batched int
	for _, b := range batches {
		batched += b.EventCount
	}

	events, err := tr.Store.Events()
	if err != nil {
		tr.t.Fatalf("load events: %v", err)
	}
	if batched > len(events) {
		tr.t.Fatalf("store inconsistent: %d events batched but only %d in the log", batched, len(events))
	}

	tr.mu.Lock()
	tr.carry = events[batched:]
	tr.mu.Unlock()
}

// SealBatch drains the buffer and seals it into a new batch. On a
// persistence failure the drained events stay owed to the next seal.
func (tr *Trail) SealBatch() (*batch.Batch, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	events := append(tr.carry, tr.Recorder.Drain()...)
	if len(events) == 0 {
		return nil, batch.ErrNoEvents
	}

	b, err := tr.Aggregator.CreateBatch(events)
	if err != nil {
		tr.carry = events
		return nil, err
	}

	tr.carry = nil

	return b, nil
}

// AnchorNow sweeps the pending queue immediately.
func (tr *Trail) AnchorNow(ctx context.Context) []anchor.Result {
	return tr.Orchestrator.AnchorPending(ctx)
}

// Status reports the trail state for the status endpoint.
func (tr *Trail) Status() api.Status {
	tr.mu.Lock()
	buffered := len(tr.carry) + tr.Recorder.BufferLen()
	tr.mu.Unlock()

	st := api.Status{
		Events:         tr.Recorder.Total(),
		Buffered:       buffered,
		PendingBatches: tr.Orchestrator.Pending(),
		Batches:        int(tr.Store.BatchCount()),
		Anchors:        int(tr.Store.AnchorCount()),
		ChainTip:       tr.Recorder.LastHash(),
		Tier:           tr.opts.tier,
		HashAlgo:       string(tr.opts.algo),
	}

	if t := tr.Orchestrator.LastAnchorTime(); !t.IsZero() {
		st.LastAnchorTime = t.UTC().Format(event.TimeLayout)
	}

	return st
}

// ExportArchive writes a fresh evidence pack and streams it to w as a
// .tar.zst archive.
func (tr *Trail) ExportArchive(w io.Writer) error {
	dir, err := os.MkdirTemp("", "veritrail_pack_*")
	if err != nil {
		return fmt.Errorf("create pack directory:\n%w", err)
	}
	defer os.RemoveAll(dir)

	if err := export.WritePack(tr.Store, dir); err != nil {
		return fmt.Errorf("write pack:\n%w", err)
	}

	return export.WriteArchive(dir, w)
}

// Shutdown stops the HTTP server and closes the store. Safe to call
// more than once; a shut-down trail can come back via Restart.
func (tr *Trail) Shutdown() {
	if tr.ts != nil {
		tr.ts.Close()
		tr.ts = nil
	}

	if tr.Store != nil {
		if err := tr.Store.Close(); err != nil {
			tr.t.Errorf("close store: %v", err)
		}
		tr.Store = nil
	}
}

// Restart simulates a process restart: shut everything down, then
// bring fresh components up over the same data directory. The fake
// clock carries over, standing in for wall time continuing outside
// the process.
func (tr *Trail) Restart() {
	tr.t.Helper()

	tr.Shutdown()
	tr.open()
}

// flakyTarget fails a fixed number of calls before succeeding,
// standing in for an anchor endpoint with a transient outage.
type flakyTarget struct {
	mu       sync.Mutex
	failures int // failures is how many calls fail before success
	calls    int // calls counts every Anchor invocation
}

// Name returns the target name recorded on anchor records.
func (f *flakyTarget) Name() string { return anchor.TargetCustomHTTP }

// Anchor fails until the outage is over, then returns a receipt proof.
func (f *flakyTarget) Anchor(ctx context.Context, b *batch.Batch) (map[string]any, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= f.failures {
		return nil, nil, fmt.Errorf("simulated outage (call %d)", f.calls)
	}

	proof := map[string]any{"receipt": b.MerkleRoot}

	return proof, []byte(b.MerkleRoot), nil
}

// callCount returns how many times Anchor ran.
func (f *flakyTarget) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// exportPack downloads the trail's evidence archive and extracts it
// into a fresh directory.
func exportPack(t *testing.T, tr *Trail) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "evidence-pack.tar.zst")
	if err := tr.Client.ExportPack(archivePath); err != nil {
		t.Fatalf("export pack: %v", err)
	}

	return extractArchive(t, archivePath)
}

// extractArchive unpacks a .tar.zst evidence archive into a fresh
// directory and returns it.
func extractArchive(t *testing.T, archivePath string) string {
	t.Helper()

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("archive is not zstd: %v", err)
	}
	defer dec.Close()

	dir := t.TempDir()
	tarReader := tar.NewReader(dec)

	for {
		hdr, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			t.Fatalf("read archive entry %s: %v", hdr.Name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, hdr.Name), data, 0644); err != nil {
			t.Fatalf("write %s: %v", hdr.Name, err)
		}
	}

	return dir
}
