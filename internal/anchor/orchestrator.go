package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/clock"
	"VeriTrail/internal/event"
	"VeriTrail/internal/logger"
)

// Store is the persistence slice the orchestrator needs.
type Store interface {
	// CommitAnchor durably persists an anchoring in one write: the
	// anchor record, the raw proof blob (may be nil) and the batch in
	// its anchored state.
	CommitAnchor(b *batch.Batch, rec *batch.AnchorRecord, rawProof []byte) error

	// SetLastAnchorTime persists the sweep marker.
	SetLastAnchorTime(t time.Time) error
}

// Config tunes the orchestrator's schedule and retry behavior. Zero
// values mean the defaults.
type Config struct {
	Interval    time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Result reports one batch's outcome within a sweep.
type Result struct {
	BatchID    string
	TargetUsed string
	Anchored   bool
	Elapsed    time.Duration
	Err        error
	Record     *batch.AnchorRecord
}

// Orchestrator drives batches from pending to anchored. One sweep
// walks the queue in enqueue order, anchoring each batch via the
// primary target with the fallback as second chance; batches that
// still fail stay queued for the next sweep.
type Orchestrator struct {
	cfg      Config
	primary  Target
	fallback Target
	queue    *batch.Queue
	store    Store
	clk      clock.Clock

	mu             sync.Mutex
	lastAnchorTime time.Time
}

// NewOrchestrator creates an orchestrator. fallback may be nil when
// no secondary target is configured.
func NewOrchestrator(cfg Config, primary, fallback Target, queue *batch.Queue, store Store, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		primary:  primary,
		fallback: fallback,
		queue:    queue,
		store:    store,
		clk:      clk,
	}
}

// RestoreLastAnchorTime seeds the sweep marker from persisted state.
func (o *Orchestrator) RestoreLastAnchorTime(t time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastAnchorTime = t
}

// LastAnchorTime returns the end time of the most recent sweep.
func (o *Orchestrator) LastAnchorTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastAnchorTime
}

// Pending returns how many batches await anchoring.
func (o *Orchestrator) Pending() int {
	return o.queue.Len()
}

// IsDue reports whether a sweep should run at now: there is pending
// work and at least one interval has passed since the last sweep. It
// decides scheduling only and never blocks.
func (o *Orchestrator) IsDue(now time.Time) bool {
	if o.queue.Len() == 0 {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return now.Sub(o.lastAnchorTime) >= o.cfg.Interval
}

// AnchorPending sweeps the queue once: every pending batch is
// attempted in enqueue order, successes move to the anchor history
// and leave the queue, failures stay queued. The sweep marker
// advances exactly once per sweep, whatever the individual outcomes.
// The returned results carry per-batch errors; AnchorPending itself
// never fails and never panics.
func (o *Orchestrator) AnchorPending(ctx context.Context) []Result {
	pending := o.queue.Snapshot()
	results := make([]Result, 0, len(pending))

	for _, b := range pending {
		res := o.anchorOne(ctx, b)
		if res.Anchored {
			o.queue.Remove(b.BatchID)
			logger.Info("batch anchored",
				"batch", b.BatchID,
				"target", res.TargetUsed,
				"anchor", res.Record.AnchorID,
				"elapsed", res.Elapsed)
		} else {
			logger.Warn("batch stays pending",
				"batch", b.BatchID,
				"error", res.Err)
		}
		results = append(results, res)
	}

	end := o.clk.Now()
	o.mu.Lock()
	o.lastAnchorTime = end
	o.mu.Unlock()
	if err := o.store.SetLastAnchorTime(end); err != nil {
		logger.Warn("persist last anchor time", "error", err)
	}

	return results
}

// anchorOne anchors a single batch: primary target first, fallback
// when one is configured. A panicking target implementation is
// contained here and reported as a failed result.
func (o *Orchestrator) anchorOne(ctx context.Context, b *batch.Batch) (res Result) {
	res = Result{BatchID: b.BatchID}
	defer func() {
		if r := recover(); r != nil {
			res.Anchored = false
			res.Err = fmt.Errorf("anchor target panicked: %v", r)
		}
	}()

	start := o.clk.Now()
	target := o.primary
	proof, raw, err := o.tryTarget(ctx, b, target)
	if err != nil && o.fallback != nil {
		logger.Warn("primary anchor target failed",
			"batch", b.BatchID,
			"target", target.Name(),
			"error", err)
		target = o.fallback
		proof, raw, err = o.tryTarget(ctx, b, target)
	}

	res.TargetUsed = target.Name()
	if err != nil {
		res.Err = err
		res.Elapsed = o.clk.Now().Sub(start)
		return res
	}

	rec := o.newRecord(b, target.Name(), proof)
	b.MarkAnchored(rec)
	if err := o.store.CommitAnchor(b, rec, raw); err != nil {
		b.Anchored = false
		b.Anchor = nil
		res.Err = fmt.Errorf("persist anchor for batch %s:\n%w", b.BatchID, err)
		res.Elapsed = o.clk.Now().Sub(start)
		return res
	}

	res.Anchored = true
	res.Record = rec
	res.Elapsed = o.clk.Now().Sub(start)
	return res
}

// tryTarget attempts one target with bounded retries and a fixed
// delay between attempts. Configuration errors and context
// cancellation stop the retry loop immediately; otherwise the last
// error surfaces after exhaustion.
func (o *Orchestrator) tryTarget(ctx context.Context, b *batch.Batch, target Target) (map[string]any, []byte, error) {
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			o.clk.Sleep(o.cfg.RetryDelay)
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		proof, raw, err := target.Anchor(callCtx, b)
		cancel()

		if err == nil {
			return proof, raw, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotConfigured) {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%s aborted:\n%w", target.Name(), ctx.Err())
		}

		logger.Debug("anchor attempt failed",
			"batch", b.BatchID,
			"target", target.Name(),
			"attempt", attempt,
			"error", err)
	}

	return nil, nil, fmt.Errorf("%s failed after %d attempts:\n%w", target.Name(), o.cfg.MaxRetries, lastErr)
}

// newRecord builds the immutable anchor record for a successful
// submission.
func (o *Orchestrator) newRecord(b *batch.Batch, targetName string, proof map[string]any) *batch.AnchorRecord {
	now := o.clk.Now().UTC()
	return &batch.AnchorRecord{
		AnchorID:       uuid.NewString(),
		BatchID:        b.BatchID,
		MerkleRoot:     b.MerkleRoot,
		AnchorTimeISO:  now.Format(event.TimeLayout),
		AnchorTimeInt:  now.UnixMilli(),
		AnchorTarget:   targetName,
		AnchorProof:    proof,
		EventCount:     b.EventCount,
		FirstTimestamp: b.FirstTimestamp,
		LastTimestamp:  b.LastTimestamp,
		Tier:           b.Tier,
	}
}
