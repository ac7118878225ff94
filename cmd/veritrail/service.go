package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"VeriTrail/internal/anchor"
	"VeriTrail/internal/api"
	"VeriTrail/internal/batch"
	"VeriTrail/internal/clock"
	"VeriTrail/internal/config"
	"VeriTrail/internal/digest"
	"VeriTrail/internal/event"
	"VeriTrail/internal/export"
	"VeriTrail/internal/logger"
	"VeriTrail/internal/store"
)

// tickInterval is how often the scheduler checks batch and anchor due
// times.
const tickInterval = time.Second

// Service wires the audit trail components into a running daemon:
// recorder, batch aggregator, anchor orchestrator, store and HTTP API.
type Service struct {
	cfg        *config.Config
	clk        clock.Clock
	httpClient *http.Client

	store        *store.Store
	recorder     *event.Recorder
	queue        *batch.Queue
	aggregator   *batch.Aggregator
	orchestrator *anchor.Orchestrator
	api          *api.Server

	mu       sync.Mutex
	carry    []*event.Event // carry holds events owed to the next seal
	lastSeal time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewService creates and initializes the service from configuration.
func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		cfg:        cfg,
		clk:        clock.Real(),
		httpClient: &http.Client{},
	}

	if err := s.initStore(); err != nil {
		return nil, err
	}

	if err := s.initRecorder(); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.initBatching(); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.initAnchoring(); err != nil {
		s.Close()
		return nil, err
	}

	s.initAPI()

	return s, nil
}

// initStore opens the Pebble evidence store.
func (s *Service) initStore() error {
	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := store.Open(s.cfg.DataDir + "/db")
	if err != nil {
		return fmt.Errorf("open store:\n%w", err)
	}

	s.store = db

	return nil
}

// initRecorder creates the event recorder and restores the hash chain
// and ID generator from the newest persisted event.
func (s *Service) initRecorder() error {
	algo, err := digest.Parse(s.cfg.Hashing.Algorithm)
	if err != nil {
		return err
	}

	gen := event.NewIDGenerator(s.clk)
	s.recorder = event.NewRecorder(algo, gen, s.store, s.cfg.Hashing.Chain)

	tip, err := s.store.ChainTip()
	if err != nil {
		return fmt.Errorf("load chain tip:\n%w", err)
	}
	if tip != nil {
		ms, seq, err := event.ParseID(tip.EventID)
		if err != nil {
			return fmt.Errorf("restore ID generator:\n%w", err)
		}
		gen.Restore(ms, seq)
		s.recorder.RestoreChain(tip.EventHash, tip.Count)

		logger.Info("event log restored",
			"events", tip.Count,
			"tip", tip.EventID)
	}

	return nil
}

// initBatching creates the aggregator and reloads events that were
// persisted but never sealed into a batch.
func (s *Service) initBatching() error {
	algo, _ := digest.Parse(s.cfg.Hashing.Algorithm)
	tier, err := anchor.ParseTier(s.cfg.Anchoring.Tier)
	if err != nil {
		return err
	}

	s.queue = batch.NewQueue()
	s.aggregator = batch.NewAggregator(algo, string(tier), s.store, s.queue, s.clk)
	s.lastSeal = s.clk.Now()

	return s.restoreBuffer()
}

// restoreBuffer reloads unbatched events into the carry slice. Seals
// drain the log in recording order, so the unbatched events are
// exactly the log suffix past the batched total.
func (s *Service) restoreBuffer() error {
	batches, err := s.store.Batches()
	if err != nil {
		return fmt.Errorf("load batches:\n%w", err)
	}

	var batched int
	for _, b := range batches {
		batched += b.EventCount
	}

	events, err := s.store.Events()
	if err != nil {
		return fmt.Errorf("load events:\n%w", err)
	}
	if batched > len(events) {
		return fmt.Errorf("store inconsistent: %d events batched but only %d in the log", batched, len(events))
	}

	if unbatched := events[batched:]; len(unbatched) > 0 {
		s.carry = unbatched
		logger.Info("unbatched events restored", "count", len(unbatched))
	}

	return nil
}

// initAnchoring builds the anchor targets and the orchestrator, then
// restores the pending queue and sweep marker from the store.
func (s *Service) initAnchoring() error {
	primary, err := s.buildTarget(&s.cfg.Anchoring.Primary)
	if err != nil {
		return fmt.Errorf("configure primary target:\n%w", err)
	}

	var fallback anchor.Target
	if s.cfg.Anchoring.Fallback != nil {
		fallback, err = s.buildTarget(s.cfg.Anchoring.Fallback)
		if err != nil {
			return fmt.Errorf("configure fallback target:\n%w", err)
		}
	}

	s.orchestrator = anchor.NewOrchestrator(anchor.Config{
		Interval:    s.cfg.Anchoring.Interval.Std(),
		MaxRetries:  s.cfg.Anchoring.MaxRetries,
		RetryDelay:  s.cfg.Anchoring.RetryDelay.Std(),
		CallTimeout: s.cfg.Anchoring.CallTimeout.Std(),
	}, primary, fallback, s.queue, s.store, s.clk)

	pending, err := s.store.PendingBatches()
	if err != nil {
		return fmt.Errorf("load pending batches:\n%w", err)
	}
	for _, b := range pending {
		s.queue.Push(b)
	}
	if len(pending) > 0 {
		logger.Info("pending batches restored", "count", len(pending))
	}

	last, ok, err := s.store.LastAnchorTime()
	if err != nil {
		return fmt.Errorf("load last anchor time:\n%w", err)
	}
	if ok {
		s.orchestrator.RestoreLastAnchorTime(last)
	}

	return nil
}

// buildTarget constructs one anchor target from its configuration.
func (s *Service) buildTarget(tc *config.TargetConfig) (anchor.Target, error) {
	switch tc.Kind {
	case config.KindLocal:
		return anchor.NewLocalTarget(s.store), nil
	case config.KindOpenTimestamps:
		return anchor.NewOpenTimestampsTarget(tc.URL, s.httpClient), nil
	case config.KindRFC3161:
		return anchor.NewRFC3161Target(tc.URL, s.httpClient), nil
	case config.KindCustom:
		return anchor.NewCustomTarget(tc.URL, s.httpClient), nil
	default:
		return nil, fmt.Errorf("unknown anchor target kind %q", tc.Kind)
	}
}

// initAPI creates the HTTP API server over the service.
func (s *Service) initAPI() {
	s.api = api.New(s.cfg.HTTPAddr, s.recorder, s, s, s.store, s, s)
}

// Run starts the HTTP API and the scheduler, then blocks until a
// shutdown signal arrives.
func (s *Service) Run() error {
	if err := s.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.schedulerLoop()

	return s.waitForShutdown()
}

// schedulerLoop drives the periodic work: cut a batch when one is
// due, then run an anchor sweep when one is due.
func (s *Service) schedulerLoop() {
	defer close(s.doneCh)

	ticker := s.clk.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs one scheduler pass at the given time.
func (s *Service) tick(now time.Time) {
	if s.batchDue(now) {
		if _, err := s.SealBatch(); err != nil && !errors.Is(err, batch.ErrNoEvents) {
			logger.Warn("scheduled batch seal failed", "error", err)
		}
	}

	if s.orchestrator.IsDue(now) {
		s.orchestrator.AnchorPending(context.Background())
	}
}

// batchDue reports whether the buffer should be sealed now: it is
// full, or non-empty with the batching interval elapsed.
func (s *Service) batchDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffered := len(s.carry) + s.recorder.BufferLen()
	if buffered == 0 {
		return false
	}
	if buffered >= s.cfg.Batching.MaxEvents {
		return true
	}

	return now.Sub(s.lastSeal) >= s.cfg.Batching.Interval.Std()
}

// SealBatch drains the buffer and seals it into a new batch. On a
// persistence failure the drained events stay owed to the next seal,
// so no event ever drops out of batch membership.
func (s *Service) SealBatch() (*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := append(s.carry, s.recorder.Drain()...)
	if len(events) == 0 {
		return nil, batch.ErrNoEvents
	}

	b, err := s.aggregator.CreateBatch(events)
	if err != nil {
		s.carry = events
		return nil, err
	}

	s.carry = nil
	s.lastSeal = s.clk.Now()

	return b, nil
}

// AnchorNow sweeps the pending queue immediately, regardless of the
// anchor schedule.
func (s *Service) AnchorNow(ctx context.Context) []anchor.Result {
	return s.orchestrator.AnchorPending(ctx)
}

// Status reports the trail state for the status endpoint.
func (s *Service) Status() api.Status {
	s.mu.Lock()
	buffered := len(s.carry) + s.recorder.BufferLen()
	s.mu.Unlock()

	st := api.Status{
		Events:         s.recorder.Total(),
		Buffered:       buffered,
		PendingBatches: s.orchestrator.Pending(),
		Batches:        int(s.store.BatchCount()),
		Anchors:        int(s.store.AnchorCount()),
		ChainTip:       s.recorder.LastHash(),
		Tier:           s.cfg.Anchoring.Tier,
		HashAlgo:       s.cfg.Hashing.Algorithm,
	}

	if t := s.orchestrator.LastAnchorTime(); !t.IsZero() {
		st.LastAnchorTime = t.UTC().Format(event.TimeLayout)
	}

	return st
}

// ExportArchive writes a fresh evidence pack and streams it to w as a
// .tar.zst archive.
func (s *Service) ExportArchive(w io.Writer) error {
	dir, err := os.MkdirTemp("", "veritrail-pack-")
	if err != nil {
		return fmt.Errorf("create pack directory:\n%w", err)
	}
	defer os.RemoveAll(dir)

	if err := export.WritePack(s.store, dir); err != nil {
		return fmt.Errorf("write pack:\n%w", err)
	}

	return export.WriteArchive(dir, w)
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (s *Service) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return s.Close()
}

// Close shuts down all service components gracefully.
func (s *Service) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
		s.stopCh = nil
	}

	if s.api != nil {
		s.api.Stop()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("close store:\n%w", err)
		}
	}

	return nil
}
