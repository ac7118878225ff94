package batch

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"VeriTrail/internal/clock"
	"VeriTrail/internal/digest"
	"VeriTrail/internal/event"
	"VeriTrail/internal/logger"
	"VeriTrail/internal/merkle"
)

// ErrNoEvents is returned when a batch is requested but nothing has
// been recorded since the last seal.
var ErrNoEvents = errors.New("no events to batch")

// Store is the slice of persistence the aggregator needs.
type Store interface {
	PutBatch(b *Batch) error
}

// Aggregator seals recorded events into batches. Each seal builds a
// Merkle tree over the event hashes, precomputes every inclusion
// proof, persists the batch and enqueues it for anchoring.
type Aggregator struct {
	algo  digest.Algorithm
	tier  string
	store Store
	queue *Queue
	clk   clock.Clock
}

// NewAggregator creates an aggregator sealing batches with the given
// hash algorithm and conformance tier.
func NewAggregator(algo digest.Algorithm, tier string, store Store, queue *Queue, clk clock.Clock) *Aggregator {
	return &Aggregator{
		algo:  algo,
		tier:  tier,
		store: store,
		queue: queue,
		clk:   clk,
	}
}

// CreateBatch seals the given events into a new batch. Events must be
// in record order; their hashes become the Merkle leaves in the same
// order. Returns ErrNoEvents when the slice is empty.
func (a *Aggregator) CreateBatch(events []*event.Event) (*Batch, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	hashes := make([]string, len(events))
	leaves := make([][]byte, len(events))
	for i, e := range events {
		raw, err := hex.DecodeString(e.Header.EventHash)
		if err != nil {
			return nil, fmt.Errorf("decode hash of event %s:\n%w", e.Header.EventID, err)
		}
		hashes[i] = e.Header.EventHash
		leaves[i] = raw
	}

	tree, err := merkle.Build(a.algo, leaves)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree:\n%w", err)
	}

	proofs := make([]*merkle.Proof, len(events))
	for i := range events {
		p, err := tree.ProveIndex(i)
		if err != nil {
			return nil, fmt.Errorf("prove leaf %d:\n%w", i, err)
		}
		p.EventID = events[i].Header.EventID
		proofs[i] = p
	}

	b := &Batch{
		BatchID:         uuid.NewString(),
		Tier:            a.tier,
		HashAlgo:        string(a.algo),
		EventCount:      len(events),
		EventHashes:     hashes,
		MerkleRoot:      tree.RootHex(),
		FirstTimestamp:  events[0].Header.TimestampISO,
		LastTimestamp:   events[len(events)-1].Header.TimestampISO,
		CreatedAt:       a.clk.Now().UTC().Format(event.TimeLayout),
		InclusionProofs: proofs,
	}

	if err := a.store.PutBatch(b); err != nil {
		return nil, fmt.Errorf("persist batch %s:\n%w", b.BatchID, err)
	}
	a.queue.Push(b)

	logger.Info("batch sealed",
		"batch", b.BatchID,
		"events", b.EventCount,
		"root", shortHash(b.MerkleRoot))
	return b, nil
}

// shortHash trims a hex digest for log lines.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
