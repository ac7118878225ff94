package store

import (
	"fmt"
	"time"

	"VeriTrail/internal/batch"
	"VeriTrail/internal/codec"
	"VeriTrail/internal/event"
)

const (
	prefixEvent    = "e:"
	prefixBatch    = "b:"
	prefixAnchor   = "a:"
	prefixSnapshot = "s:"
	prefixProof    = "p:"

	metaChainTip       = "m:chain_tip"
	metaBatchSeq       = "m:batch_seq"
	metaAnchorSeq      = "m:anchor_seq"
	metaLastAnchorTime = "m:last_anchor_time"
)

func eventKey(id string) []byte {
	return []byte(prefixEvent + id)
}

func batchKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%012d", prefixBatch, seq))
}

func anchorKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%012d", prefixAnchor, seq))
}

func snapshotKey(batchID string) []byte {
	return []byte(prefixSnapshot + batchID)
}

func proofKey(anchorID string) []byte {
	return []byte(prefixProof + anchorID)
}

// ChainTip tracks the newest persisted event. It is written in the
// same atomic batch as the event itself, so the tip never diverges
// from the log.
type ChainTip struct {
	EventID   string `cbor:"event_id"`
	EventHash string `cbor:"event_hash"`
	Count     uint64 `cbor:"count"`
}

// loadCounters reloads the meta counters after Open. Missing keys
// mean a fresh store and leave the zero values in place.
func (s *Store) loadCounters() error {
	tip, err := s.ChainTip()
	if err != nil {
		return fmt.Errorf("load chain tip:\n%w", err)
	}
	if tip != nil {
		s.eventCount = tip.Count
	}

	if s.batchSeq, err = s.getCounter(metaBatchSeq); err != nil {
		return fmt.Errorf("load batch sequence:\n%w", err)
	}
	if s.anchorSeq, err = s.getCounter(metaAnchorSeq); err != nil {
		return fmt.Errorf("load anchor sequence:\n%w", err)
	}

	return nil
}

func (s *Store) getCounter(key string) (uint64, error) {
	raw, err := s.Get([]byte(key))
	if err != nil || raw == nil {
		return 0, err
	}

	var v uint64
	if err := codec.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// AppendEvent durably appends a finalized event and advances the
// chain tip, both in one atomic write.
func (s *Store) AppendEvent(e *event.Event) error {
	data, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s:\n%w", e.Header.EventID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip := ChainTip{
		EventID:   e.Header.EventID,
		EventHash: e.Header.EventHash,
		Count:     s.eventCount + 1,
	}
	tipData, err := codec.Marshal(tip)
	if err != nil {
		return fmt.Errorf("encode chain tip:\n%w", err)
	}

	pairs := []KeyValue{
		{Key: eventKey(e.Header.EventID), Value: data},
		{Key: []byte(metaChainTip), Value: tipData},
	}
	if err := s.SetBatch(pairs); err != nil {
		return fmt.Errorf("write event %s:\n%w", e.Header.EventID, err)
	}

	s.eventCount++
	return nil
}

// EventByID returns the event with the given ID, or nil when absent.
func (s *Store) EventByID(id string) (*event.Event, error) {
	raw, err := s.Get(eventKey(id))
	if err != nil || raw == nil {
		return nil, err
	}

	var e event.Event
	if err := codec.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event %s:\n%w", id, err)
	}
	return &e, nil
}

// Events returns every persisted event in recording order. Event IDs
// sort chronologically, so key order is recording order.
func (s *Store) Events() ([]*event.Event, error) {
	var events []*event.Event
	err := s.IteratePrefix([]byte(prefixEvent), func(key, value []byte) error {
		var e event.Event
		if err := codec.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode event %s:\n%w", key[len(prefixEvent):], err)
		}
		events = append(events, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EventCount returns the number of events appended since genesis.
func (s *Store) EventCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCount
}

// BatchCount returns the number of batches sealed since genesis.
// Sequences are assigned densely from 1, so the last one is the count.
func (s *Store) BatchCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchSeq
}

// AnchorCount returns the number of anchor records in the history.
func (s *Store) AnchorCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchorSeq
}

// ChainTip returns the meta record for the newest event, or nil for
// an empty store.
func (s *Store) ChainTip() (*ChainTip, error) {
	raw, err := s.Get([]byte(metaChainTip))
	if err != nil || raw == nil {
		return nil, err
	}

	var tip ChainTip
	if err := codec.Unmarshal(raw, &tip); err != nil {
		return nil, fmt.Errorf("decode chain tip:\n%w", err)
	}
	return &tip, nil
}

// PutBatch persists a batch record. A batch without a sequence gets
// the next one; re-putting an already sequenced batch overwrites its
// record in place, which is how the anchored flag becomes durable.
func (s *Store) PutBatch(b *batch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned := b.Seq == 0
	if assigned {
		b.Seq = s.batchSeq + 1
	}

	if err := s.writeBatchLocked(b, assigned); err != nil {
		if assigned {
			b.Seq = 0
		}
		return err
	}

	if assigned {
		s.batchSeq = b.Seq
	}
	return nil
}

func (s *Store) writeBatchLocked(b *batch.Batch, withSeqMeta bool) error {
	data, err := codec.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch %s:\n%w", b.BatchID, err)
	}

	pairs := []KeyValue{{Key: batchKey(b.Seq), Value: data}}
	if withSeqMeta {
		seqData, err := codec.Marshal(b.Seq)
		if err != nil {
			return fmt.Errorf("encode batch sequence:\n%w", err)
		}
		pairs = append(pairs, KeyValue{Key: []byte(metaBatchSeq), Value: seqData})
	}

	if err := s.SetBatch(pairs); err != nil {
		return fmt.Errorf("write batch %s:\n%w", b.BatchID, err)
	}
	return nil
}

// Batches returns every batch in seal order.
func (s *Store) Batches() ([]*batch.Batch, error) {
	var batches []*batch.Batch
	err := s.IteratePrefix([]byte(prefixBatch), func(key, value []byte) error {
		var b batch.Batch
		if err := codec.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("decode batch record %s:\n%w", key, err)
		}
		batches = append(batches, &b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// PendingBatches returns the unanchored batches in seal order, the
// persisted form of the anchor queue.
func (s *Store) PendingBatches() ([]*batch.Batch, error) {
	all, err := s.Batches()
	if err != nil {
		return nil, err
	}

	var pending []*batch.Batch
	for _, b := range all {
		if !b.Anchored {
			pending = append(pending, b)
		}
	}
	return pending, nil
}

// CommitAnchor persists a successful anchoring in one atomic write:
// the anchor record joins the history, the raw proof blob (when
// present) is stored beside it, and the batch record is overwritten
// in its anchored state.
func (s *Store) CommitAnchor(b *batch.Batch, rec *batch.AnchorRecord, rawProof []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batchAssigned := b.Seq == 0
	if batchAssigned {
		b.Seq = s.batchSeq + 1
	}
	rec.Seq = s.anchorSeq + 1

	rollback := func() {
		rec.Seq = 0
		if batchAssigned {
			b.Seq = 0
		}
	}

	batchData, err := codec.Marshal(b)
	if err != nil {
		rollback()
		return fmt.Errorf("encode batch %s:\n%w", b.BatchID, err)
	}
	recData, err := codec.Marshal(rec)
	if err != nil {
		rollback()
		return fmt.Errorf("encode anchor record %s:\n%w", rec.AnchorID, err)
	}
	anchorSeqData, err := codec.Marshal(rec.Seq)
	if err != nil {
		rollback()
		return fmt.Errorf("encode anchor sequence:\n%w", err)
	}

	pairs := []KeyValue{
		{Key: batchKey(b.Seq), Value: batchData},
		{Key: anchorKey(rec.Seq), Value: recData},
		{Key: []byte(metaAnchorSeq), Value: anchorSeqData},
	}
	if batchAssigned {
		seqData, err := codec.Marshal(b.Seq)
		if err != nil {
			rollback()
			return fmt.Errorf("encode batch sequence:\n%w", err)
		}
		pairs = append(pairs, KeyValue{Key: []byte(metaBatchSeq), Value: seqData})
	}
	if len(rawProof) > 0 {
		pairs = append(pairs, KeyValue{Key: proofKey(rec.AnchorID), Value: rawProof})
	}

	if err := s.SetBatch(pairs); err != nil {
		rollback()
		return fmt.Errorf("write anchor %s:\n%w", rec.AnchorID, err)
	}

	s.anchorSeq = rec.Seq
	if batchAssigned {
		s.batchSeq = b.Seq
	}
	return nil
}

// Anchors returns the anchor history in anchoring order.
func (s *Store) Anchors() ([]*batch.AnchorRecord, error) {
	var anchors []*batch.AnchorRecord
	err := s.IteratePrefix([]byte(prefixAnchor), func(key, value []byte) error {
		var rec batch.AnchorRecord
		if err := codec.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode anchor record %s:\n%w", key, err)
		}
		anchors = append(anchors, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return anchors, nil
}

// PutBatchSnapshot stores a compressed batch snapshot written by the
// local anchor target.
func (s *Store) PutBatchSnapshot(batchID string, data []byte) error {
	return s.Set(snapshotKey(batchID), data)
}

// BatchSnapshot returns a stored snapshot, or nil when absent.
func (s *Store) BatchSnapshot(batchID string) ([]byte, error) {
	return s.Get(snapshotKey(batchID))
}

// AnchorProofBlob returns the raw proof bytes an external target
// handed back, or nil when the anchor carried none.
func (s *Store) AnchorProofBlob(anchorID string) ([]byte, error) {
	return s.Get(proofKey(anchorID))
}

// SetLastAnchorTime persists the anchor sweep marker.
func (s *Store) SetLastAnchorTime(t time.Time) error {
	data, err := codec.Marshal(t.UnixMilli())
	if err != nil {
		return fmt.Errorf("encode last anchor time:\n%w", err)
	}
	return s.Set([]byte(metaLastAnchorTime), data)
}

// LastAnchorTime returns the persisted sweep marker. ok is false for
// a store that has never anchored.
func (s *Store) LastAnchorTime() (t time.Time, ok bool, err error) {
	raw, err := s.Get([]byte(metaLastAnchorTime))
	if err != nil || raw == nil {
		return time.Time{}, false, err
	}

	var ms int64
	if err := codec.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, false, fmt.Errorf("decode last anchor time:\n%w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
