package event

import (
	"fmt"
	"sync"
	"time"

	"VeriTrail/internal/digest"
)

// Log is the durable sink for finalized events.
type Log interface {
	AppendEvent(e *Event) error
}

// Recorder finalizes and buffers audit events. It is the single
// writer: every event passes through Record, which assigns identity,
// timestamps and the content hash, persists the event and holds it in
// the buffer until the next batch drains it.
type Recorder struct {
	algo  digest.Algorithm
	gen   *IDGenerator
	log   Log
	chain bool

	mu       sync.Mutex
	lastHash string
	buffer   []*Event
	total    uint64
}

// NewRecorder creates a recorder hashing with algo and appending to
// log. When chain is true, each event links to its predecessor via
// PrevHash.
func NewRecorder(algo digest.Algorithm, gen *IDGenerator, log Log, chain bool) *Recorder {
	return &Recorder{algo: algo, gen: gen, log: log, chain: chain}
}

// RestoreChain primes the hash chain and event count after a restart.
// lastHash is the hash of the newest persisted event, or empty when
// the log is empty.
func (r *Recorder) RestoreChain(lastHash string, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastHash = lastHash
	r.total = total
}

// Record validates, finalizes and persists one event.
// The returned event is complete: ID, timestamps, PrevHash link and
// EventHash are all set. It is an error to record an unknown kind or
// a payload set that does not match the kind.
func (r *Recorder) Record(kind Kind, p Payloads) (*Event, error) {
	if err := ValidateKind(kind, p); err != nil {
		return nil, err
	}

	id, ms := r.gen.Next()

	e := &Event{
		Header: Header{
			EventID:      id,
			EventType:    string(kind),
			SpecVersion:  SpecVersion,
			TimestampISO: time.UnixMilli(ms).UTC().Format(TimeLayout),
			TimestampInt: ms,
			HashAlgo:     string(r.algo),
		},
		Trade:      p.Trade,
		Decision:   p.Decision,
		Risk:       p.Risk,
		Error:      p.Error,
		Extensions: p.Extensions,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chain && r.lastHash != "" {
		e.Header.PrevHash = r.lastHash
	}

	hash, err := ComputeHash(r.algo, e)
	if err != nil {
		return nil, fmt.Errorf("hash event %s:\n%w", id, err)
	}
	e.Header.EventHash = hash

	if err := r.log.AppendEvent(e); err != nil {
		return nil, fmt.Errorf("append event %s:\n%w", id, err)
	}

	r.buffer = append(r.buffer, e)
	r.lastHash = hash
	r.total++

	return e, nil
}

// Drain returns the buffered events in recording order and clears the
// buffer. The batch built from the snapshot owns the leaf order.
func (r *Recorder) Drain() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.buffer
	r.buffer = nil

	return out
}

// BufferLen returns the number of events awaiting the next batch.
func (r *Recorder) BufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buffer)
}

// LastHash returns the hash at the tip of the chain, or empty when no
// event has been recorded.
func (r *Recorder) LastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastHash
}

// Total returns the number of events recorded since genesis,
// including restored history.
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.total
}
