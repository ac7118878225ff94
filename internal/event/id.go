package event

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"VeriTrail/internal/clock"
)

// maxSeq is the highest per-millisecond sequence number. Recording
// more than 10000 events in one millisecond spills into the next.
const maxSeq = 9999

// IDGenerator produces time-ordered event IDs of the form
// evt-<unix-ms, 13 digits>-<seq, 4 digits>. Zero-padding makes
// lexicographic order equal chronological order, so prefix scans over
// the event log come back in recording order. IDs never go backwards,
// even across a clock step or a restart with restored state.
type IDGenerator struct {
	mu     sync.Mutex
	clk    clock.Clock
	lastMS int64
	seq    int
}

// NewIDGenerator creates a generator reading time from clk.
func NewIDGenerator(clk clock.Clock) *IDGenerator {
	return &IDGenerator{clk: clk, seq: -1}
}

// Restore primes the generator with the last issued (ms, seq) pair,
// typically loaded from the store on startup.
func (g *IDGenerator) Restore(lastMS int64, seq int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastMS = lastMS
	g.seq = seq
}

// ParseID extracts the (ms, seq) pair embedded in an event ID. Used
// on startup to restore the generator from the newest persisted
// event.
func ParseID(id string) (ms int64, seq int, err error) {
	rest, found := strings.CutPrefix(id, "evt-")
	msPart, seqPart, split := strings.Cut(rest, "-")
	if !found || !split {
		return 0, 0, fmt.Errorf("malformed event ID %q", id)
	}

	ms, err = strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed event ID %q:\n%w", id, err)
	}
	seq, err = strconv.Atoi(seqPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed event ID %q:\n%w", id, err)
	}

	return ms, seq, nil
}

// Next issues a fresh ID and the millisecond timestamp embedded in it.
func (g *IDGenerator) Next() (string, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now().UnixMilli()

	switch {
	case now > g.lastMS:
		g.lastMS = now
		g.seq = 0
	case g.seq < maxSeq:
		// Same millisecond, or the clock stepped backwards: stay on
		// lastMS and bump the sequence.
		g.seq++
	default:
		g.lastMS++
		g.seq = 0
	}

	return fmt.Sprintf("evt-%013d-%04d", g.lastMS, g.seq), g.lastMS
}

// State returns the last issued (ms, seq) pair for persistence.
func (g *IDGenerator) State() (int64, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lastMS, g.seq
}
