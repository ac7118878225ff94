// Package batch groups recorded events into sealed, Merkle-rooted
// batches. A batch is the unit of anchoring: its root commits to
// every event it contains, and its inclusion proofs let a verifier
// check any single event against that root.
package batch

import (
	"VeriTrail/internal/merkle"
)

// Batch is a sealed group of events. The only legal mutation after
// sealing is the unanchored-to-anchored transition; everything else
// is written once.
type Batch struct {
	BatchID         string          `json:"BatchID"`
	Tier            string          `json:"Tier,omitempty"`
	HashAlgo        string          `json:"HashAlgo"`
	EventCount      int             `json:"EventCount"`
	EventHashes     []string        `json:"EventHashes"`
	MerkleRoot      string          `json:"MerkleRoot"`
	FirstTimestamp  string          `json:"FirstTimestamp,omitempty"`
	LastTimestamp   string          `json:"LastTimestamp,omitempty"`
	CreatedAt       string          `json:"CreatedAt"`
	InclusionProofs []*merkle.Proof `json:"InclusionProofs"`
	Anchored        bool            `json:"Anchored"`
	Anchor          *AnchorRecord   `json:"Anchor,omitempty"`

	// Seq is the storage sequence, assigned on first persist. It is
	// internal bookkeeping and stays out of exported evidence.
	Seq uint64 `cbor:"seq" json:"-"`
}

// AnchorRecord binds a Merkle root to an external point in time. It
// is written once when a batch is anchored and appended to the anchor
// history; the anchored batch carries a copy.
type AnchorRecord struct {
	AnchorID       string         `json:"AnchorID"`
	BatchID        string         `json:"BatchID"`
	MerkleRoot     string         `json:"MerkleRoot"`
	AnchorTimeISO  string         `json:"AnchorTimeISO"`
	AnchorTimeInt  int64          `json:"AnchorTimeInt"`
	AnchorTarget   string         `json:"AnchorTarget"`
	AnchorProof    map[string]any `json:"AnchorProof,omitempty"`
	EventCount     int            `json:"EventCount"`
	FirstTimestamp string         `json:"FirstTimestamp,omitempty"`
	LastTimestamp  string         `json:"LastTimestamp,omitempty"`
	Tier           string         `json:"Tier,omitempty"`

	// Seq is the storage sequence, assigned on first persist.
	Seq uint64 `cbor:"seq" json:"-"`
}

// MarkAnchored records the anchored transition. It is an error to
// anchor a batch twice; the caller checks Anchored first.
func (b *Batch) MarkAnchored(rec *AnchorRecord) {
	b.Anchored = true
	b.Anchor = rec
}
