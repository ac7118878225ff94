package merkle

import (
	"encoding/hex"
	"strings"

	"VeriTrail/internal/digest"
)

// Sibling positions in an audit path step.
const (
	// PositionLeft marks a sibling that sits left of the running hash.
	PositionLeft = "left"

	// PositionRight marks a sibling that sits right of the running hash.
	PositionRight = "right"
)

// PathStep is one level of an audit path: the sibling hash and which
// side of the running hash it combines on.
type PathStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// Proof is an inclusion proof for a single leaf. It is self-contained:
// verification needs only the proof and the hash algorithm, never the
// tree it came from.
type Proof struct {
	EventID    string     `json:"EventID,omitempty"`
	EventHash  string     `json:"EventHash"`
	LeafIndex  int        `json:"LeafIndex"`
	LeafCount  int        `json:"LeafCount"`
	MerkleRoot string     `json:"MerkleRoot"`
	AuditPath  []PathStep `json:"AuditPath"`
}

// ProveIndex produces the inclusion proof for the leaf at index i.
func (t *Tree) ProveIndex(i int) (*Proof, error) {
	count := t.LeafCount()
	if i < 0 || i >= count {
		return nil, indexError(i, count)
	}

	path := make([]PathStep, 0, len(t.levels)-1)
	idx := i

	for _, level := range t.levels[:len(t.levels)-1] {
		// The sibling flips the lowest bit of the index. An even node
		// beyond the level end is its own sibling.
		sib := level[idx]
		if sibIdx := idx ^ 1; sibIdx < len(level) {
			sib = level[sibIdx]
		}

		pos := PositionLeft
		if idx%2 == 0 {
			pos = PositionRight
		}

		path = append(path, PathStep{
			Hash:     hex.EncodeToString(sib.Hash[:]),
			Position: pos,
		})

		idx /= 2
	}

	return &Proof{
		EventHash:  hex.EncodeToString(t.leafData[i]),
		LeafIndex:  i,
		LeafCount:  count,
		MerkleRoot: t.RootHex(),
		AuditPath:  path,
	}, nil
}

// VerifyProof recomputes the root from a proof and compares it to the
// claimed root. It is a pure function of its inputs: no tree state,
// no side effects. Root comparison is case-insensitive on hex.
func VerifyProof(algo digest.Algorithm, p *Proof) bool {
	leaf, err := hex.DecodeString(p.EventHash)
	if err != nil {
		return false
	}

	cur := leafHash(algo, leaf)

	for _, step := range p.AuditPath {
		sibBytes, err := hex.DecodeString(step.Hash)
		if err != nil || len(sibBytes) != digest.Size {
			return false
		}

		var sib [digest.Size]byte
		copy(sib[:], sibBytes)

		switch step.Position {
		case PositionLeft:
			cur = nodeHash(algo, sib, cur)
		case PositionRight:
			cur = nodeHash(algo, cur, sib)
		default:
			return false
		}
	}

	return strings.EqualFold(hex.EncodeToString(cur[:]), p.MerkleRoot)
}
