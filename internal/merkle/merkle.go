// Package merkle builds Merkle trees over event digests and produces
// inclusion proofs that verify without access to the tree.
//
// Hashing follows RFC 6962: leaves are hashed with a 0x00 prefix and
// internal nodes with 0x01, so a leaf can never be confused with an
// internal node. A level with an odd node count pairs the last node
// with itself.
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"

	"VeriTrail/internal/digest"
)

const (
	// leafPrefix domain-separates leaf hashes.
	leafPrefix = 0x00

	// nodePrefix domain-separates internal node hashes.
	nodePrefix = 0x01
)

var (
	// ErrNoLeaves is returned when building a tree from no input.
	ErrNoLeaves = errors.New("merkle: no leaves")

	// ErrIndexOutOfRange is returned for proofs of unknown leaves.
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// Node is a single tree node. Leaves record their original position
// in Index; internal nodes own their two children and carry Index -1.
type Node struct {
	Hash  [digest.Size]byte
	Left  *Node
	Right *Node
	Index int
}

// Tree is an immutable Merkle tree. Build it once per batch; there is
// no way to add or remove leaves afterwards.
type Tree struct {
	algo     digest.Algorithm
	levels   [][]*Node // levels[0] = leaves, last level = root
	leafData [][]byte  // original leaf bytes, needed to emit proofs
}

// Build constructs a tree over the given leaf data, in order.
// Leaf data is the raw event digest bytes. Duplicate leaves are
// permitted; they stay distinct by index.
func Build(algo digest.Algorithm, leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([]*Node, len(leaves))
	data := make([][]byte, len(leaves))

	for i, leaf := range leaves {
		data[i] = make([]byte, len(leaf))
		copy(data[i], leaf)

		level[i] = &Node{Hash: leafHash(algo, leaf), Index: i}
	}

	levels := [][]*Node{level}

	for len(level) > 1 {
		next := make([]*Node, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			left := level[i]

			// Odd level: the last node is its own sibling.
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}

			next = append(next, &Node{
				Hash:  nodeHash(algo, left.Hash, right.Hash),
				Left:  left,
				Right: right,
				Index: -1,
			})
		}

		levels = append(levels, next)
		level = next
	}

	return &Tree{algo: algo, levels: levels, leafData: data}, nil
}

// Root returns a copy of the root hash.
func (t *Tree) Root() []byte {
	root := t.levels[len(t.levels)-1][0].Hash

	out := make([]byte, digest.Size)
	copy(out, root[:])

	return out
}

// RootHex returns the root hash as lowercase hex.
func (t *Tree) RootHex() string {
	root := t.levels[len(t.levels)-1][0].Hash
	return hex.EncodeToString(root[:])
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Algorithm returns the hash algorithm the tree was built with.
func (t *Tree) Algorithm() digest.Algorithm {
	return t.algo
}

// leafHash computes the domain-separated hash of leaf data.
func leafHash(algo digest.Algorithm, data []byte) [digest.Size]byte {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, leafPrefix)
	buf = append(buf, data...)

	return algo.Sum(buf)
}

// nodeHash computes the domain-separated hash of two child hashes.
func nodeHash(algo digest.Algorithm, left, right [digest.Size]byte) [digest.Size]byte {
	buf := make([]byte, 0, 1+2*digest.Size)
	buf = append(buf, nodePrefix)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)

	return algo.Sum(buf)
}

// indexError wraps ErrIndexOutOfRange with the offending index.
func indexError(i, count int) error {
	return fmt.Errorf("%w: index %d, leaf count %d", ErrIndexOutOfRange, i, count)
}
