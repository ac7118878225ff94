package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"VeriTrail/internal/batch"
)

// SnapshotStore persists compressed batch snapshots for the local
// anchor target.
type SnapshotStore interface {
	PutBatchSnapshot(batchID string, data []byte) error
}

// LocalTarget anchors a batch by durably writing a compressed copy of
// the full batch record next to the anchor history. It needs no
// network and serves as the backstop target: a failure here means the
// local disk failed and is propagated, never swallowed.
type LocalTarget struct {
	store SnapshotStore
}

// NewLocalTarget creates the local file target.
func NewLocalTarget(store SnapshotStore) *LocalTarget {
	return &LocalTarget{store: store}
}

// Name returns the target name recorded on anchor records.
func (t *LocalTarget) Name() string { return TargetLocalFile }

// Anchor serializes the batch, compresses it and writes it through
// the snapshot store. The proof binds the root hex string with a
// SHA-256 digest so verifiers can check it without the snapshot.
func (t *LocalTarget) Anchor(_ context.Context, b *batch.Batch) (map[string]any, []byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize batch %s:\n%w", b.BatchID, err)
	}

	compressed, err := compressSnapshot(data)
	if err != nil {
		return nil, nil, fmt.Errorf("compress batch %s:\n%w", b.BatchID, err)
	}

	if err := t.store.PutBatchSnapshot(b.BatchID, compressed); err != nil {
		return nil, nil, fmt.Errorf("persist snapshot of batch %s:\n%w", b.BatchID, err)
	}

	sum := sha256.Sum256([]byte(b.MerkleRoot))
	proof := map[string]any{
		"sha256": hex.EncodeToString(sum[:]),
	}
	return proof, nil, nil
}

// compressSnapshot compresses a serialized batch with zstd.
func compressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// DecompressSnapshot reverses compressSnapshot for readers of stored
// batch snapshots.
func DecompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder:\n%w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}
	return out, nil
}
