package anchor

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"VeriTrail/internal/batch"
)

// OpenTimestampsTarget submits the raw root digest to a calendar
// server's digest endpoint and keeps the returned receipt as the
// opaque proof. The receipt upgrades to a blockchain attestation on
// the calendar's side; this client only submits and stores.
type OpenTimestampsTarget struct {
	calendarURL string
	client      *http.Client
}

// NewOpenTimestampsTarget creates a calendar target. The URL is the
// calendar base, e.g. https://a.pool.opentimestamps.org.
func NewOpenTimestampsTarget(calendarURL string, client *http.Client) *OpenTimestampsTarget {
	return &OpenTimestampsTarget{
		calendarURL: strings.TrimRight(calendarURL, "/"),
		client:      client,
	}
}

// Name returns the target name recorded on anchor records.
func (t *OpenTimestampsTarget) Name() string { return TargetOpenTimestamps }

// Anchor posts the decoded root digest to the calendar and records
// the receipt size in the proof; the receipt bytes themselves are the
// raw proof blob.
func (t *OpenTimestampsTarget) Anchor(ctx context.Context, b *batch.Batch) (map[string]any, []byte, error) {
	if t.calendarURL == "" {
		return nil, nil, fmt.Errorf("opentimestamps calendar URL missing: %w", ErrNotConfigured)
	}

	digest, err := hex.DecodeString(b.MerkleRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("decode root of batch %s:\n%w", b.BatchID, err)
	}

	status, receipt, err := postBytes(ctx, t.client, t.calendarURL+"/digest", "application/octet-stream", bytes.NewReader(digest))
	if err != nil {
		return nil, nil, fmt.Errorf("submit digest to calendar:\n%w", err)
	}
	if status < 200 || status >= 300 {
		return nil, nil, fmt.Errorf("calendar returned status %d: %s", status, excerpt(receipt))
	}
	if len(receipt) == 0 {
		return nil, nil, fmt.Errorf("calendar returned an empty receipt")
	}

	proof := map[string]any{
		"calendar":      t.calendarURL,
		"digest":        b.MerkleRoot,
		"receipt_bytes": len(receipt),
	}
	return proof, receipt, nil
}
