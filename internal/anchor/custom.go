package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"VeriTrail/internal/batch"
)

// CustomTarget posts a structured batch summary to an arbitrary HTTP
// endpoint, for deployments that anchor into their own ledger or
// write-once store. Any 2xx response counts as anchored; the response
// body is kept as the proof blob.
type CustomTarget struct {
	url    string
	client *http.Client
}

// NewCustomTarget creates a custom HTTP target.
func NewCustomTarget(url string, client *http.Client) *CustomTarget {
	return &CustomTarget{url: url, client: client}
}

// Name returns the target name recorded on anchor records.
func (t *CustomTarget) Name() string { return TargetCustomHTTP }

// Anchor posts the batch summary as JSON.
func (t *CustomTarget) Anchor(ctx context.Context, b *batch.Batch) (map[string]any, []byte, error) {
	if t.url == "" {
		return nil, nil, fmt.Errorf("custom anchor URL missing: %w", ErrNotConfigured)
	}

	summary := map[string]any{
		"batch_id":        b.BatchID,
		"merkle_root":     b.MerkleRoot,
		"hash_algo":       b.HashAlgo,
		"event_count":     b.EventCount,
		"first_timestamp": b.FirstTimestamp,
		"last_timestamp":  b.LastTimestamp,
		"tier":            b.Tier,
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize batch summary:\n%w", err)
	}

	status, respBody, err := postBytes(ctx, t.client, t.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("post batch summary:\n%w", err)
	}
	if status < 200 || status >= 300 {
		return nil, nil, fmt.Errorf("custom anchor endpoint returned status %d: %s", status, excerpt(respBody))
	}

	proof := map[string]any{
		"url":      t.url,
		"status":   status,
		"response": excerpt(respBody),
	}
	return proof, respBody, nil
}
