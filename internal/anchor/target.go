// Package anchor binds sealed batch roots to external, independently
// verifiable references. An orchestrator sweeps the pending queue on
// a schedule, submitting each root to a primary target with bounded
// retries and an optional fallback; successes become immutable anchor
// records in a persisted history.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"VeriTrail/internal/batch"
)

// Target names recorded on anchor records.
const (
	TargetLocalFile      = "LOCAL_FILE"
	TargetOpenTimestamps = "OPENTIMESTAMPS"
	TargetRFC3161        = "RFC3161"
	TargetCustomHTTP     = "CUSTOM_HTTP"
)

// ErrNotConfigured marks a target rejected for missing or invalid
// configuration. Such failures are never retried.
var ErrNotConfigured = errors.New("anchor target not configured")

// Target submits one batch root to an external reference. Anchor
// returns a small JSON-safe proof object for the anchor record plus
// the raw opaque proof bytes when the target hands one back.
type Target interface {
	Name() string
	Anchor(ctx context.Context, b *batch.Batch) (proof map[string]any, raw []byte, err error)
}

// maxProofSize bounds how much of a target response is read. Anchor
// proofs are receipts, not payloads.
const maxProofSize = 1 << 20

// postBytes sends body to url and returns the status code and the
// response body. Transport errors and oversized responses are errors;
// status handling is left to the caller.
func postBytes(ctx context.Context, client *http.Client, url, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request:\n%w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post to %s:\n%w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProofSize+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response from %s:\n%w", url, err)
	}
	if len(data) > maxProofSize {
		return resp.StatusCode, nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxProofSize)
	}

	return resp.StatusCode, data, nil
}

// excerpt trims a response body for inclusion in proofs and errors.
func excerpt(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
