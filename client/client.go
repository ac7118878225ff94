// Package client provides a Go client for the trail service HTTP API.
package client

import (
	"errors"
	"fmt"
	"net/http"

	"VeriTrail/internal/api"
	"VeriTrail/internal/batch"
	"VeriTrail/internal/event"
)

// Client connects to a trail service via HTTP.
type Client struct {
	addr string // addr is the HTTP address (e.g. "127.0.0.1:8921")
}

// NewClient creates a client connected to a trail service.
// It checks reachability through the /health endpoint.
func NewClient(addr string) (*Client, error) {
	c := &Client{addr: addr}

	var health struct {
		Status string `json:"status"`
	}
	if err := httpGet(c.url("/health"), &health); err != nil {
		return nil, fmt.Errorf("check health:\n%w", err)
	}
	if health.Status != "ok" {
		return nil, fmt.Errorf("service unhealthy: %q", health.Status)
	}

	return c, nil
}

// url builds the full URL for an API path.
func (c *Client) url(path string) string {
	return "http://" + c.addr + path
}

// RecordEvent submits one trail event. The finalized event, with its
// assigned ID and hash, comes back synchronously.
func (c *Client) RecordEvent(kind event.Kind, p event.Payloads) (*event.Event, error) {
	req := api.RecordRequest{
		Kind:       string(kind),
		Trade:      p.Trade,
		Decision:   p.Decision,
		Risk:       p.Risk,
		Error:      p.Error,
		Extensions: p.Extensions,
	}

	var e event.Event
	if err := httpPostJSON(c.url("/events"), req, &e); err != nil {
		return nil, fmt.Errorf("record event:\n%w", err)
	}

	return &e, nil
}

// ListEvents returns all recorded events in append order.
func (c *Client) ListEvents() ([]*event.Event, error) {
	var resp struct {
		Events []*event.Event `json:"events"`
	}
	if err := httpGet(c.url("/events"), &resp); err != nil {
		return nil, fmt.Errorf("list events:\n%w", err)
	}

	return resp.Events, nil
}

// SealBatch cuts the buffered events into a new batch immediately.
// Returns batch.ErrNoEvents if nothing is buffered.
func (c *Client) SealBatch() (*batch.Batch, error) {
	var b batch.Batch
	if err := c.postForBatch(&b); err != nil {
		return nil, err
	}

	return &b, nil
}

// postForBatch posts /batches and maps the empty-buffer conflict back
// to batch.ErrNoEvents.
func (c *Client) postForBatch(b *batch.Batch) error {
	err := httpPostJSON(c.url("/batches"), nil, b)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return batch.ErrNoEvents
	}

	return fmt.Errorf("seal batch:\n%w", err)
}

// ListBatches returns all sealed batches in creation order.
func (c *Client) ListBatches() ([]*batch.Batch, error) {
	var resp struct {
		Batches []*batch.Batch `json:"batches"`
	}
	if err := httpGet(c.url("/batches"), &resp); err != nil {
		return nil, fmt.Errorf("list batches:\n%w", err)
	}

	return resp.Batches, nil
}

// RunAnchors sweeps the pending batch queue now, regardless of the
// anchor schedule, and returns the per-batch outcomes.
func (c *Client) RunAnchors() ([]api.SweepResult, error) {
	var resp struct {
		Results []api.SweepResult `json:"results"`
	}
	if err := httpPostJSON(c.url("/anchors/run"), nil, &resp); err != nil {
		return nil, fmt.Errorf("run anchors:\n%w", err)
	}

	return resp.Results, nil
}

// ListAnchors returns all anchor records in creation order.
func (c *Client) ListAnchors() ([]*batch.AnchorRecord, error) {
	var resp struct {
		Anchors []*batch.AnchorRecord `json:"anchors"`
	}
	if err := httpGet(c.url("/anchors"), &resp); err != nil {
		return nil, fmt.Errorf("list anchors:\n%w", err)
	}

	return resp.Anchors, nil
}

// Status returns the trail state reported by the service.
func (c *Client) Status() (api.Status, error) {
	var s api.Status
	if err := httpGet(c.url("/status"), &s); err != nil {
		return api.Status{}, fmt.Errorf("get status:\n%w", err)
	}

	return s, nil
}

// ExportPack downloads the evidence pack archive (.tar.zst) to path.
func (c *Client) ExportPack(path string) error {
	if err := httpDownload(c.url("/export"), path); err != nil {
		return fmt.Errorf("export pack:\n%w", err)
	}

	return nil
}
