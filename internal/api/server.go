// Package api exposes the audit trail over HTTP: event recording,
// batch and anchor inspection, on-demand sealing and sweeping, and
// evidence-pack export.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"VeriTrail/internal/anchor"
	"VeriTrail/internal/batch"
	"VeriTrail/internal/event"
	"VeriTrail/internal/logger"
)

const (
	// maxEventSize is the maximum request body for one event.
	maxEventSize = 1 << 20 // 1 MB
)

// Recorder accepts trail events for hashing and buffering.
type Recorder interface {
	Record(kind event.Kind, p event.Payloads) (*event.Event, error)
}

// Sealer cuts the buffered events into a new batch.
type Sealer interface {
	SealBatch() (*batch.Batch, error)
}

// Sweeper runs an anchor sweep over the pending queue.
type Sweeper interface {
	AnchorNow(ctx context.Context) []anchor.Result
}

// Source is the read side of the evidence store.
type Source interface {
	Events() ([]*event.Event, error)
	Batches() ([]*batch.Batch, error)
	Anchors() ([]*batch.AnchorRecord, error)
}

// Status is the trail state reported by GET /status.
type Status struct {
	Events         uint64 `json:"events"`
	Buffered       int    `json:"buffered"`
	PendingBatches int    `json:"pendingBatches"`
	Batches        int    `json:"batches"`
	Anchors        int    `json:"anchors"`
	ChainTip       string `json:"chainTip,omitempty"`
	LastAnchorTime string `json:"lastAnchorTime,omitempty"`
	Tier           string `json:"tier"`
	HashAlgo       string `json:"hashAlgo"`
}

// StatusProvider exposes trail state for monitoring.
type StatusProvider interface {
	Status() Status
}

// Archiver streams a compressed evidence-pack archive.
type Archiver interface {
	ExportArchive(w io.Writer) error
}

// Server is the HTTP API server.
type Server struct {
	addr     string         // addr is the HTTP listen address
	recorder Recorder       // recorder finalizes incoming events
	sealer   Sealer         // sealer cuts batches on demand
	sweeper  Sweeper        // sweeper runs anchor sweeps on demand
	source   Source         // source reads persisted records
	status   StatusProvider // status provides trail state for monitoring
	archiver Archiver       // archiver exports evidence packs
	server   *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, recorder Recorder, sealer Sealer, sweeper Sweeper, source Source, status StatusProvider, archiver Archiver) *Server {
	return &Server{
		addr:     addr,
		recorder: recorder,
		sealer:   sealer,
		sweeper:  sweeper,
		source:   source,
		status:   status,
		archiver: archiver,
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Handler returns the route table. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleRecordEvent)
	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("POST /batches", s.handleSealBatch)
	mux.HandleFunc("GET /batches", s.handleListBatches)
	mux.HandleFunc("POST /anchors/run", s.handleRunAnchors)
	mux.HandleFunc("GET /anchors", s.handleListAnchors)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /export", s.handleExport)

	return mux
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// RecordRequest is the body of POST /events: the event kind plus the
// payload variants it carries. Shared with the HTTP client.
type RecordRequest struct {
	Kind       string                 `json:"kind"`
	Trade      *event.TradePayload    `json:"trade,omitempty"`
	Decision   *event.DecisionPayload `json:"decision,omitempty"`
	Risk       *event.RiskPayload     `json:"risk,omitempty"`
	Error      *event.ErrorPayload    `json:"error,omitempty"`
	Extensions map[string]any         `json:"extensions,omitempty"`
}

// handleRecordEvent handles POST /events requests. The finalized
// event, hash included, comes back synchronously.
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req RecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid event: %v", err))
		return
	}

	e, err := s.recorder.Record(event.Kind(req.Kind), event.Payloads{
		Trade:      req.Trade,
		Decision:   req.Decision,
		Risk:       req.Risk,
		Error:      req.Error,
		Extensions: req.Extensions,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Debug("event recorded", "id", e.Header.EventID, "kind", e.Header.EventType)

	writeJSON(w, http.StatusCreated, e)
}

// handleListEvents handles GET /events requests.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.source.Events()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*event.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleSealBatch handles POST /batches requests: drain the buffer
// and seal it into a new batch immediately.
func (s *Server) handleSealBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.sealer.SealBatch()
	if errors.Is(err, batch.ErrNoEvents) {
		writeError(w, http.StatusConflict, "no events to batch")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// handleListBatches handles GET /batches requests.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.source.Batches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if batches == nil {
		batches = []*batch.Batch{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// SweepResult is the JSON shape of one batch's outcome in a sweep.
type SweepResult struct {
	BatchID    string `json:"batchID"`
	TargetUsed string `json:"targetUsed"`
	Anchored   bool   `json:"anchored"`
	ElapsedMS  int64  `json:"elapsedMs"`
	Error      string `json:"error,omitempty"`
	AnchorID   string `json:"anchorID,omitempty"`
}

// handleRunAnchors handles POST /anchors/run requests: sweep the
// pending queue now, regardless of the schedule. Failures come back
// as per-batch results, never as an HTTP error.
func (s *Server) handleRunAnchors(w http.ResponseWriter, r *http.Request) {
	results := s.sweeper.AnchorNow(r.Context())

	out := make([]SweepResult, len(results))
	for i, res := range results {
		out[i] = SweepResult{
			BatchID:    res.BatchID,
			TargetUsed: res.TargetUsed,
			Anchored:   res.Anchored,
			ElapsedMS:  res.Elapsed.Milliseconds(),
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
		if res.Record != nil {
			out[i].AnchorID = res.Record.AnchorID
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// handleListAnchors handles GET /anchors requests.
func (s *Server) handleListAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := s.source.Anchors()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anchors == nil {
		anchors = []*batch.AnchorRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"anchors": anchors})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleExport handles GET /export requests, streaming the evidence
// pack as a .tar.zst archive.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence-pack.tar.zst"`)

	if err := s.archiver.ExportArchive(w); err != nil {
		// Headers are out; all we can do is log and cut the stream.
		logger.Error("export pack", "error", err)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
