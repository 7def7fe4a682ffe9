package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anvilchain/anvilchain/internal/alarm"
	"github.com/anvilchain/anvilchain/internal/anchor"
	"github.com/anvilchain/anvilchain/internal/batch"
	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/event"
	"github.com/anvilchain/anvilchain/internal/merkle"
	"github.com/anvilchain/anvilchain/internal/observability"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// EventRequest represents a POST /v1/events request.
type EventRequest struct {
	EventType types.EventType `json:"event_type"`
	SiteID    string          `json:"site_id"`
	AssetID   string          `json:"asset_id,omitempty"`
	// SourceTimestamp is epoch milliseconds; zero means "now".
	SourceTimestamp int64            `json:"source_timestamp,omitempty"`
	OriginType      types.OriginType `json:"origin_type"`
	OriginID        string           `json:"origin_id"`
	Payload         types.Payload    `json:"payload"`
}

// EventResponse represents the event creation response.
type EventResponse struct {
	EventID      string             `json:"event_id"`
	Hash         string             `json:"hash"`
	Signature    string             `json:"signature"`
	AnchorStatus types.AnchorStatus `json:"anchor_status"`
	RequestID    string             `json:"request_id"`
}

// EventsHandler handles POST /v1/events requests.
type EventsHandler struct {
	builder      *event.Builder
	orchestrator *anchor.Orchestrator
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(builder *event.Builder, orchestrator *anchor.Orchestrator) *EventsHandler {
	return &EventsHandler{builder: builder, orchestrator: orchestrator}
}

// ServeHTTP creates one signed event and enqueues it for anchoring.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	if !req.EventType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event_type: %s", req.EventType), requestID)
		return
	}
	if req.SiteID == "" {
		writeError(w, http.StatusBadRequest, "site_id is required", requestID)
		return
	}
	if req.OriginID == "" {
		writeError(w, http.StatusBadRequest, "origin_id is required", requestID)
		return
	}

	var src time.Time
	if req.SourceTimestamp > 0 {
		src = time.UnixMilli(req.SourceTimestamp).UTC()
	}

	ev, err := h.builder.Build(event.Params{
		EventType:       req.EventType,
		SiteID:          req.SiteID,
		AssetID:         req.AssetID,
		SourceTimestamp: src,
		OriginType:      req.OriginType,
		OriginID:        req.OriginID,
		Payload:         req.Payload,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build event: %v", err), requestID)
		return
	}

	if err := h.orchestrator.Enqueue(r.Context(), ev); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to enqueue event: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusOK, EventResponse{
		EventID:      ev.ID,
		Hash:         ev.Hash,
		Signature:    ev.Signature,
		AnchorStatus: ev.AnchorStatus,
		RequestID:    requestID,
	})
}

// ProofHandler handles GET /v1/proof?batch_id=&event_hash= requests.
type ProofHandler struct {
	manager *batch.Manager
}

// NewProofHandler creates a new proof handler.
func NewProofHandler(manager *batch.Manager) *ProofHandler {
	return &ProofHandler{manager: manager}
}

// ServeHTTP returns the Merkle proof for an event hash within a batch. An
// unknown batch or non-member hash is a 404, never a 500.
func (h *ProofHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	batchID := r.URL.Query().Get("batch_id")
	eventHash := r.URL.Query().Get("event_hash")
	if batchID == "" || eventHash == "" {
		writeError(w, http.StatusBadRequest, "batch_id and event_hash are required", requestID)
		return
	}

	proof := h.manager.EventProof(r.Context(), batchID, eventHash)
	if proof == nil {
		writeError(w, http.StatusNotFound, "no proof: unknown batch or hash not a member", requestID)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

// VerifyResponse represents the full verification result for one event.
type VerifyResponse struct {
	EventID      string             `json:"event_id"`
	Verification event.Verification `json:"verification"`
	Valid        bool               `json:"valid"`
	BatchID      string             `json:"batch_id,omitempty"`
	TxRef        string             `json:"tx_ref,omitempty"`
	RequestID    string             `json:"request_id"`
}

// VerifyHandler handles GET /v1/verify?event_id= requests.
type VerifyHandler struct {
	manager *batch.Manager
	signer  digest.Signer
}

// NewVerifyHandler creates a new verify handler.
func NewVerifyHandler(manager *batch.Manager, signer digest.Signer) *VerifyHandler {
	return &VerifyHandler{manager: manager, signer: signer}
}

// ServeHTTP verifies one event end to end: recomputed hash, signature,
// Merkle proof against the stored batch root, and anchor status.
func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required", requestID)
		return
	}

	ev, err := h.manager.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load event: %v", err), requestID)
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "unknown event", requestID)
		return
	}

	verification, err := event.Verify(ev, h.signer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("verification failed: %v", err), requestID)
		return
	}

	resp := VerifyResponse{
		EventID:   ev.ID,
		BatchID:   ev.BatchID,
		TxRef:     ev.TxRef,
		RequestID: requestID,
	}

	if ev.BatchID != "" {
		b, err := h.manager.GetBatch(r.Context(), ev.BatchID)
		if err == nil && b != nil {
			if proof := h.manager.EventProof(r.Context(), ev.BatchID, ev.Hash); proof != nil {
				verification.ProofValid = merkle.VerifyProof(ev.Hash, proof.Siblings, b.MerkleRoot, proof.Index, merkle.ModeOrdered)
			}
			verification.Anchored = b.Status == types.BatchAnchored
		}
	}

	resp.Verification = verification
	resp.Valid = verification.Valid()
	writeJSON(w, http.StatusOK, resp)
}

// AckRequest represents a POST /v1/ack request.
type AckRequest struct {
	AlarmID string `json:"alarm_id"`
	User    string `json:"user"`
}

// AckHandler handles POST /v1/ack requests.
type AckHandler struct {
	detector *alarm.Detector
}

// NewAckHandler creates a new acknowledge handler.
func NewAckHandler(detector *alarm.Detector) *AckHandler {
	return &AckHandler{detector: detector}
}

// ServeHTTP acknowledges an active alarm. A miss (unknown id, already
// acknowledged, already cleared) is a 200 with acknowledged=false.
func (h *AckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.AlarmID == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "alarm_id and user are required", requestID)
		return
	}

	ok := h.detector.Acknowledge(req.AlarmID, req.User)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alarm_id":     req.AlarmID,
		"acknowledged": ok,
		"request_id":   requestID,
	})
}

// AlarmsHandler handles GET /v1/alarms requests.
type AlarmsHandler struct {
	detector *alarm.Detector
}

// NewAlarmsHandler creates a new alarms handler.
func NewAlarmsHandler(detector *alarm.Detector) *AlarmsHandler {
	return &AlarmsHandler{detector: detector}
}

// ServeHTTP lists the currently active alarms.
func (h *AlarmsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	alarms := h.detector.ActiveAlarms()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alarms":     alarms,
		"count":      len(alarms),
		"request_id": requestID,
	})
}

// StatsResponse aggregates pipeline statistics for operators.
type StatsResponse struct {
	Batches   batch.Stats                 `json:"batches"`
	Anchoring anchor.Stats                `json:"anchoring"`
	Latency   observability.AnchorSummary `json:"latency"`
	TopTags   []observability.TagStats    `json:"top_tags"`
	RequestID string                      `json:"request_id"`
}

// StatsHandler handles GET /v1/stats requests.
type StatsHandler struct {
	manager      *batch.Manager
	orchestrator *anchor.Orchestrator
	pipeline     *observability.PipelineStats
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(manager *batch.Manager, orchestrator *anchor.Orchestrator, pipeline *observability.PipelineStats) *StatsHandler {
	return &StatsHandler{manager: manager, orchestrator: orchestrator, pipeline: pipeline}
}

// ServeHTTP reports batch, anchoring, and per-tag statistics.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	batchStats, err := h.manager.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to collect stats: %v", err), requestID)
		return
	}

	resp := StatsResponse{
		Batches:   batchStats,
		Anchoring: h.orchestrator.Stats(),
		RequestID: requestID,
	}
	if h.pipeline != nil {
		resp.Latency = h.pipeline.Anchors()
		resp.TopTags = h.pipeline.TopTags(10)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AnchorRetryHandler handles POST /v1/anchor requests: flush pending events
// and retry FAILED batches.
type AnchorRetryHandler struct {
	orchestrator *anchor.Orchestrator
}

// NewAnchorRetryHandler creates a new anchor retry handler.
func NewAnchorRetryHandler(orchestrator *anchor.Orchestrator) *AnchorRetryHandler {
	return &AnchorRetryHandler{orchestrator: orchestrator}
}

// ServeHTTP forces a flush of pending events, then re-submits failed
// batches oldest-first.
func (h *AnchorRetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	if err := h.orchestrator.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("flush failed: %v", err), requestID)
		return
	}

	retried, err := h.orchestrator.RetryFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("retry failed: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"retried":    retried,
		"request_id": requestID,
	})
}

// BatchesHandler handles GET /v1/batches?status= requests.
type BatchesHandler struct {
	manager *batch.Manager
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(manager *batch.Manager) *BatchesHandler {
	return &BatchesHandler{manager: manager}
}

// ServeHTTP lists stored batches, optionally filtered by status.
func (h *BatchesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	status := types.BatchStatus(r.URL.Query().Get("status"))
	batches, err := h.manager.ListBatches(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list batches: %v", err), requestID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches":    batches,
		"count":      len(batches),
		"request_id": requestID,
	})
}
