// Package anchor connects the batch pipeline to an external ledger. The
// orchestrator filters events by policy, drives the batch manager, and
// records cumulative anchoring statistics; the submitter is the pluggable
// transport to the ledger service.
package anchor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	anverr "github.com/anvilchain/anvilchain/internal/errors"
)

// Submitter commits one batch root to an external ledger and returns the
// ledger's transaction reference.
type Submitter interface {
	Submit(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
	return f(ctx, batchID, merkleRoot, eventCount)
}

// HTTPSubmitter submits batches to a ledger gateway over HTTP.
type HTTPSubmitter struct {
	client *resty.Client
}

// anchorRequest is the submission body.
type anchorRequest struct {
	BatchID    string `json:"batch_id"`
	MerkleRoot string `json:"merkle_root"`
	EventCount int    `json:"event_count"`
}

// anchorResponse is the gateway's reply.
type anchorResponse struct {
	TxRef string `json:"tx_ref"`
	Error string `json:"error,omitempty"`
}

// submitRetryWait spaces the client-level retries of transient transport
// errors.
const submitRetryWait = 500 * time.Millisecond

// NewHTTPSubmitter creates a submitter for the ledger gateway at baseURL.
// Transient transport errors are retried inside the client; an HTTP error
// status is returned to the caller, who owns batch-level retry.
func NewHTTPSubmitter(baseURL, apiKey string, timeout time.Duration) *HTTPSubmitter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(submitRetryWait).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &HTTPSubmitter{client: client}
}

// Submit posts the batch root to the gateway. The reply is decoded as JSON
// regardless of its Content-Type header; gateways that omit or mislabel it
// still get their tx reference and error bodies through.
func (s *HTTPSubmitter) Submit(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
	var out anchorResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(anchorRequest{
			BatchID:    batchID,
			MerkleRoot: merkleRoot,
			EventCount: eventCount,
		}).
		SetResult(&out).
		SetError(&out).
		ForceContentType("application/json").
		Post("/v1/anchors")
	if err != nil {
		return "", anverr.NewAnchorError(anverr.CodeSubmissionFailed, "ledger submission failed", err)
	}
	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = resp.Status()
		}
		return "", anverr.NewAnchorError(anverr.CodeSubmissionFailed,
			fmt.Sprintf("ledger rejected batch %s: %s", batchID, msg), nil)
	}
	if out.TxRef == "" {
		return "", anverr.NewAnchorError(anverr.CodeSubmissionFailed,
			fmt.Sprintf("ledger accepted batch %s without a tx reference", batchID), nil)
	}
	return out.TxRef, nil
}
