package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/alarm"
	"github.com/anvilchain/anvilchain/internal/anchor"
	"github.com/anvilchain/anvilchain/internal/batch"
	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/event"
	"github.com/anvilchain/anvilchain/internal/observability"
)

// RouterDeps are the services the API exposes.
type RouterDeps struct {
	Builder      *event.Builder
	Signer       digest.Signer
	Manager      *batch.Manager
	Orchestrator *anchor.Orchestrator
	Detector     *alarm.Detector
	Pipeline     *observability.PipelineStats
	Logger       *zap.Logger
}

// NewRouter assembles the API with the default middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/events", NewEventsHandler(deps.Builder, deps.Orchestrator))
	mux.Handle("/v1/proof", NewProofHandler(deps.Manager))
	mux.Handle("/v1/verify", NewVerifyHandler(deps.Manager, deps.Signer))
	mux.Handle("/v1/ack", NewAckHandler(deps.Detector))
	mux.Handle("/v1/alarms", NewAlarmsHandler(deps.Detector))
	mux.Handle("/v1/stats", NewStatsHandler(deps.Manager, deps.Orchestrator, deps.Pipeline))
	mux.Handle("/v1/anchor", NewAnchorRetryHandler(deps.Orchestrator))
	mux.Handle("/v1/batches", NewBatchesHandler(deps.Manager))

	return DefaultMiddleware(logger)(mux)
}
