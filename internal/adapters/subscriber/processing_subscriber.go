package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/usecase"
	"github.com/mwhitmore/docuvault/internal/observability/metrics"
)

const processingService = "docuvault-worker"

// ProcessingSubscriber consumes processing requests and maps orchestration
// outcomes onto queue acknowledgements:
//
//	success or unretryable  -> ack (never redeliver)
//	retryable               -> nak (redeliver with backoff)
//	malformed message       -> term (can never succeed)
//	transport failure       -> no ack (redeliver after ack wait)
type ProcessingSubscriber struct {
	queue   ports.MessageQueue
	uc      *usecase.DocumentProcessingUseCase
	metrics *metrics.WorkerMetrics
	logger  *slog.Logger
}

func NewProcessingSubscriber(
	queue ports.MessageQueue,
	uc *usecase.DocumentProcessingUseCase,
	m *metrics.WorkerMetrics,
	logger *slog.Logger,
) *ProcessingSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingSubscriber{queue: queue, uc: uc, metrics: m, logger: logger}
}

// Run blocks consuming processing requests until ctx is done.
func (s *ProcessingSubscriber) Run(ctx context.Context) error {
	return s.queue.SubscribeProcessingRequests(ctx, s.Handle)
}

func (s *ProcessingSubscriber) Handle(ctx context.Context, d ports.Delivery) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.StartMessage()
	}
	outcome := s.handle(ctx, d)
	if s.metrics != nil {
		s.metrics.FinishMessage(processingService, outcome, time.Since(start), d.NumDelivered())
	}
}

func (s *ProcessingSubscriber) handle(ctx context.Context, d ports.Delivery) string {
	var env domain.ProcessingRequestEnvelope
	if err := json.Unmarshal(d.Data(), &env); err != nil {
		s.logger.Error("dropping malformed processing request", "error", err)
		if err := d.Term(); err != nil {
			s.logger.Error("term failed", "error", err)
		}
		return "term"
	}

	result, err := s.uc.ProcessRequest(ctx, env.DocumentID, env.Request)
	logAttrs := []any{
		"document_id", env.DocumentID,
		"processor_id", env.Request.ProcessorID,
		"delivery", d.NumDelivered(),
	}

	switch {
	case err == nil:
		s.logger.Info("processing request completed", append(logAttrs, "status", result.Status)...)
		if s.metrics != nil {
			s.metrics.RecordResultPersisted(processingService, env.Request.ProcessorID, string(result.Status))
		}
		if err := d.Ack(); err != nil {
			s.logger.Error("ack failed", "error", err)
		}
		return "ack"
	case domain.IsKind(err, domain.ErrUnretryable):
		s.logger.Warn("processing request failed permanently", append(logAttrs, "error", err)...)
		if err := d.Ack(); err != nil {
			s.logger.Error("ack failed", "error", err)
		}
		return "ack"
	case domain.IsKind(err, domain.ErrRetryable):
		s.logger.Warn("processing request will be retried", append(logAttrs, "error", err)...)
		if err := d.Nak(); err != nil {
			s.logger.Error("nak failed", "error", err)
		}
		return "nak"
	default:
		// Transport trouble: leave the delivery unacknowledged so it comes
		// back after the ack wait instead of consuming a backoff slot.
		s.logger.Error("processing request hit transport failure", append(logAttrs, "error", err)...)
		return "redeliver"
	}
}
