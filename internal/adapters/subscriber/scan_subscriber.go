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

const scanService = "docuvault-scanworker"

// ScanSubscriber consumes object-created events and runs the antivirus scan.
// A vanished object acks: someone already moved it, the work is done. Any
// other failure naks for redelivery; the scan must eventually happen.
type ScanSubscriber struct {
	queue   ports.MessageQueue
	uc      *usecase.AntivirusScanUseCase
	metrics *metrics.WorkerMetrics
	logger  *slog.Logger
}

func NewScanSubscriber(
	queue ports.MessageQueue,
	uc *usecase.AntivirusScanUseCase,
	m *metrics.WorkerMetrics,
	logger *slog.Logger,
) *ScanSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanSubscriber{queue: queue, uc: uc, metrics: m, logger: logger}
}

// Run blocks consuming object-created events until ctx is done.
func (s *ScanSubscriber) Run(ctx context.Context) error {
	return s.queue.SubscribeObjectCreated(ctx, s.Handle)
}

func (s *ScanSubscriber) Handle(ctx context.Context, d ports.Delivery) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.StartMessage()
	}
	outcome := s.handle(ctx, d)
	if s.metrics != nil {
		s.metrics.FinishMessage(scanService, outcome, time.Since(start), d.NumDelivered())
	}
}

func (s *ScanSubscriber) handle(ctx context.Context, d ports.Delivery) string {
	var event domain.ObjectEvent
	if err := json.Unmarshal(d.Data(), &event); err != nil {
		s.logger.Error("dropping malformed object event", "error", err)
		if err := d.Term(); err != nil {
			s.logger.Error("term failed", "error", err)
		}
		return "term"
	}

	err := s.uc.HandleObjectCreated(ctx, event)
	logAttrs := []any{
		"bucket", event.Bucket,
		"object", event.Name,
		"delivery", d.NumDelivered(),
	}

	switch {
	case err == nil,
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrGone):
		if err != nil {
			s.logger.Info("object already handled", append(logAttrs, "reason", err)...)
		}
		if err := d.Ack(); err != nil {
			s.logger.Error("ack failed", "error", err)
		}
		return "ack"
	default:
		s.logger.Warn("scan will be retried", append(logAttrs, "error", err)...)
		if err := d.Nak(); err != nil {
			s.logger.Error("nak failed", "error", err)
		}
		return "nak"
	}
}
