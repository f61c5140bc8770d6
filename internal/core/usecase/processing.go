package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/processor"
)

// DocumentProcessingUseCase orchestrates asynchronous document processing:
// it enqueues requests, deduplicates re-submission, classifies processor
// outcomes and persists/publishes results. It exclusively owns request
// creation; the consumer side exclusively owns terminal-state writes through
// ProcessRequest.
type DocumentProcessingUseCase struct {
	queue    ports.MessageQueue
	results  ports.ProcessorResultRepository
	registry *processor.Registry
	status   ports.ScanStatusResolver
}

func NewDocumentProcessingUseCase(
	queue ports.MessageQueue,
	results ports.ProcessorResultRepository,
	registry *processor.Registry,
	status ports.ScanStatusResolver,
) *DocumentProcessingUseCase {
	return &DocumentProcessingUseCase{
		queue:    queue,
		results:  results,
		registry: registry,
		status:   status,
	}
}

// Enqueue publishes one processing request per entry and records a PENDING
// row for each. Unless reprocess is set, processors that already have any
// result for the document are silently dropped from the batch, so a
// (document, processor) pair is enqueued at most once through this path.
// A document whose scan failed is refused outright: nothing is published.
//
// The PENDING row is persisted before the request is published, so a worker
// that picks the message up immediately can never have its terminal result
// overwritten by a late PENDING write. A failure partway through the batch is
// reported without rolling back already-published items.
func (uc *DocumentProcessingUseCase) Enqueue(ctx context.Context, documentID string, requests []domain.ProcessingRequest, reprocess bool) error {
	if len(requests) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue processing",
			fmt.Errorf("no processing requests for document %s", documentID))
	}

	if !reprocess {
		var err error
		requests, err = uc.dropAlreadyProcessed(ctx, documentID, requests)
		if err != nil {
			return err
		}
	}
	if len(requests) == 0 {
		return nil
	}

	status, err := uc.status.Status(ctx, documentID)
	if err != nil {
		return err
	}
	if status == domain.ScanStatusFailedScan {
		return domain.WrapError(domain.ErrGone, "enqueue processing",
			fmt.Errorf("document %s is quarantined", documentID))
	}

	for _, req := range requests {
		envelope := domain.ProcessingRequestEnvelope{DocumentID: documentID, Request: req}
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("marshal processing request: %w", err)
		}

		pending := &domain.ProcessorResult{
			ProcessorID: req.ProcessorID,
			DocumentID:  documentID,
			Status:      domain.ResultPending,
			Result:      map[string]any{},
			Timestamp:   time.Now().UTC(),
		}
		if err := uc.results.Upsert(ctx, pending); err != nil {
			return fmt.Errorf("persist pending result: %w", err)
		}
		if err := uc.queue.PublishProcessingRequest(ctx, payload); err != nil {
			return fmt.Errorf("publish processing request: %w", err)
		}
		slog.Debug("processing request published", "document_id", documentID, "processor_id", req.ProcessorID)
	}
	return nil
}

func (uc *DocumentProcessingUseCase) dropAlreadyProcessed(ctx context.Context, documentID string, requests []domain.ProcessingRequest) ([]domain.ProcessingRequest, error) {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.ProcessorID)
	}

	existing, err := uc.results.FindByDocumentIDAndProcessorIDs(ctx, documentID, ids)
	if err != nil {
		return nil, fmt.Errorf("query existing results: %w", err)
	}
	if len(existing) == 0 {
		return requests, nil
	}

	seen := make(map[string]struct{}, len(existing))
	skipped := make([]string, 0, len(existing))
	for _, result := range existing {
		seen[result.ProcessorID] = struct{}{}
		skipped = append(skipped, result.ProcessorID)
	}

	filtered := requests[:0]
	for _, req := range requests {
		if _, ok := seen[req.ProcessorID]; !ok {
			filtered = append(filtered, req)
		}
	}
	slog.Info("request discarded for already-processed processors",
		"document_id", documentID, "processor_ids", skipped)
	return filtered, nil
}

// ProcessRequest is the synchronous core invoked per delivery by the
// processing worker. The returned error's kind dictates delivery fate:
// unretryable kinds are settled permanently, retryable kinds are redelivered.
func (uc *DocumentProcessingUseCase) ProcessRequest(ctx context.Context, documentID string, req domain.ProcessingRequest) (domain.ProcessorResult, error) {
	proc, ok := uc.registry.Lookup(req.ProcessorID)
	if !ok {
		unprocessable := &domain.ProcessorResult{
			ProcessorID: req.ProcessorID,
			DocumentID:  documentID,
			Status:      domain.ResultUnprocessable,
			Result:      map[string]any{"error": "processor not found"},
			Timestamp:   time.Now().UTC(),
		}
		if err := uc.results.Upsert(ctx, unprocessable); err != nil {
			slog.Error("failed to persist unprocessable result", "document_id", documentID, "processor_id", req.ProcessorID, "error", err)
		}
		slog.Error("processor not found", "processor_id", req.ProcessorID, "document_id", documentID)
		return domain.ProcessorResult{}, domain.WrapError(domain.ErrUnretryable, "resolve processor",
			fmt.Errorf("processor %s not found", req.ProcessorID))
	}

	result := uc.invoke(ctx, proc, documentID)

	switch {
	case result.Status == domain.ResultMissingDependency:
		// Cheap retry signal: the PENDING row stays in place so a later
		// successful pass still dedups correctly.
		slog.Warn("dependency missing, processing will be retried", "document_id", documentID, "processor_id", proc.ID())
		return domain.ProcessorResult{}, domain.WrapError(domain.ErrRetryable, "process document",
			fmt.Errorf("missing dependency for document %s", documentID))

	case result.Status == domain.ResultUnprocessable:
		msg, ok := result.ErrorMessage()
		if !ok {
			msg = "an unretryable error occurred"
		}
		slog.Error("unretryable processing failure", "document_id", documentID, "processor_id", proc.ID(), "error", msg)
		return domain.ProcessorResult{}, domain.WrapError(domain.ErrUnretryable, "process document",
			fmt.Errorf("%s", msg))

	case result.Status != domain.ResultComplete:
		return domain.ProcessorResult{}, domain.WrapError(domain.ErrRetryable, "process document",
			fmt.Errorf("document %s request could not be completed, status: %s", documentID, result.Status))
	}

	result.ProcessorID = proc.ID()
	if err := uc.results.Upsert(ctx, &result); err != nil {
		return domain.ProcessorResult{}, fmt.Errorf("persist processing result: %w", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return domain.ProcessorResult{}, fmt.Errorf("marshal processing result: %w", err)
	}
	if err := uc.queue.PublishProcessingResult(ctx, payload); err != nil {
		return domain.ProcessorResult{}, fmt.Errorf("publish processing result: %w", err)
	}
	slog.Debug("processing result published", "document_id", documentID, "processor_id", result.ProcessorID)

	return result, nil
}

// invoke shields the pipeline from panicking processors: a panic is an
// unexpected fault and is converted to an UNPROCESSABLE outcome so the
// contract "always returns a result" holds.
func (uc *DocumentProcessingUseCase) invoke(ctx context.Context, proc ports.DocumentProcessor, documentID string) (result domain.ProcessorResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processor panicked", "processor_id", proc.ID(), "document_id", documentID, "panic", r)
			result = domain.ProcessorResult{
				DocumentID: documentID,
				Status:     domain.ResultUnprocessable,
				Result:     map[string]any{"error": fmt.Sprintf("processor panic: %v", r)},
				Timestamp:  time.Now().UTC(),
			}
		}
	}()
	return proc.Process(ctx, documentID)
}

// ResultsForDocument returns all persisted rows for a document in
// chronological order, followed by the synthesized antivirus pseudo-result
// derived from the current scan status.
func (uc *DocumentProcessingUseCase) ResultsForDocument(ctx context.Context, documentID string) ([]domain.ProcessorResult, error) {
	status, err := uc.status.Status(ctx, documentID)
	if err != nil {
		return nil, err
	}

	results, err := uc.results.FindByDocumentID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load processing results: %w", err)
	}

	antivirus := domain.ProcessorResult{
		ProcessorID: domain.AntivirusProcessorID,
		DocumentID:  documentID,
		Status:      domain.ResultComplete,
		Result: map[string]any{
			"scanStatus": string(status),
			"httpStatus": status.HTTPStatus(),
			"message":    status.Message(),
		},
		Timestamp: time.Now().UTC(),
	}
	if status == domain.ScanStatusAwaitingScan {
		antivirus.Status = domain.ResultPending
	}

	return append(results, antivirus), nil
}
