package docintel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// documentSource resolves a document's content for processing. Only scanned
// documents are ever handed to an upstream API.
type documentSource struct {
	store  ports.BlobStore
	status ports.ScanStatusResolver
}

func (s documentSource) fetch(ctx context.Context, documentID string) (*domain.FileContent, error) {
	status, err := s.status.Status(ctx, documentID)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.ScanStatusAwaitingScan:
		return nil, domain.WrapError(domain.ErrScanPending, "fetch document", fmt.Errorf("id %s", documentID))
	case domain.ScanStatusFailedScan:
		return nil, domain.WrapError(domain.ErrGone, "fetch document", fmt.Errorf("id %s", documentID))
	}
	return s.store.Get(ctx, domain.AreaScanned, documentID)
}

// resultFromError folds a fetch or transport failure into the result status
// machine. The scan prerequisite maps to MISSING_DEPENDENCY so the request is
// retried after the scan lands; outages stay retryable; everything else is a
// permanent rejection.
func resultFromError(processorID, documentID string, err error) domain.ProcessorResult {
	status := domain.ResultUnprocessable
	switch {
	case domain.IsKind(err, domain.ErrScanPending):
		status = domain.ResultMissingDependency
	case domain.IsKind(err, domain.ErrTemporary):
		status = domain.ResultRetryableError
	}
	return domain.ProcessorResult{
		ProcessorID: processorID,
		DocumentID:  documentID,
		Status:      status,
		Result:      map[string]any{"error": err.Error()},
		Timestamp:   time.Now().UTC(),
	}
}

func completeResult(processorID, documentID string, payload map[string]any) domain.ProcessorResult {
	return domain.ProcessorResult{
		ProcessorID: processorID,
		DocumentID:  documentID,
		Status:      domain.ResultComplete,
		Result:      payload,
		Timestamp:   time.Now().UTC(),
	}
}

// toPayload renders a typed response through its JSON form, so stored
// payloads match the shape the API documents.
func toPayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
