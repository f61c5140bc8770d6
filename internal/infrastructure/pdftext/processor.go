package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

const ProcessorID = "pdf-text-extract"

// Processor extracts plain text from PDF documents. It runs entirely
// in-process: no upstream API, so its only retryable failure mode is the
// scan prerequisite.
type Processor struct {
	store  ports.BlobStore
	status ports.ScanStatusResolver
}

func New(store ports.BlobStore, status ports.ScanStatusResolver) *Processor {
	return &Processor{store: store, status: status}
}

func (p *Processor) ID() string { return ProcessorID }

func (p *Processor) Process(ctx context.Context, documentID string) domain.ProcessorResult {
	content, err := p.fetch(ctx, documentID)
	if err != nil {
		return p.failure(documentID, err)
	}
	if content.ContentType != "application/pdf" {
		return p.failure(documentID, domain.WrapError(domain.ErrUnsupportedType, "pdf extract",
			fmt.Errorf("content type %s", content.ContentType)))
	}

	text, pages, err := extractText(content.Data)
	if err != nil {
		return p.failure(documentID, domain.WrapError(domain.ErrUnretryable, "pdf extract", err))
	}

	return domain.ProcessorResult{
		ProcessorID: p.ID(),
		DocumentID:  documentID,
		Status:      domain.ResultComplete,
		Result: map[string]any{
			"text":      text,
			"pageCount": pages,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (p *Processor) fetch(ctx context.Context, documentID string) (*domain.FileContent, error) {
	status, err := p.status.Status(ctx, documentID)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.ScanStatusAwaitingScan:
		return nil, domain.WrapError(domain.ErrScanPending, "pdf extract", fmt.Errorf("id %s", documentID))
	case domain.ScanStatusFailedScan:
		return nil, domain.WrapError(domain.ErrGone, "pdf extract", fmt.Errorf("id %s", documentID))
	}
	return p.store.Get(ctx, domain.AreaScanned, documentID)
}

func (p *Processor) failure(documentID string, err error) domain.ProcessorResult {
	status := domain.ResultUnprocessable
	if domain.IsKind(err, domain.ErrScanPending) {
		status = domain.ResultMissingDependency
	}
	return domain.ProcessorResult{
		ProcessorID: p.ID(),
		DocumentID:  documentID,
		Status:      status,
		Result:      map[string]any{"error": err.Error()},
		Timestamp:   time.Now().UTC(),
	}
}

func extractText(data []byte) (string, int, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("new pdf reader: %w", err)
	}

	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		pg := doc.Page(page)
		if pg.V.IsNull() {
			continue
		}
		content, err := pg.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), total, nil
}
