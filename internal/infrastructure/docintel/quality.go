package docintel

import (
	"context"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

const QualityProcessorID = "docai-document-quality"

// QualityProcessor grades legibility of a document: an overall score plus
// per-page defect findings such as blur, glare and cropped edges.
type QualityProcessor struct {
	client *Client
	source documentSource
}

func NewQualityProcessor(client *Client, store ports.BlobStore, status ports.ScanStatusResolver) *QualityProcessor {
	return &QualityProcessor{
		client: client,
		source: documentSource{store: store, status: status},
	}
}

func (p *QualityProcessor) ID() string { return QualityProcessorID }

type qualityDefect struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type qualityPage struct {
	PageNumber   int             `json:"pageNumber"`
	QualityScore float64         `json:"qualityScore"`
	Defects      []qualityDefect `json:"defects"`
}

type qualityResponse struct {
	QualityScore float64       `json:"qualityScore"`
	Pages        []qualityPage `json:"pages"`
}

func (p *QualityProcessor) Process(ctx context.Context, documentID string) domain.ProcessorResult {
	content, err := p.source.fetch(ctx, documentID)
	if err != nil {
		return resultFromError(p.ID(), documentID, err)
	}

	var resp qualityResponse
	if err := p.client.analyze(ctx, "/v1/document-quality:analyze", content.Data, content.ContentType, &resp); err != nil {
		return resultFromError(p.ID(), documentID, err)
	}

	payload, err := toPayload(resp)
	if err != nil {
		return resultFromError(p.ID(), documentID, err)
	}
	return completeResult(p.ID(), documentID, payload)
}
