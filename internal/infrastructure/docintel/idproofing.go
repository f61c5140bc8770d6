package docintel

import (
	"context"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

const IDProofingProcessorID = "docai-id-proofing"

// IDProofingProcessor checks an identity document for fraud signals. Each
// signal reports pass or fail; allPass summarizes the set.
type IDProofingProcessor struct {
	client *Client
	source documentSource
}

func NewIDProofingProcessor(client *Client, store ports.BlobStore, status ports.ScanStatusResolver) *IDProofingProcessor {
	return &IDProofingProcessor{
		client: client,
		source: documentSource{store: store, status: status},
	}
}

func (p *IDProofingProcessor) ID() string { return IDProofingProcessorID }

type proofingSignal struct {
	Name        string `json:"name"`
	IsPass      bool   `json:"isPass"`
	MentionText string `json:"mentionText"`
}

type proofingResponse struct {
	AllPass bool             `json:"allPass"`
	Signals []proofingSignal `json:"signals"`
}

func (p *IDProofingProcessor) Process(ctx context.Context, documentID string) domain.ProcessorResult {
	content, err := p.source.fetch(ctx, documentID)
	if err != nil {
		return resultFromError(p.ID(), documentID, err)
	}

	var resp proofingResponse
	if err := p.client.analyze(ctx, "/v1/id-proofing:analyze", content.Data, content.ContentType, &resp); err != nil {
		return resultFromError(p.ID(), documentID, err)
	}

	payload, err := toPayload(resp)
	if err != nil {
		return resultFromError(p.ID(), documentID, err)
	}
	return completeResult(p.ID(), documentID, payload)
}
