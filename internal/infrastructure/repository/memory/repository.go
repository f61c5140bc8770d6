package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

// DocumentRepository is the in-memory document record store for tests and
// local development.
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]domain.Document)}
}

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
	}
	out := doc
	return &out, nil
}

// ResultRepository is the in-memory processor-result store. Same composite
// key semantics as the Postgres implementation: one row per
// (processorId, documentId), Upsert overwrites.
type ResultRepository struct {
	mu   sync.RWMutex
	rows map[string]domain.ProcessorResult
}

func NewResultRepository() *ResultRepository {
	return &ResultRepository{rows: make(map[string]domain.ProcessorResult)}
}

func key(processorID, documentID string) string {
	return processorID + "\x00" + documentID
}

func (r *ResultRepository) Upsert(_ context.Context, result *domain.ProcessorResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key(result.ProcessorID, result.DocumentID)] = *result
	return nil
}

func (r *ResultRepository) FindByDocumentID(_ context.Context, documentID string) ([]domain.ProcessorResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ProcessorResult
	for _, row := range r.rows {
		if row.DocumentID == documentID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ProcessorID < out[j].ProcessorID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (r *ResultRepository) FindByDocumentIDAndProcessorIDs(ctx context.Context, documentID string, processorIDs []string) ([]domain.ProcessorResult, error) {
	all, err := r.FindByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(processorIDs))
	for _, id := range processorIDs {
		wanted[id] = struct{}{}
	}

	var out []domain.ProcessorResult
	for _, row := range all {
		if _, ok := wanted[row.ProcessorID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}
