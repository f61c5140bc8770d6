package ports

import (
	"context"
	"io"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

// BlobStore is key-value object storage partitioned into the three scan
// lifecycle areas. Implementations return domain.ErrDocumentNotFound kinds
// when a key is absent from the addressed area.
type BlobStore interface {
	// BucketFor resolves the deployment-specific bucket name behind an area.
	BucketFor(area domain.StorageArea) string
	Put(ctx context.Context, area domain.StorageArea, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error
	Get(ctx context.Context, area domain.StorageArea, key string) (*domain.FileContent, error)
	Exists(ctx context.Context, area domain.StorageArea, key string) (bool, error)
	Metadata(ctx context.Context, area domain.StorageArea, key string) (map[string]string, error)
	// Copy duplicates key from src to dst and reports whether the destination
	// object exists afterwards.
	Copy(ctx context.Context, key string, src, dst domain.StorageArea) (bool, error)
	Delete(ctx context.Context, area domain.StorageArea, key string) error
}

// DocumentRepository persists the upload-time document record.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// ProcessorResultRepository persists processor outcomes keyed by
// (processorId, documentId). Upsert overwrites any existing row for the pair.
type ProcessorResultRepository interface {
	Upsert(ctx context.Context, result *domain.ProcessorResult) error
	// FindByDocumentID returns all rows for a document, oldest first.
	FindByDocumentID(ctx context.Context, documentID string) ([]domain.ProcessorResult, error)
	FindByDocumentIDAndProcessorIDs(ctx context.Context, documentID string, processorIDs []string) ([]domain.ProcessorResult, error)
}

// Delivery is one at-least-once delivery of a queued message.
type Delivery interface {
	Data() []byte
	// Ack removes the message from the queue.
	Ack() error
	// Nak requests redelivery with the transport's backoff policy.
	Nak() error
	// Term drops the message permanently: it can never succeed.
	Term() error
	NumDelivered() uint64
}

// DeliveryHandler decides the fate of a single delivery. Leaving a delivery
// unacknowledged defers to the transport's ack deadline.
type DeliveryHandler func(ctx context.Context, d Delivery)

// MessageQueue publishes and consumes the pipeline's messages.
// Subscribe methods block until ctx is done.
type MessageQueue interface {
	PublishObjectCreated(ctx context.Context, payload []byte) error
	PublishProcessingRequest(ctx context.Context, payload []byte) error
	PublishProcessingResult(ctx context.Context, payload []byte) error
	SubscribeObjectCreated(ctx context.Context, handler DeliveryHandler) error
	SubscribeProcessingRequests(ctx context.Context, handler DeliveryHandler) error
}

// VirusScanner checks document bytes for malware. An error means the scan
// engine could not produce a verdict at all.
type VirusScanner interface {
	Scan(ctx context.Context, data []byte, label string) (domain.ScanVerdict, error)
}

// DocumentProcessor is a pluggable content-processing capability. Process
// never fails by returning an error: every outcome, including upstream API
// failures, is encoded in the returned result's status.
type DocumentProcessor interface {
	ID() string
	Process(ctx context.Context, documentID string) domain.ProcessorResult
}

// ScanStatusResolver derives a document's lifecycle state from blob placement.
type ScanStatusResolver interface {
	Status(ctx context.Context, documentID string) (domain.ScanStatus, error)
	// Metadata reads uploader/filename for a READY document.
	Metadata(ctx context.Context, documentID string) (domain.DocumentMetadata, error)
	// UnscannedMetadata reads the same for an AWAITING_SCAN document. The two
	// areas have independent metadata and must not be conflated.
	UnscannedMetadata(ctx context.Context, documentID string) (domain.DocumentMetadata, error)
}

// TokenSource yields the current service-to-service credential.
type TokenSource interface {
	Token() string
}
