package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"

	memqueue "github.com/mwhitmore/docuvault/internal/infrastructure/queue/memory"
	memrepo "github.com/mwhitmore/docuvault/internal/infrastructure/repository/memory"
	memstore "github.com/mwhitmore/docuvault/internal/infrastructure/storage/memory"
)

func newUploadFixture() (*UploadDocumentUseCase, *memstore.Storage, *memrepo.DocumentRepository, *memqueue.Queue) {
	store := memstore.New()
	repo := memrepo.NewDocumentRepository()
	queue := memqueue.New()
	uc := NewUploadDocumentUseCase(store, repo, queue,
		[]string{"application/pdf", "image/", "text/plain"}, []string{"pdf", "docx"})
	return uc, store, repo, queue
}

func TestUploadLandsInUnscannedAndAnnounces(t *testing.T) {
	uc, store, repo, _ := newUploadFixture()

	doc, err := uc.Upload(context.Background(), "note.txt", "text/plain", []byte("hello world"), "alice")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.ID == "" || doc.Filename != "note.txt" || doc.UploadedBy != "alice" {
		t.Fatalf("document = %+v", doc)
	}

	if ok, _ := store.Exists(context.Background(), domain.AreaUnscanned, doc.ID); !ok {
		t.Fatal("blob missing from unscanned area")
	}
	md, err := store.Metadata(context.Background(), domain.AreaUnscanned, doc.ID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md[domain.MetaOriginalFilename] != "note.txt" || md[domain.MetaUploadedBy] != "alice" {
		t.Fatalf("blob metadata = %v", md)
	}

	stored, err := repo.GetByID(context.Background(), doc.ID)
	if err != nil || stored.Filename != "note.txt" {
		t.Fatalf("repo record = %+v, %v", stored, err)
	}
}

func TestUploadRejectsDisallowedMIMEType(t *testing.T) {
	uc, store, _, _ := newUploadFixture()

	// ZIP magic bytes detect as application/zip, which is not allow-listed.
	payload := []byte("PK\x03\x04rest-of-archive")
	_, err := uc.Upload(context.Background(), "archive.zip", "application/zip", payload, "alice")
	if !domain.IsKind(err, domain.ErrUnsupportedType) {
		t.Fatalf("error = %v, want unsupported-type kind", err)
	}

	// Nothing may land in storage on rejection.
	if _, err := store.Metadata(context.Background(), domain.AreaUnscanned, "archive.zip"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("unexpected blob after rejection: %v", err)
	}
}

func TestUploadOctetStreamUsesExtensionAllowList(t *testing.T) {
	uc, _, _, _ := newUploadFixture()

	content := []byte{0x01, 0x02, 0x03, 0x04}
	if _, err := uc.Upload(context.Background(), "report.pdf", "application/octet-stream", content, "alice"); err != nil {
		t.Fatalf("allowed extension rejected: %v", err)
	}

	_, err := uc.Upload(context.Background(), "tool.exe", "application/octet-stream", content, "alice")
	if !domain.IsKind(err, domain.ErrUnsupportedType) {
		t.Fatalf("error = %v, want unsupported-type kind", err)
	}
}

func TestUploadEventCarriesUnscannedBucket(t *testing.T) {
	uc, store, _, queue := newUploadFixture()

	doc, err := uc.Upload(context.Background(), "note.txt", "text/plain", []byte("hello world"), "alice")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	// No subscriber was registered, so the event sits buffered; drain it by
	// subscribing and capture the payload.
	got := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = queue.SubscribeObjectCreated(ctx, func(_ context.Context, d ports.Delivery) {
			got <- d.Data()
			_ = d.Ack()
		})
	}()
	defer cancel()

	var event domain.ObjectEvent
	if err := json.Unmarshal(<-got, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Bucket != store.BucketFor(domain.AreaUnscanned) || event.Name != doc.ID {
		t.Fatalf("event = %+v", event)
	}
}
