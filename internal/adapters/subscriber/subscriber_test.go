package subscriber

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/processor"
	"github.com/mwhitmore/docuvault/internal/core/usecase"

	memqueue "github.com/mwhitmore/docuvault/internal/infrastructure/queue/memory"
	memrepo "github.com/mwhitmore/docuvault/internal/infrastructure/repository/memory"
	memstore "github.com/mwhitmore/docuvault/internal/infrastructure/storage/memory"
)

type fakeDelivery struct {
	data      []byte
	delivered uint64
	acked     int
	naked     int
	termed    int
}

func (d *fakeDelivery) Data() []byte { return d.data }
func (d *fakeDelivery) Ack() error   { d.acked++; return nil }
func (d *fakeDelivery) Nak() error   { d.naked++; return nil }
func (d *fakeDelivery) Term() error  { d.termed++; return nil }
func (d *fakeDelivery) NumDelivered() uint64 {
	if d.delivered == 0 {
		return 1
	}
	return d.delivered
}

type stubProcessor struct {
	id     string
	status domain.ProcessorResultStatus
}

func (p stubProcessor) ID() string { return p.id }
func (p stubProcessor) Process(_ context.Context, documentID string) domain.ProcessorResult {
	return domain.ProcessorResult{
		ProcessorID: p.id,
		DocumentID:  documentID,
		Status:      p.status,
		Result:      map[string]any{},
	}
}

func envelope(t *testing.T, documentID, processorID string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.ProcessingRequestEnvelope{
		DocumentID: documentID,
		Request:    domain.ProcessingRequest{ProcessorID: processorID},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func newProcessingSubscriber(t *testing.T, procs ...stubProcessor) (*ProcessingSubscriber, *memstore.Storage) {
	t.Helper()
	store := memstore.New()
	queue := memqueue.New()
	results := memrepo.NewResultRepository()
	status := usecase.NewScanStatusUseCase(store)

	registered := make([]ports.DocumentProcessor, 0, len(procs))
	for _, p := range procs {
		registered = append(registered, p)
	}
	reg := processor.NewRegistry(registered...)

	uc := usecase.NewDocumentProcessingUseCase(queue, results, reg, status)
	return NewProcessingSubscriber(queue, uc, nil, nil), store
}

func seedScanned(t *testing.T, store *memstore.Storage, id string) {
	t.Helper()
	if err := store.Put(context.Background(), domain.AreaScanned, id,
		strings.NewReader("bytes"), 5, "text/plain", nil); err != nil {
		t.Fatalf("seed store: %v", err)
	}
}

func TestMalformedProcessingRequestIsTermed(t *testing.T) {
	sub, _ := newProcessingSubscriber(t)

	d := &fakeDelivery{data: []byte("not json")}
	sub.Handle(context.Background(), d)
	if d.termed != 1 || d.acked != 0 || d.naked != 0 {
		t.Fatalf("term=%d ack=%d nak=%d, want term only", d.termed, d.acked, d.naked)
	}
}

func TestCompletedRequestIsAcked(t *testing.T) {
	sub, store := newProcessingSubscriber(t, stubProcessor{id: "p1", status: domain.ResultComplete})
	seedScanned(t, store, "doc-1")

	d := &fakeDelivery{data: envelope(t, "doc-1", "p1")}
	sub.Handle(context.Background(), d)
	if d.acked != 1 || d.naked != 0 || d.termed != 0 {
		t.Fatalf("ack=%d nak=%d term=%d, want ack only", d.acked, d.naked, d.termed)
	}
}

func TestUnknownProcessorIsAckedAsUnretryable(t *testing.T) {
	sub, store := newProcessingSubscriber(t)
	seedScanned(t, store, "doc-1")

	d := &fakeDelivery{data: envelope(t, "doc-1", "no-such-processor")}
	sub.Handle(context.Background(), d)
	if d.acked != 1 {
		t.Fatalf("ack=%d, want 1", d.acked)
	}
}

func TestMissingDependencyIsNaked(t *testing.T) {
	sub, store := newProcessingSubscriber(t, stubProcessor{id: "p1", status: domain.ResultMissingDependency})
	seedScanned(t, store, "doc-1")

	d := &fakeDelivery{data: envelope(t, "doc-1", "p1")}
	sub.Handle(context.Background(), d)
	if d.naked != 1 || d.acked != 0 {
		t.Fatalf("nak=%d ack=%d, want nak only", d.naked, d.acked)
	}
}

func TestRetryableErrorIsNaked(t *testing.T) {
	sub, store := newProcessingSubscriber(t, stubProcessor{id: "p1", status: domain.ResultRetryableError})
	seedScanned(t, store, "doc-1")

	d := &fakeDelivery{data: envelope(t, "doc-1", "p1")}
	sub.Handle(context.Background(), d)
	if d.naked != 1 {
		t.Fatalf("nak=%d, want 1", d.naked)
	}
}

func TestUnprocessableResultIsAcked(t *testing.T) {
	sub, store := newProcessingSubscriber(t, stubProcessor{id: "p1", status: domain.ResultUnprocessable})
	seedScanned(t, store, "doc-1")

	d := &fakeDelivery{data: envelope(t, "doc-1", "p1")}
	sub.Handle(context.Background(), d)
	if d.acked != 1 || d.naked != 0 {
		t.Fatalf("ack=%d nak=%d, want ack only", d.acked, d.naked)
	}
}

func newScanSubscriber(t *testing.T) (*ScanSubscriber, *memstore.Storage) {
	t.Helper()
	store := memstore.New()
	queue := memqueue.New()
	uc := usecase.NewAntivirusScanUseCase(store, scannerFunc(func(_ context.Context, data []byte, label string) (domain.ScanVerdict, error) {
		return domain.ScanVerdict{Clean: true}, nil
	}))
	return NewScanSubscriber(queue, uc, nil, nil), store
}

type scannerFunc func(context.Context, []byte, string) (domain.ScanVerdict, error)

func (f scannerFunc) Scan(ctx context.Context, data []byte, label string) (domain.ScanVerdict, error) {
	return f(ctx, data, label)
}

func TestMalformedObjectEventIsTermed(t *testing.T) {
	sub, _ := newScanSubscriber(t)

	d := &fakeDelivery{data: []byte("{{")}
	sub.Handle(context.Background(), d)
	if d.termed != 1 {
		t.Fatalf("term=%d, want 1", d.termed)
	}
}

func TestScannedObjectIsAcked(t *testing.T) {
	sub, store := newScanSubscriber(t)
	if err := store.Put(context.Background(), domain.AreaUnscanned, "doc-1",
		strings.NewReader("bytes"), 5, "text/plain", nil); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	event, _ := json.Marshal(domain.ObjectEvent{Bucket: store.BucketFor(domain.AreaUnscanned), Name: "doc-1"})
	d := &fakeDelivery{data: event}
	sub.Handle(context.Background(), d)
	if d.acked != 1 {
		t.Fatalf("ack=%d, want 1", d.acked)
	}
	if ok, _ := store.Exists(context.Background(), domain.AreaScanned, "doc-1"); !ok {
		t.Fatal("clean object should have been promoted to scanned")
	}
}

func TestVanishedObjectIsAcked(t *testing.T) {
	sub, store := newScanSubscriber(t)

	event, _ := json.Marshal(domain.ObjectEvent{Bucket: store.BucketFor(domain.AreaUnscanned), Name: "ghost"})
	d := &fakeDelivery{data: event, delivered: 2}
	sub.Handle(context.Background(), d)
	if d.acked != 1 || d.naked != 0 {
		t.Fatalf("ack=%d nak=%d, want ack only", d.acked, d.naked)
	}
}

func TestScanEngineFailureIsNaked(t *testing.T) {
	store := memstore.New()
	queue := memqueue.New()
	uc := usecase.NewAntivirusScanUseCase(store, scannerFunc(func(context.Context, []byte, string) (domain.ScanVerdict, error) {
		return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "scan", context.DeadlineExceeded)
	}))
	sub := NewScanSubscriber(queue, uc, nil, nil)

	if err := store.Put(context.Background(), domain.AreaUnscanned, "doc-1",
		strings.NewReader("bytes"), 5, "text/plain", nil); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	event, _ := json.Marshal(domain.ObjectEvent{Bucket: store.BucketFor(domain.AreaUnscanned), Name: "doc-1"})
	d := &fakeDelivery{data: event}
	sub.Handle(context.Background(), d)
	if d.naked != 1 {
		t.Fatalf("nak=%d, want 1", d.naked)
	}
}
