package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/processor"
)

type resultsRepoFake struct {
	rows       map[string]domain.ProcessorResult
	upsertErr  error
	findErr    error
	upsertLog  []domain.ProcessorResult
	findByIDs  int
	findCalled int
}

func newResultsRepoFake() *resultsRepoFake {
	return &resultsRepoFake{rows: make(map[string]domain.ProcessorResult)}
}

func resultKey(processorID, documentID string) string {
	return processorID + "/" + documentID
}

func (f *resultsRepoFake) Upsert(_ context.Context, r *domain.ProcessorResult) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[resultKey(r.ProcessorID, r.DocumentID)] = *r
	f.upsertLog = append(f.upsertLog, *r)
	return nil
}

func (f *resultsRepoFake) FindByDocumentID(_ context.Context, documentID string) ([]domain.ProcessorResult, error) {
	f.findCalled++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.ProcessorResult
	for _, r := range f.rows {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *resultsRepoFake) FindByDocumentIDAndProcessorIDs(_ context.Context, documentID string, processorIDs []string) ([]domain.ProcessorResult, error) {
	f.findByIDs++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.ProcessorResult
	for _, id := range processorIDs {
		if r, ok := f.rows[resultKey(id, documentID)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type queueFake struct {
	requests   [][]byte
	results    [][]byte
	publishErr error
}

func (f *queueFake) PublishObjectCreated(context.Context, []byte) error { return nil }

func (f *queueFake) PublishProcessingRequest(_ context.Context, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.requests = append(f.requests, payload)
	return nil
}

func (f *queueFake) PublishProcessingResult(_ context.Context, payload []byte) error {
	f.results = append(f.results, payload)
	return nil
}

func (f *queueFake) SubscribeObjectCreated(context.Context, ports.DeliveryHandler) error {
	return nil
}

func (f *queueFake) SubscribeProcessingRequests(context.Context, ports.DeliveryHandler) error {
	return nil
}

type statusFake struct {
	status domain.ScanStatus
	err    error
}

func (f *statusFake) Status(context.Context, string) (domain.ScanStatus, error) {
	return f.status, f.err
}

func (f *statusFake) Metadata(context.Context, string) (domain.DocumentMetadata, error) {
	return domain.DocumentMetadata{}, nil
}

func (f *statusFake) UnscannedMetadata(context.Context, string) (domain.DocumentMetadata, error) {
	return domain.DocumentMetadata{}, nil
}

type processorFake struct {
	id     string
	result domain.ProcessorResult
	calls  int
}

func (f *processorFake) ID() string { return f.id }

func (f *processorFake) Process(_ context.Context, documentID string) domain.ProcessorResult {
	f.calls++
	r := f.result
	r.DocumentID = documentID
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return r
}

type panickyProcessor struct{}

func (p *panickyProcessor) ID() string { return "panicky" }

func (p *panickyProcessor) Process(context.Context, string) domain.ProcessorResult {
	panic("boom")
}

func TestEnqueueRejectsEmptyBatch(t *testing.T) {
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), processor.NewRegistry(), &statusFake{status: domain.ScanStatusReady})

	err := uc.Enqueue(context.Background(), "doc-1", nil, false)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEnqueueDedupIdempotence(t *testing.T) {
	queue := &queueFake{}
	repo := newResultsRepoFake()
	uc := NewDocumentProcessingUseCase(queue, repo, processor.NewRegistry(), &statusFake{status: domain.ScanStatusReady})

	requests := []domain.ProcessingRequest{{ProcessorID: "p1"}, {ProcessorID: "p2"}}
	if err := uc.Enqueue(context.Background(), "doc-1", requests, false); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := uc.Enqueue(context.Background(), "doc-1", requests, false); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	if len(queue.requests) != 2 {
		t.Fatalf("expected 2 publishes total, got %d", len(queue.requests))
	}
	for _, id := range []string{"p1", "p2"} {
		row, ok := repo.rows[resultKey(id, "doc-1")]
		if !ok {
			t.Fatalf("missing pending row for %s", id)
		}
		if row.Status != domain.ResultPending {
			t.Fatalf("row for %s has status %s", id, row.Status)
		}
	}
}

func TestEnqueueReprocessOverride(t *testing.T) {
	queue := &queueFake{}
	repo := newResultsRepoFake()
	repo.rows[resultKey("p1", "doc-1")] = domain.ProcessorResult{
		ProcessorID: "p1", DocumentID: "doc-1", Status: domain.ResultComplete,
	}
	uc := NewDocumentProcessingUseCase(queue, repo, processor.NewRegistry(), &statusFake{status: domain.ScanStatusReady})

	err := uc.Enqueue(context.Background(), "doc-1", []domain.ProcessingRequest{{ProcessorID: "p1"}}, true)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if len(queue.requests) != 1 {
		t.Fatalf("expected republish despite existing result, got %d publishes", len(queue.requests))
	}
	if repo.findByIDs != 0 {
		t.Fatal("reprocess must skip the dedup query")
	}
}

func TestEnqueueQuarantineGate(t *testing.T) {
	queue := &queueFake{}
	repo := newResultsRepoFake()
	uc := NewDocumentProcessingUseCase(queue, repo, processor.NewRegistry(), &statusFake{status: domain.ScanStatusFailedScan})

	err := uc.Enqueue(context.Background(), "doc-1", []domain.ProcessingRequest{{ProcessorID: "p1"}, {ProcessorID: "p2"}}, false)
	if !domain.IsKind(err, domain.ErrGone) {
		t.Fatalf("expected gone, got %v", err)
	}
	if len(queue.requests) != 0 {
		t.Fatalf("quarantined document must publish nothing, got %d", len(queue.requests))
	}
	if len(repo.upsertLog) != 0 {
		t.Fatalf("quarantined document must write no rows, got %d", len(repo.upsertLog))
	}
}

func TestEnqueueFullyDedupedBatchSkipsStatusCheck(t *testing.T) {
	queue := &queueFake{}
	repo := newResultsRepoFake()
	repo.rows[resultKey("p1", "doc-1")] = domain.ProcessorResult{ProcessorID: "p1", DocumentID: "doc-1", Status: domain.ResultPending}
	status := &statusFake{err: errors.New("status resolver must not be called")}
	uc := NewDocumentProcessingUseCase(queue, repo, processor.NewRegistry(), status)

	if err := uc.Enqueue(context.Background(), "doc-1", []domain.ProcessingRequest{{ProcessorID: "p1"}}, false); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if len(queue.requests) != 0 {
		t.Fatal("fully deduped batch must publish nothing")
	}
}

func TestProcessRequestProcessorMissingIsFatal(t *testing.T) {
	repo := newResultsRepoFake()
	uc := NewDocumentProcessingUseCase(&queueFake{}, repo, processor.NewRegistry(), &statusFake{status: domain.ScanStatusReady})

	_, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "ghost"})
	if !domain.IsKind(err, domain.ErrUnretryable) {
		t.Fatalf("expected unretryable, got %v", err)
	}
	if domain.IsKind(err, domain.ErrRetryable) {
		t.Fatal("processor-missing must never be retryable")
	}
	row, ok := repo.rows[resultKey("ghost", "doc-1")]
	if !ok {
		t.Fatal("expected persisted unprocessable row")
	}
	if row.Status != domain.ResultUnprocessable {
		t.Fatalf("row status = %s", row.Status)
	}
	if msg, _ := row.ErrorMessage(); msg != "processor not found" {
		t.Fatalf("row error = %q", msg)
	}
}

func TestProcessRequestMissingDependencyIsRetryableAndKeepsPending(t *testing.T) {
	repo := newResultsRepoFake()
	repo.rows[resultKey("p1", "doc-1")] = domain.ProcessorResult{ProcessorID: "p1", DocumentID: "doc-1", Status: domain.ResultPending}
	proc := &processorFake{id: "p1", result: domain.ProcessorResult{Status: domain.ResultMissingDependency}}
	uc := NewDocumentProcessingUseCase(&queueFake{}, repo, processor.NewRegistry(proc), &statusFake{status: domain.ScanStatusAwaitingScan})

	_, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "p1"})
	if !domain.IsKind(err, domain.ErrRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
	if row := repo.rows[resultKey("p1", "doc-1")]; row.Status != domain.ResultPending {
		t.Fatalf("pending row must not be overwritten, got %s", row.Status)
	}
}

func TestProcessRequestUnprocessableCarriesProcessorMessage(t *testing.T) {
	proc := &processorFake{id: "p1", result: domain.ProcessorResult{
		Status: domain.ResultUnprocessable,
		Result: map[string]any{"error": "backend said no"},
	}}
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), processor.NewRegistry(proc), &statusFake{status: domain.ScanStatusReady})

	_, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "p1"})
	if !domain.IsKind(err, domain.ErrUnretryable) {
		t.Fatalf("expected unretryable, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "backend said no") {
		t.Fatalf("error should carry the processor message, got %q", got)
	}
}

func TestProcessRequestOtherStatusIsRetryable(t *testing.T) {
	proc := &processorFake{id: "p1", result: domain.ProcessorResult{Status: domain.ResultRetryableError}}
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), processor.NewRegistry(proc), &statusFake{status: domain.ScanStatusReady})

	_, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "p1"})
	if !domain.IsKind(err, domain.ErrRetryable) {
		t.Fatalf("expected retryable, got %v", err)
	}
}

func TestProcessRequestCompletePersistsAndPublishes(t *testing.T) {
	queue := &queueFake{}
	repo := newResultsRepoFake()
	repo.rows[resultKey("p1", "doc-1")] = domain.ProcessorResult{ProcessorID: "p1", DocumentID: "doc-1", Status: domain.ResultPending}
	proc := &processorFake{id: "p1", result: domain.ProcessorResult{
		Status: domain.ResultComplete,
		Result: map[string]any{"qualityScore": 0.92},
	}}
	uc := NewDocumentProcessingUseCase(queue, repo, processor.NewRegistry(proc), &statusFake{status: domain.ScanStatusReady})

	result, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "p1"})
	if err != nil {
		t.Fatalf("ProcessRequest() error = %v", err)
	}
	if result.ProcessorID != "p1" {
		t.Fatalf("result must be stamped with the resolved processor id, got %q", result.ProcessorID)
	}
	if row := repo.rows[resultKey("p1", "doc-1")]; row.Status != domain.ResultComplete {
		t.Fatalf("pending row must transition to COMPLETE, got %s", row.Status)
	}
	if len(queue.results) != 1 {
		t.Fatalf("expected 1 result event, got %d", len(queue.results))
	}
	var published domain.ProcessorResult
	if err := json.Unmarshal(queue.results[0], &published); err != nil {
		t.Fatalf("unmarshal published result: %v", err)
	}
	if published.Status != domain.ResultComplete || published.ProcessorID != "p1" {
		t.Fatalf("unexpected published result: %+v", published)
	}
}

func TestProcessRequestPanicBecomesUnretryable(t *testing.T) {
	reg := processor.NewRegistry(&panickyProcessor{})
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), reg, &statusFake{status: domain.ScanStatusReady})

	_, err := uc.ProcessRequest(context.Background(), "doc-1", domain.ProcessingRequest{ProcessorID: "panicky"})
	if !domain.IsKind(err, domain.ErrUnretryable) {
		t.Fatalf("expected unretryable after panic, got %v", err)
	}
}

func TestResultsForDocumentAppendsAntivirusPseudoResult(t *testing.T) {
	repo := newResultsRepoFake()
	repo.rows[resultKey("p1", "doc-1")] = domain.ProcessorResult{
		ProcessorID: "p1", DocumentID: "doc-1", Status: domain.ResultComplete,
	}
	uc := NewDocumentProcessingUseCase(&queueFake{}, repo, processor.NewRegistry(), &statusFake{status: domain.ScanStatusReady})

	results, err := uc.ResultsForDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ResultsForDocument() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	av := results[len(results)-1]
	if av.ProcessorID != domain.AntivirusProcessorID {
		t.Fatalf("last result should be the antivirus pseudo-result, got %s", av.ProcessorID)
	}
	if av.Status != domain.ResultComplete {
		t.Fatalf("antivirus pseudo-result status = %s", av.Status)
	}
	if av.Result["scanStatus"] != string(domain.ScanStatusReady) {
		t.Fatalf("unexpected pseudo-result payload: %v", av.Result)
	}
	if av.Result["httpStatus"] != 200 {
		t.Fatalf("unexpected httpStatus: %v", av.Result["httpStatus"])
	}
}

func TestResultsForDocumentPendingWhileAwaitingScan(t *testing.T) {
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), processor.NewRegistry(), &statusFake{status: domain.ScanStatusAwaitingScan})

	results, err := uc.ResultsForDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ResultsForDocument() error = %v", err)
	}
	if results[len(results)-1].Status != domain.ResultPending {
		t.Fatal("antivirus pseudo-result must be PENDING while awaiting scan")
	}
}

func TestResultsForDocumentUnknownDocument(t *testing.T) {
	status := &statusFake{err: domain.WrapError(domain.ErrDocumentNotFound, "resolve scan status", errors.New("absent"))}
	uc := NewDocumentProcessingUseCase(&queueFake{}, newResultsRepoFake(), processor.NewRegistry(), status)

	_, err := uc.ResultsForDocument(context.Background(), "ghost")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
