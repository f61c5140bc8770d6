package processor

import (
	"context"
	"testing"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

type stubProcessor struct {
	id string
}

func (s *stubProcessor) ID() string { return s.id }

func (s *stubProcessor) Process(context.Context, string) domain.ProcessorResult {
	return domain.ProcessorResult{Status: domain.ResultComplete}
}

func TestLookupReturnsRegisteredProcessor(t *testing.T) {
	reg := NewRegistry(&stubProcessor{id: "docai-document-quality"}, &stubProcessor{id: "pdf-text-extract"})

	p, ok := reg.Lookup("pdf-text-extract")
	if !ok {
		t.Fatal("expected processor to be registered")
	}
	if p.ID() != "pdf-text-extract" {
		t.Fatalf("wrong processor: %s", p.ID())
	}
}

func TestLookupAbsentIsNotAnError(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Lookup("unknown"); ok {
		t.Fatal("expected absence for unknown processor id")
	}
}

func TestReservedAntivirusIDIsNeverRegistered(t *testing.T) {
	reg := NewRegistry(&stubProcessor{id: domain.AntivirusProcessorID})

	if _, ok := reg.Lookup(domain.AntivirusProcessorID); ok {
		t.Fatal("reserved antivirus id must not be dispatchable")
	}
	if len(reg.IDs()) != 0 {
		t.Fatalf("expected empty registry, got %v", reg.IDs())
	}
}
