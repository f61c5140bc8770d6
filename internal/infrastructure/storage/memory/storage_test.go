package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Put(ctx, domain.AreaUnscanned, "doc-1", strings.NewReader("hello"), 5, "text/plain", map[string]string{
		domain.MetaOriginalFilename: "hello.txt",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	fc, err := s.Get(ctx, domain.AreaUnscanned, "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(fc.Data) != "hello" || fc.ContentType != "text/plain" {
		t.Fatalf("unexpected content: %q %q", fc.Data, fc.ContentType)
	}

	md, err := s.Metadata(ctx, domain.AreaUnscanned, "doc-1")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if md[domain.MetaOriginalFilename] != "hello.txt" {
		t.Fatalf("unexpected metadata: %v", md)
	}
}

func TestGetAbsentIsNotFoundKind(t *testing.T) {
	s := New()

	_, err := s.Get(context.Background(), domain.AreaScanned, "ghost")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found kind, got %v", err)
	}
}

func TestCopyThenDeleteMovesObject(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, domain.AreaUnscanned, "doc-1", strings.NewReader("data"), 4, "text/plain", nil)

	exists, err := s.Copy(ctx, "doc-1", domain.AreaUnscanned, domain.AreaScanned)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if !exists {
		t.Fatal("destination should exist after copy")
	}
	if err := s.Delete(ctx, domain.AreaUnscanned, "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if ok, _ := s.Exists(ctx, domain.AreaUnscanned, "doc-1"); ok {
		t.Fatal("source should be gone")
	}
	if ok, _ := s.Exists(ctx, domain.AreaScanned, "doc-1"); !ok {
		t.Fatal("destination should hold the object")
	}
}

func TestCopyMissingSourceIsNotFound(t *testing.T) {
	s := New()

	_, err := s.Copy(context.Background(), "ghost", domain.AreaUnscanned, domain.AreaScanned)
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found kind, got %v", err)
	}
}
