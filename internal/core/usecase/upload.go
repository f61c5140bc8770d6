package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// UploadDocumentUseCase lands uploaded bytes in the unscanned area, records
// the document and announces the new object so the scan worker picks it up.
type UploadDocumentUseCase struct {
	store ports.BlobStore
	repo  ports.DocumentRepository
	queue ports.MessageQueue

	allowedMIMETypes []string
	allowedOctetExts []string
}

func NewUploadDocumentUseCase(
	store ports.BlobStore,
	repo ports.DocumentRepository,
	queue ports.MessageQueue,
	allowedMIMETypes []string,
	allowedOctetExts []string,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		store:            store,
		repo:             repo,
		queue:            queue,
		allowedMIMETypes: allowedMIMETypes,
		allowedOctetExts: allowedOctetExts,
	}
}

// Upload stores the file in the unscanned area and returns the new document.
// The document is not downloadable until the antivirus worker promotes it.
func (uc *UploadDocumentUseCase) Upload(ctx context.Context, filename, declaredType string, data []byte, uploadedBy string) (*domain.Document, error) {
	contentType, err := uc.checkFileType(filename, declaredType, data)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	metadata := map[string]string{
		domain.MetaOriginalFilename: filename,
		domain.MetaUploadedBy:       uploadedBy,
	}

	if err := uc.store.Put(ctx, domain.AreaUnscanned, id, bytes.NewReader(data), int64(len(data)), contentType, metadata); err != nil {
		return nil, fmt.Errorf("store unscanned blob: %w", err)
	}

	doc := &domain.Document{
		ID:         id,
		Filename:   filename,
		UploadedBy: uploadedBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	event := domain.ObjectEvent{
		Bucket: uc.store.BucketFor(domain.AreaUnscanned),
		Name:   id,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal object event: %w", err)
	}
	if err := uc.queue.PublishObjectCreated(ctx, payload); err != nil {
		return nil, fmt.Errorf("publish object created event: %w", err)
	}

	slog.Info("document uploaded", "document_id", id, "filename", filename, "uploaded_by", uploadedBy)
	return doc, nil
}

func (uc *UploadDocumentUseCase) checkFileType(filename, declaredType string, data []byte) (string, error) {
	detected := http.DetectContentType(data)

	if declaredType == "application/octet-stream" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
		if !contains(uc.allowedOctetExts, ext) {
			slog.Warn("octet-stream extension not allowed", "filename", filename, "extension", ext)
			return "", domain.WrapError(domain.ErrUnsupportedType, "check file type",
				fmt.Errorf("octet-stream extension %q not allowed", ext))
		}
		return detected, nil
	}

	for _, allowed := range uc.allowedMIMETypes {
		if strings.HasPrefix(detected, allowed) {
			return detected, nil
		}
	}
	slog.Warn("mime type not allowed", "filename", filename, "detected", detected, "declared", declaredType)
	return "", domain.WrapError(domain.ErrUnsupportedType, "check file type",
		fmt.Errorf("mime type %q not allowed", detected))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
