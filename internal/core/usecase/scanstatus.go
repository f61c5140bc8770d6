package usecase

import (
	"context"
	"fmt"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// ScanStatusUseCase derives a document's lifecycle state by probing which
// storage area holds its blob. Purely a query; no side effects.
type ScanStatusUseCase struct {
	store ports.BlobStore
}

func NewScanStatusUseCase(store ports.BlobStore) *ScanStatusUseCase {
	return &ScanStatusUseCase{store: store}
}

// Status resolves the scan status for a document id, failing with a
// not-found kind when the id is absent from all three areas.
func (uc *ScanStatusUseCase) Status(ctx context.Context, documentID string) (domain.ScanStatus, error) {
	probes := []struct {
		area   domain.StorageArea
		status domain.ScanStatus
	}{
		{domain.AreaScanned, domain.ScanStatusReady},
		{domain.AreaQuarantine, domain.ScanStatusFailedScan},
		{domain.AreaUnscanned, domain.ScanStatusAwaitingScan},
	}

	for _, probe := range probes {
		ok, err := uc.store.Exists(ctx, probe.area, documentID)
		if err != nil {
			return "", fmt.Errorf("probe %s area: %w", probe.area, err)
		}
		if ok {
			return probe.status, nil
		}
	}

	return "", domain.WrapError(domain.ErrDocumentNotFound, "resolve scan status",
		fmt.Errorf("document %s absent from all storage areas", documentID))
}

// Metadata returns uploader and original filename for a READY document.
func (uc *ScanStatusUseCase) Metadata(ctx context.Context, documentID string) (domain.DocumentMetadata, error) {
	return uc.metadataFromArea(ctx, domain.AreaScanned, documentID)
}

// UnscannedMetadata returns the same for a document still awaiting scan.
func (uc *ScanStatusUseCase) UnscannedMetadata(ctx context.Context, documentID string) (domain.DocumentMetadata, error) {
	return uc.metadataFromArea(ctx, domain.AreaUnscanned, documentID)
}

func (uc *ScanStatusUseCase) metadataFromArea(ctx context.Context, area domain.StorageArea, documentID string) (domain.DocumentMetadata, error) {
	md, err := uc.store.Metadata(ctx, area, documentID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrDocumentNotFound) {
			return domain.DocumentMetadata{}, fmt.Errorf("read blob metadata: %w", err)
		}
		// Absent from the requested area: report the actual lifecycle state.
		status, statusErr := uc.Status(ctx, documentID)
		if statusErr != nil {
			return domain.DocumentMetadata{}, statusErr
		}
		switch status {
		case domain.ScanStatusFailedScan:
			return domain.DocumentMetadata{}, domain.WrapError(domain.ErrGone, "read blob metadata", err)
		case domain.ScanStatusAwaitingScan:
			return domain.DocumentMetadata{}, domain.WrapError(domain.ErrScanPending, "read blob metadata", err)
		default:
			return domain.DocumentMetadata{}, domain.WrapError(domain.ErrDocumentNotFound, "read blob metadata", err)
		}
	}

	return domain.DocumentMetadata{
		OriginalFilename: md[domain.MetaOriginalFilename],
		UploadedBy:       md[domain.MetaUploadedBy],
	}, nil
}
