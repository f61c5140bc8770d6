package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
)

// AntivirusScanUseCase reacts to object-created events for the unscanned
// area: it scans the new blob and relocates it to the scanned or quarantine
// area. Moves are copy-verify-delete and converge under duplicate deliveries.
type AntivirusScanUseCase struct {
	store   ports.BlobStore
	scanner ports.VirusScanner
}

func NewAntivirusScanUseCase(store ports.BlobStore, scanner ports.VirusScanner) *AntivirusScanUseCase {
	return &AntivirusScanUseCase{store: store, scanner: scanner}
}

// HandleObjectCreated processes one object-created event. A nil return or a
// not-found kind means the event is settled and must be acknowledged; a
// temporary kind means the scan could not run and the event must be retried.
func (uc *AntivirusScanUseCase) HandleObjectCreated(ctx context.Context, event domain.ObjectEvent) error {
	if event.Bucket != uc.store.BucketFor(domain.AreaUnscanned) {
		slog.Debug("ignoring event from foreign bucket", "bucket", event.Bucket, "object", event.Name)
		return nil
	}

	fc, err := uc.store.Get(ctx, domain.AreaUnscanned, event.Name)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			// A previous delivery of this event already moved the object.
			return domain.WrapError(domain.ErrDocumentNotFound, "fetch unscanned object", err)
		}
		return domain.WrapError(domain.ErrTemporary, "fetch unscanned object", err)
	}

	verdict, err := uc.scanner.Scan(ctx, fc.Data, event.Name)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "antivirus scan", err)
	}

	if verdict.Clean {
		slog.Info("file is clean", "object", event.Name)
		return uc.ConfirmCleanFile(ctx, event.Name)
	}

	slog.Warn("file is infected", "object", event.Name, "signature", verdict.Message)
	return uc.QuarantineFile(ctx, event.Name)
}

// ConfirmCleanFile moves a blob from the unscanned to the scanned area.
func (uc *AntivirusScanUseCase) ConfirmCleanFile(ctx context.Context, key string) error {
	return uc.move(ctx, key, domain.AreaScanned)
}

// QuarantineFile moves a blob from the unscanned to the quarantine area.
func (uc *AntivirusScanUseCase) QuarantineFile(ctx context.Context, key string) error {
	return uc.move(ctx, key, domain.AreaQuarantine)
}

// move is copy, verify destination, delete source. A retried move either
// finds the source already gone with the destination populated (success) or
// performs the copy+delete again; a dangling source or unverified copy fails
// loudly so the triggering event is not acknowledged.
func (uc *AntivirusScanUseCase) move(ctx context.Context, key string, dst domain.StorageArea) error {
	exists, err := uc.store.Copy(ctx, key, domain.AreaUnscanned, dst)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			if ok, exErr := uc.store.Exists(ctx, dst, key); exErr == nil && ok {
				slog.Debug("object already moved", "object", key, "area", dst)
				return nil
			}
		}
		return fmt.Errorf("copy %s to %s area: %w", key, dst, err)
	}
	if !exists {
		return fmt.Errorf("copy of %s to %s area not verified", key, dst)
	}

	if err := uc.store.Delete(ctx, domain.AreaUnscanned, key); err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			// Source deleted by a concurrent retry; the move converged.
			return nil
		}
		return fmt.Errorf("delete %s from unscanned area: %w", key, err)
	}
	return nil
}
