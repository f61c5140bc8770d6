// Package localfs is a filesystem BlobStore for single-node deployments and
// persistent local development, with one directory per storage area and a
// JSON sidecar per object carrying content type and user metadata.
package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

type sidecar struct {
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	for _, area := range []domain.StorageArea{domain.AreaUnscanned, domain.AreaQuarantine, domain.AreaScanned} {
		if err := os.MkdirAll(filepath.Join(basePath, string(area)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", area, err)
		}
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) BucketFor(area domain.StorageArea) string {
	return filepath.Join(s.basePath, string(area))
}

func (s *Storage) objectPath(area domain.StorageArea, key string) string {
	// Keys are uuids minted at upload; Base strips anything path-like that
	// arrives through other channels.
	return filepath.Join(s.basePath, string(area), filepath.Base(key))
}

func (s *Storage) sidecarPath(area domain.StorageArea, key string) string {
	return s.objectPath(area, key) + ".meta.json"
}

func (s *Storage) Put(_ context.Context, area domain.StorageArea, key string, data io.Reader, _ int64, contentType string, metadata map[string]string) error {
	f, err := os.Create(s.objectPath(area, key))
	if err != nil {
		return fmt.Errorf("create object file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write object file: %w", err)
	}

	sc, err := json.Marshal(sidecar{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(s.sidecarPath(area, key), sc, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func (s *Storage) Get(_ context.Context, area domain.StorageArea, key string) (*domain.FileContent, error) {
	data, err := os.ReadFile(s.objectPath(area, key))
	if err != nil {
		return nil, s.mapError(area, key, err)
	}
	sc, err := s.readSidecar(area, key)
	if err != nil {
		return nil, err
	}
	return &domain.FileContent{Data: data, ContentType: sc.ContentType}, nil
}

func (s *Storage) Exists(_ context.Context, area domain.StorageArea, key string) (bool, error) {
	_, err := os.Stat(s.objectPath(area, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *Storage) Metadata(_ context.Context, area domain.StorageArea, key string) (map[string]string, error) {
	sc, err := s.readSidecar(area, key)
	if err != nil {
		return nil, err
	}
	if sc.Metadata == nil {
		return map[string]string{}, nil
	}
	return sc.Metadata, nil
}

func (s *Storage) Copy(ctx context.Context, key string, src, dst domain.StorageArea) (bool, error) {
	content, err := s.Get(ctx, src, key)
	if err != nil {
		return false, err
	}
	md, err := s.Metadata(ctx, src, key)
	if err != nil {
		return false, err
	}
	if err := s.Put(ctx, dst, key, bytes.NewReader(content.Data), int64(len(content.Data)), content.ContentType, md); err != nil {
		return false, err
	}
	return s.Exists(ctx, dst, key)
}

func (s *Storage) Delete(_ context.Context, area domain.StorageArea, key string) error {
	if err := os.Remove(s.objectPath(area, key)); err != nil {
		return s.mapError(area, key, err)
	}
	// A missing sidecar only loses metadata we were deleting anyway.
	_ = os.Remove(s.sidecarPath(area, key))
	return nil
}

func (s *Storage) readSidecar(area domain.StorageArea, key string) (sidecar, error) {
	raw, err := os.ReadFile(s.sidecarPath(area, key))
	if err != nil {
		return sidecar{}, s.mapError(area, key, err)
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar for %s: %w", key, err)
	}
	return sc, nil
}

func (s *Storage) mapError(area domain.StorageArea, key string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return domain.WrapError(domain.ErrDocumentNotFound, "localfs store",
			fmt.Errorf("object %s not in %s area", key, area))
	}
	return fmt.Errorf("localfs %s/%s: %w", area, key, err)
}
