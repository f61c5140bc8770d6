// Package memory provides an in-process BlobStore used by tests and local
// development runs that have no object-storage backend available.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type Storage struct {
	mu      sync.RWMutex
	areas   map[domain.StorageArea]map[string]object
	buckets map[domain.StorageArea]string
}

// New creates an empty store. Bucket names default to the area names and can
// be overridden to mirror a deployment's naming.
func New() *Storage {
	return &Storage{
		areas: map[domain.StorageArea]map[string]object{
			domain.AreaUnscanned:  {},
			domain.AreaQuarantine: {},
			domain.AreaScanned:    {},
		},
		buckets: map[domain.StorageArea]string{
			domain.AreaUnscanned:  string(domain.AreaUnscanned),
			domain.AreaQuarantine: string(domain.AreaQuarantine),
			domain.AreaScanned:    string(domain.AreaScanned),
		},
	}
}

func (s *Storage) WithBucketNames(unscanned, quarantine, scanned string) *Storage {
	s.buckets[domain.AreaUnscanned] = unscanned
	s.buckets[domain.AreaQuarantine] = quarantine
	s.buckets[domain.AreaScanned] = scanned
	return s
}

func (s *Storage) BucketFor(area domain.StorageArea) string {
	return s.buckets[area]
}

func (s *Storage) Put(_ context.Context, area domain.StorageArea, key string, data io.Reader, _ int64, contentType string, metadata map[string]string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read blob data: %w", err)
	}
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[area][key] = object{data: buf, contentType: contentType, metadata: md}
	return nil
}

func (s *Storage) Get(_ context.Context, area domain.StorageArea, key string) (*domain.FileContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.areas[area][key]
	if !ok {
		return nil, s.notFound(area, key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &domain.FileContent{Data: data, ContentType: obj.contentType}, nil
}

func (s *Storage) Exists(_ context.Context, area domain.StorageArea, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.areas[area][key]
	return ok, nil
}

func (s *Storage) Metadata(_ context.Context, area domain.StorageArea, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.areas[area][key]
	if !ok {
		return nil, s.notFound(area, key)
	}
	md := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		md[k] = v
	}
	return md, nil
}

func (s *Storage) Copy(_ context.Context, key string, src, dst domain.StorageArea) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.areas[src][key]
	if !ok {
		return false, s.notFound(src, key)
	}
	s.areas[dst][key] = obj
	_, exists := s.areas[dst][key]
	return exists, nil
}

func (s *Storage) Delete(_ context.Context, area domain.StorageArea, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.areas[area][key]; !ok {
		return s.notFound(area, key)
	}
	delete(s.areas[area], key)
	return nil
}

func (s *Storage) notFound(area domain.StorageArea, key string) error {
	return domain.WrapError(domain.ErrDocumentNotFound, "memory store",
		fmt.Errorf("object %s not in %s area", key, area))
}
