package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	UnscannedBucket  string
	QuarantineBucket string
	ScannedBucket    string
}

// Storage is the MinIO/S3 blob store behind the three scan lifecycle areas.
// Each area maps to its own bucket so bucket policy alone can keep unscanned
// and quarantined content unreachable from serving paths.
type Storage struct {
	client  *minio.Client
	region  string
	buckets map[domain.StorageArea]string
}

func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		region: cfg.Region,
		buckets: map[domain.StorageArea]string{
			domain.AreaUnscanned:  cfg.UnscannedBucket,
			domain.AreaQuarantine: cfg.QuarantineBucket,
			domain.AreaScanned:    cfg.ScannedBucket,
		},
	}, nil
}

// EnsureBuckets makes sure all three area buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{
		s.buckets[domain.AreaUnscanned],
		s.buckets[domain.AreaQuarantine],
		s.buckets[domain.AreaScanned],
	} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) BucketFor(area domain.StorageArea) string {
	return s.buckets[area]
}

func (s *Storage) Put(ctx context.Context, area domain.StorageArea, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	}
	if _, err := s.client.PutObject(ctx, s.buckets[area], key, data, size, opts); err != nil {
		return fmt.Errorf("put object %s/%s: %w", area, key, err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, area domain.StorageArea, key string) (*domain.FileContent, error) {
	obj, err := s.client.GetObject(ctx, s.buckets[area], key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(area, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(area, key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		return nil, s.mapError(area, key, err)
	}
	return &domain.FileContent{Data: data, ContentType: stat.ContentType}, nil
}

func (s *Storage) Exists(ctx context.Context, area domain.StorageArea, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.buckets[area], key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s/%s: %w", area, key, err)
	}
	return true, nil
}

func (s *Storage) Metadata(ctx context.Context, area domain.StorageArea, key string) (map[string]string, error) {
	stat, err := s.client.StatObject(ctx, s.buckets[area], key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.mapError(area, key, err)
	}

	// S3 serves user metadata keys in canonical header casing; normalize to
	// the lowercase keys callers wrote them with.
	out := make(map[string]string, len(stat.UserMetadata))
	for k, v := range stat.UserMetadata {
		out[strings.ToLower(k)] = v
	}
	return out, nil
}

func (s *Storage) Copy(ctx context.Context, key string, src, dst domain.StorageArea) (bool, error) {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.buckets[dst], Object: key},
		minio.CopySrcOptions{Bucket: s.buckets[src], Object: key},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return false, s.mapError(src, key, err)
		}
		return false, fmt.Errorf("copy object %s -> %s key %s: %w", src, dst, key, err)
	}

	// Server-side copy succeeded; confirm the destination before the caller
	// deletes the source.
	exists, err := s.Exists(ctx, dst, key)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Storage) Delete(ctx context.Context, area domain.StorageArea, key string) error {
	if err := s.client.RemoveObject(ctx, s.buckets[area], key, minio.RemoveObjectOptions{}); err != nil {
		return s.mapError(area, key, err)
	}
	return nil
}

func (s *Storage) mapError(area domain.StorageArea, key string, err error) error {
	if isNoSuchKey(err) {
		return domain.WrapError(domain.ErrDocumentNotFound, "blob store", fmt.Errorf("%s/%s: %w", area, key, err))
	}
	return fmt.Errorf("blob store %s/%s: %w", area, key, err)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}
