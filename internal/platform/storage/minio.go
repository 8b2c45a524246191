package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Object is an open stored object. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

type MinIOStore struct {
	client  *minio.Client
	bucket  string
	region  string
	timeout time.Duration
	log     zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIOStore(cfg config.MinIOConfig, log zerolog.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &MinIOStore{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		timeout: cfg.Timeout,
		log:     log,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		// Keep serving; the bucket is ensured again on first use.
		log.Error().Err(err).Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).
			Msg("MinIO not ready during startup")
	} else {
		log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("connected to MinIO")
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.bucketEnsured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.log.Info().Str("bucket", s.bucket).Msg("created bucket")
	}
	s.bucketEnsured = true
	return nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("object stored")
	return nil
}

// Get returns common.ErrNotFound for a missing key.
func (s *MinIOStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, common.NotFound("file %s not found", key)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	contentType := info.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentType(key)
	}
	return &Object{Body: obj, Size: info.Size, ContentType: contentType}, nil
}

func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return true, nil
}

// Delete is idempotent; removing a missing key succeeds.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Msg("object deleted")
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// ContentType guesses the image type from the key extension.
func ContentType(key string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(key), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	}
	return "application/octet-stream"
}
