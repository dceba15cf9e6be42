// Package archive keeps raw upstream match payloads in S3-compatible object storage so a recap can be
// recomputed without hitting the upstream again.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"summoner-story/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Enabled() bool
}

// RawMatchesKey is raw-matches/{puuid}/{yyyy}/{mm}/{unix}.json for one ingestion run.
func RawMatchesKey(puuid string, fetchedAt time.Time) string {
	t := fetchedAt.UTC()
	return fmt.Sprintf("raw-matches/%s/%04d/%02d/%d.json", puuid, t.Year(), int(t.Month()), t.Unix())
}

// New returns a MinIO-backed store, or Noop when no endpoint is configured.
func New(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	if !cfg.Archive.Enabled() {
		logger.Info().Msg("raw match archive disabled")
		return Noop{}, nil
	}
	return NewMinioStore(cfg.Archive, logger)
}

type Noop struct{}

func (Noop) Put(context.Context, string, []byte) error { return nil }

func (Noop) Enabled() bool { return false }

type MinioStore struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

func NewMinioStore(cfg config.ArchiveConfig, logger zerolog.Logger) (*MinioStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "archive").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func (s *MinioStore) Enabled() bool { return true }

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info().Msg("archive bucket created")
	return nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(body)).Msg("archived object")
	return nil
}
