// Package blob rehosts scraped media in S3-compatible storage so the
// pipeline does not depend on scrape URLs staying alive until the
// posting slot arrives.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/repost-agent/internal/config"
	"github.com/repost-agent/pkg/logger"
	"github.com/repost-agent/pkg/ratelimit"
)

// Store uploads media to one bucket and hands out presigned URLs.
type Store struct {
	client      *s3.Client
	presign     *s3.PresignClient
	bucket      string
	urlTTL      time.Duration
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// New creates a Store from static credentials. Returns (nil, nil) when
// blob storage is disabled.
func New(ctx context.Context, cfg config.BlobConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	urlTTL := time.Duration(cfg.URLTTLHours) * time.Hour
	if urlTTL <= 0 {
		urlTTL = 7 * 24 * time.Hour
	}

	return &Store{
		client:      client,
		presign:     s3.NewPresignClient(client),
		bucket:      cfg.Bucket,
		urlTTL:      urlTTL,
		rateLimiter: limiter,
		log:         log.WithComponent("blob"),
	}, nil
}

// Upload stores the file under a random key and returns a presigned GET
// URL for it.
func (s *Store) Upload(ctx context.Context, path string) (string, error) {
	if err := s.rateLimiter.Wait(ctx, ratelimit.LimiterBlob); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	contentType, err := sniffContentType(f)
	if err != nil {
		return "", err
	}

	key := uuid.NewString() + filepath.Ext(path)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}

	s.log.Info().
		Str("key", key).
		Str("content_type", contentType).
		Msg("Media rehosted")
	return req.URL, nil
}

// Delete removes an uploaded object.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rateLimiter.Wait(ctx, ratelimit.LimiterBlob); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// sniffContentType reads the magic bytes and rewinds the file.
func sniffContentType(f *os.File) (string, error) {
	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil {
		return "", fmt.Errorf("failed to read file header: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream", nil
	}
	return kind.MIME.Value, nil
}
