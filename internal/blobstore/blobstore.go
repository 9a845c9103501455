// Package blobstore holds the raw ingestion payload for documents whose
// size exceeds the inline storage threshold. A document under the
// threshold is stored directly in the documents table; above it, the body
// goes here and the row carries only a key.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBlobStoreUnavailable is returned by disabledStore for every call; it
// surfaces when BLOB_STORE_* is unset so a caller can decide whether to
// inline the payload instead.
var ErrBlobStoreUnavailable = errors.New("blob store is not configured")

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the minimal contract the ingestion pipeline depends on.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Config configures the S3-backed store. A zero Config (no Endpoint and
// no Bucket) means the fallback is disabled.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKey       string
	SecretKey       string
	ThresholdBytes  int64
}

// New builds a Store from cfg. When Endpoint or Bucket is unset it
// returns a disabledStore rather than erroring, matching the rule that
// absent blob-store configuration simply disables the fallback.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return &disabledStore{}, nil
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

type s3Store struct {
	client *s3.Client
	bucket string
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob body: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return result.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}

// disabledStore is used whenever BLOB_STORE_* is unset.
type disabledStore struct{}

func (d *disabledStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	return ErrBlobStoreUnavailable
}

func (d *disabledStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, ErrBlobStoreUnavailable
}

func (d *disabledStore) Delete(ctx context.Context, key string) error {
	return ErrBlobStoreUnavailable
}

var (
	_ Store = (*s3Store)(nil)
	_ Store = (*disabledStore)(nil)
)
