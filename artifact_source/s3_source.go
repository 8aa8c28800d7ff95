package artifact_source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/turbot/tailpipe-firehose-processor/constants"
	"github.com/turbot/tailpipe-firehose-processor/gzip_stream"
	"github.com/turbot/tailpipe-firehose-processor/json_stream"
)

// S3API is the subset of *s3.Client used by S3Source
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Source reads and deletes the gzipped objects Firehose delivers to a bucket
type S3Source struct {
	api         S3API
	bucket      string
	maxAttempts int
	retryDelay  time.Duration
	gzipOpts    []gzip_stream.Option
}

type S3SourceOption func(*S3Source)

func WithRetry(maxAttempts int, delay time.Duration) S3SourceOption {
	return func(s *S3Source) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.retryDelay = delay
	}
}

func WithGzipChunkSize(size int) S3SourceOption {
	return func(s *S3Source) {
		s.gzipOpts = append(s.gzipOpts, gzip_stream.WithChunkSize(size))
	}
}

func NewS3Source(cfg aws.Config, bucket string, opts ...S3SourceOption) *S3Source {
	return NewS3SourceWithAPI(s3.NewFromConfig(cfg), bucket, opts...)
}

func NewS3SourceWithAPI(api S3API, bucket string, opts ...S3SourceOption) *S3Source {
	s := &S3Source{
		api:         api,
		bucket:      bucket,
		maxAttempts: constants.DefaultSourceMaxAttempts,
		retryDelay:  constants.DefaultSourceRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *S3Source) Bucket() string {
	return s.bucket
}

// Open fetches the object body. The caller must close it.
func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.retry(ctx, key, func() error {
		output, err := s.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = output.Body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve s3://%s/%s: %w", s.bucket, key, err)
	}
	return body, nil
}

// Objects opens the object and streams the JSON objects of its decompressed content
func (s *S3Source) Objects(ctx context.Context, key string) (*ObjectReader, error) {
	body, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	gz := gzip_stream.NewReader(body, s.gzipOpts...)
	return &ObjectReader{ObjectStream: json_stream.NewObjectStream(gz), gz: gz, body: body}, nil
}

// Delete removes the object
func (s *S3Source) Delete(ctx context.Context, key string) error {
	err := s.retry(ctx, key, func() error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", s.bucket, key, err)
	}
	slog.Info("Deleted source object", "bucket", s.bucket, "key", key)
	return nil
}

func (s *S3Source) retry(ctx context.Context, key string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.maxAttempts-1)),
		ctx)
	err := backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		slog.Warn("S3 request failed, retrying", "bucket", s.bucket, "key", key, "error", err, "delay", d)
	})
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// ObjectReader streams the JSON objects of an S3 object
type ObjectReader struct {
	*json_stream.ObjectStream
	gz   *gzip_stream.Reader
	body io.ReadCloser
}

func (r *ObjectReader) Close() error {
	gzErr := r.gz.Close()
	if err := r.body.Close(); err != nil {
		return err
	}
	return gzErr
}
