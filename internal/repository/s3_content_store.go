package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ContentStore holds paste bodies that are too large to keep alongside
// the paste metadata
type ContentStore interface {
	Put(ctx context.Context, key, content string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3API is the subset of the S3 client used by S3ContentStore
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ContentStore keeps paste bodies as objects under prefix. Objects are
// never rewritten; a bucket lifecycle rule on the prefix reclaims them.
type S3ContentStore struct {
	client S3API
	bucket string
	prefix string
}

// NewS3ContentStore creates a content store backed by bucket
func NewS3ContentStore(client S3API, bucket, prefix string) *S3ContentStore {
	return &S3ContentStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3ContentStore) objectKey(key string) string {
	return s.prefix + key
}

// Put uploads content under key
func (s *S3ContentStore) Put(ctx context.Context, key, content string) error {
	ctx, span := startDBSpan(ctx, "s3.put", "s3", "PutObject", s.bucket, key)
	defer span.End()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          strings.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("put content %s: %w", key, err)
	}
	return nil
}

// Get downloads the content stored under key
func (s *S3ContentStore) Get(ctx context.Context, key string) (string, error) {
	ctx, span := startDBSpan(ctx, "s3.get", "s3", "GetObject", s.bucket, key)
	defer span.End()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		span.RecordError(err)
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", fmt.Errorf("content %s: %w", key, ErrContentMissing)
		}
		return "", fmt.Errorf("get content %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("read content %s: %w", key, err)
	}
	return string(body), nil
}

// Delete removes the object stored under key
func (s *S3ContentStore) Delete(ctx context.Context, key string) error {
	ctx, span := startDBSpan(ctx, "s3.delete", "s3", "DeleteObject", s.bucket, key)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete content %s: %w", key, err)
	}
	return nil
}

var _ ContentStore = (*S3ContentStore)(nil)
