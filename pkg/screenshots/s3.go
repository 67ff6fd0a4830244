package screenshots

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var s3Tracer = otel.Tracer("agentpass/screenshots")

// S3Config configures the S3 screenshot backend. AccessKey/SecretKey are
// optional; without them the default AWS credential chain is used, which
// covers IAM roles and env vars. Endpoint and path-style addressing
// support MinIO for local development.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Store keeps screenshots in an S3 bucket under
// screenshots/sha256/<ab>/<cdef...>.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates the client and ensures the bucket exists.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if err := createBucketIfNotExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) objectKey(ref string) string {
	return fmt.Sprintf("screenshots/sha256/%s/%s", ref[:2], ref[2:])
}

// Put uploads the image under its content hash, skipping the upload when
// the object already exists.
func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	ref := contentRef(data)
	key := s.objectKey(ref)

	ctx, span := s3Tracer.Start(ctx, "S3.PutScreenshot",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.Int("content.size", len(data)),
		),
	)
	defer span.End()

	exists, err := s.exists(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check object existence")
		return "", err
	}
	span.SetAttributes(attribute.Bool("deduplication.hit", exists))
	if exists {
		span.SetStatus(codes.Ok, "screenshot already stored")
		return ref, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload screenshot")
		return "", fmt.Errorf("failed to upload screenshot: %w", err)
	}

	span.SetStatus(codes.Ok, "screenshot uploaded")
	return ref, nil
}

// Get downloads the image for a ref.
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	if _, err := refPath(ref); err != nil {
		return nil, err
	}
	key := s.objectKey(ref)

	ctx, span := s3Tracer.Start(ctx, "S3.GetScreenshot",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get screenshot")
		return nil, fmt.Errorf("failed to get screenshot: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read screenshot body")
		return nil, fmt.Errorf("failed to read screenshot body: %w", err)
	}
	span.SetStatus(codes.Ok, "screenshot retrieved")
	return data, nil
}

// Delete removes the image for a ref.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	if _, err := refPath(ref); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete screenshot: %w", err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no persistent connections.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey"))
}

func isBucketAlreadyExistsError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "BucketAlreadyExists") || strings.Contains(err.Error(), "BucketAlreadyOwnedByYou"))
}
