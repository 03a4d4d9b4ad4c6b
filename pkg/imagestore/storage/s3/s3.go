// Package s3 implements imagestore.BlobRepository on an S3-compatible
// bucket, with object keys named {guid}.{format}.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/gofr-lab/gplot/pkg/imagestore"
)

// Config options for the S3 blob repository
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Repository is an S3-compatible implementation of
// imagestore.BlobRepository. S3 puts are already atomic per key, so no
// temp-object dance is needed; a failed put leaves no readable object.
type Repository struct {
	client *s3.Client
	bucket string
	config Config
}

var _ imagestore.BlobRepository = (*Repository)(nil)

// New creates a new S3-compatible blob repository
func New(config Config) (*Repository, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	repo := &Repository{
		client: s3.NewFromConfig(awsCfg, s3Options...),
		bucket: config.Bucket,
		config: config,
	}

	if config.CreateBucketIfNotExist {
		if err := repo.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return repo, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (r *Repository) createBucketIfNotExists(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO and AWS disagree on the error shape for a missing bucket.
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(r.bucket),
	}
	if r.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.config.Region),
		}
	}

	_, err = r.client.CreateBucket(ctx, createInput)
	if err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func key(guid, format string) string {
	return fmt.Sprintf("%s.%s", guid, format)
}

func (r *Repository) Save(ctx context.Context, guid, format string, data []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key(guid, format)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(imagestore.FormatContentType(format)),
	})
	if err != nil {
		return &imagestore.StorageError{Op: "save", Key: guid, Err: err}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, guid, format string) ([]byte, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key(guid, format)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, imagestore.ErrImageNotFound
		}
		return nil, &imagestore.StorageError{Op: "get", Key: guid, Err: err}
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, &imagestore.StorageError{Op: "get", Key: guid, Err: err}
	}
	return data, nil
}

func (r *Repository) Exists(ctx context.Context, guid string) (bool, error) {
	format, err := r.DetectFormat(ctx, guid)
	if err != nil {
		return false, err
	}
	return format != "", nil
}

func (r *Repository) Delete(ctx context.Context, guid, format string) (bool, error) {
	formats := []string{format}
	if format == "" {
		formats = imagestore.SupportedFormats
	}

	deleted := false
	for _, f := range formats {
		exists, err := r.head(ctx, guid, f)
		if err != nil {
			return deleted, err
		}
		if !exists {
			continue
		}
		_, err = r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key(guid, f)),
		})
		if err != nil {
			return deleted, &imagestore.StorageError{Op: "delete", Key: guid, Err: err}
		}
		deleted = true
	}
	return deleted, nil
}

func (r *Repository) ListAll(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &imagestore.StorageError{Op: "list", Key: r.bucket, Err: err}
		}
		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}
			if guid, ok := parseObjectKey(*object.Key); ok {
				seen[guid] = struct{}{}
			}
		}
	}

	guids := make([]string, 0, len(seen))
	for guid := range seen {
		guids = append(guids, guid)
	}
	return guids, nil
}

func (r *Repository) DetectFormat(ctx context.Context, guid string) (string, error) {
	for _, format := range imagestore.SupportedFormats {
		exists, err := r.head(ctx, guid, format)
		if err != nil {
			return "", err
		}
		if exists {
			return format, nil
		}
	}
	return "", nil
}

func (r *Repository) ModTime(ctx context.Context, guid, format string) (time.Time, error) {
	result, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key(guid, format)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return time.Time{}, imagestore.ErrImageNotFound
		}
		return time.Time{}, &imagestore.StorageError{Op: "mod_time", Key: guid, Err: err}
	}
	if result.LastModified == nil {
		return time.Time{}, nil
	}
	return *result.LastModified, nil
}

func (r *Repository) head(ctx context.Context, guid, format string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key(guid, format)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, &imagestore.StorageError{Op: "head", Key: guid, Err: err}
	}
	return true, nil
}

// parseObjectKey extracts the GUID from an object key, requiring a canonical
// UUID stem and a recognized extension.
func parseObjectKey(objectKey string) (string, bool) {
	idx := strings.LastIndexByte(objectKey, '.')
	if idx <= 0 {
		return "", false
	}
	format := objectKey[idx+1:]
	supported := false
	for _, known := range imagestore.SupportedFormats {
		if format == known {
			supported = true
			break
		}
	}
	if !supported {
		return "", false
	}
	stem := objectKey[:idx]
	if _, err := uuid.Parse(stem); err != nil {
		return "", false
	}
	return stem, true
}
