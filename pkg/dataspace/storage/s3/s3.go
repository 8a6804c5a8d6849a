package s3

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
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Optional key prefix for every resource
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the dataspace.ResourceStore interface.
// Create relies on conditional writes (If-None-Match: *), which AWS S3 and
// recent MinIO releases support.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	config   Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
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

	client := s3.NewFromConfig(awsCfg, s3Options...)
	backend := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		prefix:   strings.Trim(config.Prefix, "/"),
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) && apiErrorCode(err) != "BadRequest" {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		switch apiErrorCode(err) {
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return nil
		}
		return err
	}
	return nil
}

// Put creates or replaces a resource
func (b *Backend) Put(ctx context.Context, resource string, data []byte) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(resource)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(dataspace.EventContentType),
	})
	if err != nil {
		return mapError("put", resource, err)
	}
	return nil
}

// Create writes a new resource only if the key is unused
func (b *Backend) Create(ctx context.Context, resource string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(resource)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(dataspace.EventContentType),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return mapError("create", resource, err)
	}
	return nil
}

// Get downloads a resource
func (b *Backend) Get(ctx context.Context, resource string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(resource)),
	})
	if err != nil {
		return nil, mapError("get", resource, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", resource, err)
	}
	return data, nil
}

// List pages through every key below container
func (b *Backend) List(ctx context.Context, container string) ([]string, error) {
	prefix := b.key(container) + "/"
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError("list", container, err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, b.resource(aws.ToString(obj.Key)))
		}
	}
	return ids, nil
}

// Delete removes a resource. S3 deletes are idempotent, so existence is
// checked first.
func (b *Backend) Delete(ctx context.Context, resource string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(resource)),
	})
	if err != nil {
		return mapError("delete", resource, err)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(resource)),
	})
	if err != nil {
		return mapError("delete", resource, err)
	}
	return nil
}

func (b *Backend) key(resource string) string {
	resource = strings.Trim(resource, "/")
	if b.prefix == "" {
		return resource
	}
	return b.prefix + "/" + resource
}

func (b *Backend) resource(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.prefix+"/")
}

// mapError translates S3 API errors into the dataspace storage sentinels.
func mapError(op, resource string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return fmt.Errorf("%s %s: %w", op, resource, dataspace.ErrResourceNotFound)
	}

	switch apiErrorCode(err) {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%s %s: %w", op, resource, dataspace.ErrResourceNotFound)
	case "PreconditionFailed", "ConditionalRequestConflict":
		return fmt.Errorf("%s %s: %w", op, resource, dataspace.ErrResourceExists)
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return fmt.Errorf("%s %s: %w: %v", op, resource, dataspace.ErrStorageForbidden, err)
	}
	return fmt.Errorf("failed to %s %s in S3: %w", op, resource, err)
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
