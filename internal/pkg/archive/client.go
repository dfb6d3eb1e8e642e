package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// Client wraps the S3 client with attachment-archive functionality
type Client struct {
	s3Client *s3.Client
	config   *Config
}

// NewClient creates a new archive client
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("attachment archiving is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible endpoints need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := &Client{
		s3Client: s3Client,
		config:   cfg,
	}

	if err := client.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to archive storage: %w", err)
	}

	log.Infof("[Archive] Successfully initialized archive client for bucket: %s", cfg.GetBucketName())
	return client, nil
}

// testConnection checks if the archive bucket is reachable
func (c *Client) testConnection() error {
	ctx := context.Background()
	bucketName := c.config.GetBucketName()

	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})

	if err != nil {
		// If bucket doesn't exist, try to create it (for development)
		if GetAppEnv() != "prod" {
			log.Warnf("[Archive] Bucket %s not found, attempting to create it", bucketName)
			return c.createBucket(bucketName)
		}
		return fmt.Errorf("bucket %s not accessible: %w", bucketName, err)
	}

	return nil
}

// createBucket creates a new bucket (dev/staging only)
func (c *Client) createBucket(bucketName string) error {
	ctx := context.Background()

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}

	// AWS regions other than us-east-1 need an explicit location constraint;
	// S3-compatible endpoints must not get one.
	if c.config.EndpointURL == "" && c.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.config.Region),
		}
	}

	_, err := c.s3Client.CreateBucket(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}

	log.Infof("[Archive] Successfully created bucket: %s", bucketName)
	return nil
}

// ArchiveResult contains the result of a successful archive upload
type ArchiveResult struct {
	BucketName  string
	ObjectKey   string
	Size        int64
	ContentType string
}

// ArchiveObject stores an attachment body under the given key. The body is
// buffered in memory so the upload can carry an exact content length.
func (c *Client) ArchiveObject(ctx context.Context, objectKey, contentType string, body io.Reader) (*ArchiveResult, error) {
	bucketName := c.config.GetBucketName()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	log.Infof("[Archive] Starting upload: s3://%s/%s (Size: %d bytes)", bucketName, objectKey, len(data))

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"upload-source": "fieldfox-archive",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to archive: %w", err)
	}

	result := &ArchiveResult{
		BucketName:  bucketName,
		ObjectKey:   objectKey,
		Size:        int64(len(data)),
		ContentType: contentType,
	}

	log.Infof("[Archive] Successfully uploaded: s3://%s/%s", bucketName, objectKey)
	return result, nil
}

// FetchObject retrieves an archived attachment. The caller must close the
// returned body.
func (c *Client) FetchObject(ctx context.Context, objectKey string) (io.ReadCloser, string, error) {
	bucketName := c.config.GetBucketName()

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object from archive: %w", err)
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return result.Body, contentType, nil
}

// DeleteObject removes an archived attachment
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	bucketName := c.config.GetBucketName()

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from archive: %w", err)
	}

	log.Infof("[Archive] Successfully deleted: s3://%s/%s", bucketName, objectKey)
	return nil
}

// ObjectExists checks if an object exists in the archive
func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	bucketName := c.config.GetBucketName()

	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}
