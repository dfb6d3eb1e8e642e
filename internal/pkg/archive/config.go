package archive

import (
	"errors"
	"fmt"
	"path"

	"github.com/fieldfox/FieldFox/internal/pkg/env"
)

// Config holds attachment archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("ARCHIVE_S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("ARCHIVE_S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("ARCHIVE_S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("ARCHIVE_ENABLED", "false") == "true",
	}

	// Validate required fields if archiving is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID is required when archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("ARCHIVE_S3_SECRET_ACCESS_KEY is required when archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("ARCHIVE_S3_BUCKET_NAME is required when archiving is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if attachment archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetObjectKey generates a standardized object key for an attachment.
// Format: attachments/<company-uuid>/<attachment-uuid><ext>
func (c *Config) GetObjectKey(companyUUID, attachmentUUID, fileName string) string {
	return fmt.Sprintf("attachments/%s/%s%s", companyUUID, attachmentUUID, path.Ext(fileName))
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}

// GetBucketName returns the bucket name as configured
func (c *Config) GetBucketName() string {
	return c.BucketName
}
