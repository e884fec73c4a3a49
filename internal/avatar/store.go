// Package avatar persists uploaded avatar images in S3-compatible object
// storage and hands back a stable URL for the user record.
package avatar

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Store is the object-storage boundary consumed by the user service.
type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Config holds S3 connection settings (works with MinIO via BaseEndpoint).
type Config struct {
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	PublicURL    string
}

// ConfigFromEnv reads storage settings from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Region:       os.Getenv("S3_REGION"),
		Bucket:       os.Getenv("S3_BUCKET"),
		AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("S3_SECRET_KEY"),
		BaseEndpoint: os.Getenv("S3_BASE_ENDPOINT"),
		PublicURL:    os.Getenv("S3_PUBLIC_URL"),
	}
}

// S3Store implements Store against an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	public string
}

// NewS3Store builds the S3 client once at startup.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	public := cfg.PublicURL
	if public == "" {
		public = cfg.BaseEndpoint
	}
	return &S3Store{client: client, bucket: cfg.Bucket, public: strings.TrimRight(public, "/")}, nil
}

// StorageKey generates a date-partitioned random object key.
func StorageKey() string {
	d := time.Now()
	return fmt.Sprintf("avatars/%d/%02d/%02d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

// Upload puts the object and returns its public URL.
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        body,
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.public, s.bucket, key), nil
}
