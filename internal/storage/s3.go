// Package storage uploads exported resumes to S3-compatible object storage
// (AWS S3, Cloudflare R2, MinIO).
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

// ErrNotConfigured is returned when uploads are requested without a bucket.
var ErrNotConfigured = errors.New("export storage is not configured")

// Config holds the object storage settings.
type Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // R2 / MinIO
	AccessKey    string `json:"-" yaml:"-"`
	SecretKey    string `json:"-" yaml:"-"`
	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// ConfigFromEnv reads EXPORT_BUCKET, EXPORT_PREFIX, S3_REGION, S3_ENDPOINT,
// S3_ACCESS_KEY, S3_SECRET_KEY and S3_PATH_STYLE.
func ConfigFromEnv() Config {
	region := os.Getenv("S3_REGION")
	if region == "" {
		region = "auto"
	}
	return Config{
		Bucket:       os.Getenv("EXPORT_BUCKET"),
		Region:       region,
		Endpoint:     os.Getenv("S3_ENDPOINT"),
		AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("S3_SECRET_KEY"),
		Prefix:       os.Getenv("EXPORT_PREFIX"),
		UsePathStyle: strings.EqualFold(os.Getenv("S3_PATH_STYLE"), "true"),
	}
}

// Uploader stores an exported file and returns its object key.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes objects to one bucket under a key prefix.
type S3Uploader struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// New builds an S3 client from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*S3Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client PutObjectAPI, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Upload stores data under <prefix>/<ulid>/<name>.
func (u *S3Uploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := path.Join(u.prefix, ulid.Make().String(), path.Base(name))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(u.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType),
		ContentLength:      aws.Int64(int64(len(data))),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", path.Base(name))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}
