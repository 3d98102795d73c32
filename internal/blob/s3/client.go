// Package s3blob implements the domain blob interfaces on S3-compatible
// object storage. The monitor uses it as the archive tier: alert history and
// book snapshots land here as JSONL objects, partitioned by day.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds connection parameters for an S3-compatible store.
// Standard AWS S3 needs only Region, Bucket, and the key pair; compatible
// providers (MinIO, R2, iDrive e2) additionally set Endpoint and usually
// ForcePathStyle.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. Leave
	// empty for standard AWS S3. A bare host is accepted; UseSSL then picks
	// the scheme.
	Endpoint string

	// Region is the AWS region or the provider's equivalent.
	Region string

	// Bucket receives every archive object.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL selects https when Endpoint carries no scheme.
	UseSSL bool

	// ForcePathStyle addresses the bucket in the path instead of the
	// subdomain, which most S3-compatible providers require.
	ForcePathStyle bool
}

// Client wraps the AWS SDK client plus the archive bucket name. The reader
// and writer types in this package build on it.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds an S3 client for the configured bucket. Connectivity is not
// verified here; call Health to probe the bucket.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies the bucket exists and the credentials can reach it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// Close releases nothing today; the SDK's HTTP client needs no teardown.
// It exists so the wiring can treat every backend uniformly.
func (c *Client) Close() error {
	return nil
}

// S3 exposes the raw SDK client to the reader and writer in this package.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends https:// or http:// to a bare endpoint host. An
// endpoint that already names a scheme passes through untouched.
func withScheme(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
