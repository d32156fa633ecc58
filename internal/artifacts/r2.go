package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// R2Config identifies a Cloudflare R2 bucket.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// PublicURL is the public bucket base, e.g. https://pub-xxx.r2.dev.
	PublicURL string
	// Endpoint overrides the account endpoint; used against S3 test servers.
	Endpoint string
}

func (c R2Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

// R2Store writes artifacts to an R2 bucket through its S3 API.
type R2Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewR2Store builds an S3 client for the account endpoint.
func NewR2Store(cfg R2Config) (*R2Store, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("r2: bucket and credentials are required")
	}
	if cfg.AccountID == "" && cfg.Endpoint == "" {
		return nil, errors.New("r2: account id is required")
	}

	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(cfg.endpoint()),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.Endpoint != "",
	})

	return &R2Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Put implements Store.
func (r *R2Store) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("r2 put %s: %w", name, err)
	}
	return r.publicURL + "/" + name, nil
}

// Owns matches public r2.dev URLs, account endpoint URLs and the configured
// public base.
func (r *R2Store) Owns(url string) bool {
	if r.publicURL != "" && strings.HasPrefix(url, r.publicURL+"/") {
		return true
	}
	return strings.Contains(url, ".r2.dev/") || strings.Contains(url, ".r2.cloudflarestorage.com/")
}

// Delete implements Store. The object key is the last URL segment.
func (r *R2Store) Delete(ctx context.Context, url string) error {
	key := baseName(url)
	if key == "" {
		return fmt.Errorf("r2 delete: no object key in %q", url)
	}

	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	var missing *types.NoSuchKey
	if err != nil && !errors.As(err, &missing) {
		return fmt.Errorf("r2 delete %s: %w", key, err)
	}
	return nil
}
