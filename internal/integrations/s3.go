package integrations

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"foire/backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client archives rendered ticket images in an S3 compatible bucket.
type S3Client struct {
	bucket         string
	publicEndpoint string
	client         *s3.Client
	presign        *s3.PresignClient
}

// NewS3 creates the client. An empty bucket is a configuration error.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	publicEndpoint := normalizeEndpoint(cfg.PublicEndpoint, cfg.UseSSL)
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	options := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
	}

	client := s3.New(options)
	return &S3Client{
		bucket:         cfg.Bucket,
		publicEndpoint: publicEndpoint,
		client:         client,
		presign:        s3.NewPresignClient(client),
	}, nil
}

// UploadObject stores body under key and returns its public URL.
func (s *S3Client) UploadObject(ctx context.Context, key, contentType string, body []byte) (string, error) {
	key = ObjectKey(key)
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	return PublicURL(s.publicEndpoint, s.bucket, key), nil
}

// PresignGetObject returns a short lived download link for a private bucket.
func (s *S3Client) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	resp, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ObjectKey(key)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

// ObjectKey cleans a caller supplied key.
func ObjectKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, " ", "-")
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "." {
		return ""
	}
	return key
}

// PublicURL builds the path-style URL of an object.
func PublicURL(publicEndpoint, bucket, key string) string {
	if publicEndpoint == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, key)
	}

	endpoint := publicEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", endpoint, bucket, key)
	}
	u.Path = path.Join(u.Path, bucket, key)
	return u.String()
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}
