package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // e.g. https://<account>.r2.cloudflarestorage.com
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

// ObjectStorage turns stored profile image keys into short-lived GET URLs.
type ObjectStorage struct {
	bucket  string
	ttl     time.Duration
	presign *s3.PresignClient
}

func NewObjectStorage(ctx context.Context, sc StorageConfig) (*ObjectStorage, error) {
	if sc.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}
	region := sc.Region
	if region == "" {
		region = "auto"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			sc.AccessKeyID, sc.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := sc.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ObjectStorage{
		bucket:  sc.Bucket,
		ttl:     ttl,
		presign: s3.NewPresignClient(client),
	}, nil
}

// ResolveImageURL presigns an object key. Absolute URLs and empty refs pass through.
func (s *ObjectStorage) ResolveImageURL(ctx context.Context, ref string) (string, error) {
	if ref == "" || IsAbsoluteURL(ref) {
		return ref, nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(ref, "/")),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", ref, err)
	}
	return req.URL, nil
}

func IsAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
