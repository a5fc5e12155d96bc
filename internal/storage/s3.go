package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

// Swapped in tests.
var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
	newS3PresignClient    = s3.NewPresignClient
)

type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Storage reads media metadata and presigns media downloads. Clients are built on
// first use so a missing S3_BUCKET only fails storage requests.
type S3Storage struct {
	logger *logger.Logger
	config *config.Config

	mu      sync.Mutex
	client  objectAPI
	presign *s3.PresignClient
}

func NewS3Storage(config *config.Config, logger *logger.Logger) *S3Storage {
	return &S3Storage{config: config, logger: logger}
}

func (s *S3Storage) clients(ctx context.Context) (objectAPI, *s3.PresignClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, s.presign, nil
	}
	if s.config.S3Bucket == "" {
		return nil, nil, models.MissingSetting("S3_BUCKET")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.config.S3Region)}
	if s.config.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3AccessKeyID,
			s.config.S3SecretAccessKey,
			"",
		)))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	s.client = client
	s.presign = newS3PresignClient(client)
	return s.client, s.presign, nil
}

// List returns every object key under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	client, _, err := s.clients(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.S3Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// GetJSON decodes the object at key into v.
func (s *S3Storage) GetJSON(ctx context.Context, key string, v interface{}) error {
	client, _, err := s.clients(ctx)
	if err != nil {
		return err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := json.NewDecoder(out.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time limited download URL for key.
func (s *S3Storage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	_, presign, err := s.clients(ctx)
	if err != nil {
		return "", err
	}

	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
