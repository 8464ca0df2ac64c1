package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"brand-asset-orchestrator/internal/config"
)

type s3Store struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

func newS3Store(ctx context.Context, cfg config.Config) (*s3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})

	base := cfg.ObjectPublicBaseURL
	if base == "" {
		switch {
		case cfg.S3Endpoint != "" && cfg.S3PathStyle:
			base = joinURL(cfg.S3Endpoint, cfg.ObjectBucket)
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.ObjectBucket, cfg.S3Region)
		}
	}
	return &s3Store{client: client, bucket: cfg.ObjectBucket, publicBase: base}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return joinURL(s.publicBase, key), nil
}
