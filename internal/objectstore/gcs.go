package objectstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"brand-asset-orchestrator/internal/config"
)

type gcsStore struct {
	client     *storage.Client
	bucket     string
	publicBase string
}

func newGCSStore(ctx context.Context, cfg config.Config) (*gcsStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	base := cfg.ObjectPublicBaseURL
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.ObjectBucket
	}
	return &gcsStore{client: client, bucket: cfg.ObjectBucket, publicBase: base}, nil
}

func (g *gcsStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object writer: %w", err)
	}
	return joinURL(g.publicBase, key), nil
}
