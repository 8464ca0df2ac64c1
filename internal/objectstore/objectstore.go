package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"brand-asset-orchestrator/internal/config"
)

// Store uploads binary objects and returns a publicly resolvable URL.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// New chooses a backend from config: "s3", "gcs" or "local".
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(cfg.ObjectStore) {
	case "s3":
		if cfg.ObjectBucket == "" {
			return nil, errors.New("OBJECT_STORE=s3 requires OBJECT_BUCKET")
		}
		return newS3Store(ctx, cfg)
	case "gcs":
		if cfg.ObjectBucket == "" {
			return nil, errors.New("OBJECT_STORE=gcs requires OBJECT_BUCKET")
		}
		return newGCSStore(ctx, cfg)
	case "local", "":
		base := cfg.ObjectPublicBaseURL
		if base == "" {
			base = strings.TrimRight(cfg.APIBaseURL, "/") + "/objects"
		}
		return NewLocal(cfg.LocalObjectDir, base), nil
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStore)
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// UploadKey namespaces an object under the owning user and a millisecond
// timestamp so repeated uploads of the same file never collide.
func UploadKey(userID, filename string, now time.Time) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "upload"
	}
	return path.Join(unsafeChars.ReplaceAllString(userID, "_"), fmt.Sprintf("%d-%s", now.UnixMilli(), name))
}

func sanitizeKey(key string) string {
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
