package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local writes objects under a directory; the API serves them back at publicBase.
type Local struct {
	baseDir    string
	publicBase string
}

// NewLocal builds a filesystem-backed store.
func NewLocal(baseDir, publicBase string) *Local {
	if baseDir == "" {
		baseDir = "./objects"
	}
	return &Local{baseDir: baseDir, publicBase: publicBase}
}

// Dir returns the root directory objects are written to.
func (l *Local) Dir() string { return l.baseDir }

func (l *Local) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	key = sanitizeKey(key)
	p := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return joinURL(l.publicBase, key), nil
}
