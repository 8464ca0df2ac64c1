package models

import (
	"strings"
	"time"
)

// JobKind identifies one of the asynchronous pipelines handled by the external worker.
type JobKind string

const (
	KindGeneration   JobKind = "generation"
	KindSegmentation JobKind = "segmentation"
	KindQualityCheck JobKind = "quality_check"
	KindCanvasLayer  JobKind = "canvas_layer"
)

// StatusGenerating is the pending marker every job record starts with.
const StatusGenerating = "generating"

// ParseKind accepts both the underscore form and the URL slug form ("quality-check").
func ParseKind(s string) (JobKind, bool) {
	k := JobKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := policies[k]; !ok {
		return "", false
	}
	return k, true
}

// Slug renders the kind for use in URL paths.
func (k JobKind) Slug() string {
	return strings.ReplaceAll(string(k), "_", "-")
}

// JobRecord is one row of a per-kind job table. The result fields are only
// ever written by the external worker.
type JobRecord struct {
	ID          string         `json:"id"`
	Kind        JobKind        `json:"kind"`
	UserID      string         `json:"user_id"`
	BrandID     *string        `json:"brand_id,omitempty"`
	Status      string         `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	ResultURL   *string        `json:"result_url,omitempty"`
	ResultItems []string       `json:"result_items,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Brand is a brand owned by a user; jobs may reference one.
type Brand struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Rectangle is a pixel rectangle [x1, y1, x2, y2] on a canvas image.
type Rectangle [4]int

// Valid reports whether the rectangle is non-negative and non-empty.
func (r Rectangle) Valid() bool {
	return r[0] >= 0 && r[1] >= 0 && r[2] > r[0] && r[3] > r[1]
}

// JobChange is a change-feed event for a job record update.
type JobChange struct {
	Kind   JobKind `json:"kind"`
	ID     string  `json:"id"`
	Status string  `json:"status"`
}
