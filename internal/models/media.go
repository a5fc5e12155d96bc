package models

import (
	"context"
	"time"
)

const (
	MediaMusic  = "music"
	MediaVideo  = "video"
	MediaEvents = "events"
)

var MediaKinds = []string{MediaMusic, MediaVideo, MediaEvents}

// MediaItem is one metadata document from object storage.
type MediaItem struct {
	Key       string                 `json:"key"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	UpdatedAt int64                  `json:"updatedAt"`
}

type ObjectStorage interface {
	List(ctx context.Context, prefix string) ([]string, error)
	GetJSON(ctx context.Context, key string, v interface{}) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type CatalogService interface {
	Items(kind string) ([]*MediaItem, error)
}
