package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

const (
	metadataPrefix = "metadata/"
	maxConcurrent  = 20
	initialBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute
)

// CatalogService keeps the media metadata documents of every kind in memory and
// refreshes them from object storage periodically.
type CatalogService struct {
	logger  *logger.Logger
	config  *config.Config
	storage models.ObjectStorage

	// In-memory cache
	items      map[string][]*models.MediaItem
	cacheMutex sync.RWMutex
	loaded     bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCatalogService(storage models.ObjectStorage, logger *logger.Logger, config *config.Config) *CatalogService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CatalogService{
		logger:  logger,
		config:  config,
		storage: storage,
		items:   make(map[string][]*models.MediaItem),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Refresh reloads every kind and swaps the cache in one step.
func (c *CatalogService) Refresh(ctx context.Context) error {
	fresh := make(map[string][]*models.MediaItem, len(models.MediaKinds))
	for _, kind := range models.MediaKinds {
		items, err := c.fetchKind(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to load %s catalog: %w", kind, err)
		}
		fresh[kind] = items
	}

	c.cacheMutex.Lock()
	c.items = fresh
	c.loaded = true
	c.cacheMutex.Unlock()
	return nil
}

func (c *CatalogService) fetchKind(ctx context.Context, kind string) ([]*models.MediaItem, error) {
	keys, err := c.storage.List(ctx, metadataPrefix+kind+"/")
	if err != nil {
		return nil, err
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	items := make([]*models.MediaItem, 0, len(keys))

	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			var doc map[string]interface{}
			if err := c.storage.GetJSON(ctx, key, &doc); err != nil {
				c.logger.Error("Failed to fetch media metadata", "key", key, "error", err)
				return
			}
			title, _ := doc["title"].(string)
			item := &models.MediaItem{
				Key:       key,
				Kind:      kind,
				Title:     title,
				Metadata:  doc,
				UpdatedAt: time.Now().Unix(),
			}

			mu.Lock()
			items = append(items, item)
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	c.logger.Info("Media catalog loaded", "kind", kind, "items", len(items))
	return items, nil
}

// Items returns the cached documents of one kind.
func (c *CatalogService) Items(kind string) ([]*models.MediaItem, error) {
	known := false
	for _, k := range models.MediaKinds {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		return nil, models.NewValidationError("unknown media kind %q", kind)
	}

	c.cacheMutex.RLock()
	defer c.cacheMutex.RUnlock()
	if !c.loaded {
		return nil, fmt.Errorf("media catalog is not loaded yet")
	}
	items := make([]*models.MediaItem, len(c.items[kind]))
	copy(items, c.items[kind])
	return items, nil
}

// StartPeriodicUpdate loads the catalog, retrying with backoff until the first load
// succeeds, then refreshes it every CatalogRefresh.
func (c *CatalogService) StartPeriodicUpdate() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		backoff := initialBackoff
		for {
			if err := c.Refresh(c.ctx); err != nil {
				c.logger.Error("Failed to load media catalog, retrying", "error", err, "retry_in", backoff)
				select {
				case <-time.After(backoff):
					backoff = min(backoff*2, maxBackoff)
					continue
				case <-c.ctx.Done():
					return
				}
			}
			break
		}

		ticker := time.NewTicker(c.config.CatalogRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Refresh(c.ctx); err != nil {
					c.logger.Error("Failed to refresh media catalog", "error", err)
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

func (c *CatalogService) Stop() {
	c.logger.Info("Stopping catalog service")
	c.cancel()
	c.wg.Wait()
}
