package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

type memoryStorage struct {
	objects map[string]string
	listErr error
}

func (m *memoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryStorage) GetJSON(ctx context.Context, key string, v interface{}) error {
	raw, ok := m.objects[key]
	if !ok {
		return models.ErrNotFound
	}
	return json.Unmarshal([]byte(raw), v)
}

func (m *memoryStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://media.example/" + key, nil
}

func newTestCatalog(store models.ObjectStorage) *CatalogService {
	return NewCatalogService(store, logger.NewNop(), &config.Config{CatalogRefresh: time.Hour})
}

func TestRefreshLoadsEveryKind(t *testing.T) {
	store := &memoryStorage{objects: map[string]string{
		"metadata/music/b.json":    `{"title":"Second","artist":"Theosis"}`,
		"metadata/music/a.json":    `{"title":"First"}`,
		"metadata/music/cover.jpg": `not json`,
		"metadata/video/v.json":    `{"title":"Live"}`,
		"metadata/events/e.json":   `{"title":"Tour","date":"2026-11-01"}`,
		"metadata/events/bad.json": `{`,
	}}
	cat := newTestCatalog(store)
	require.NoError(t, cat.Refresh(context.Background()))

	music, err := cat.Items(models.MediaMusic)
	require.NoError(t, err)
	require.Len(t, music, 2)
	assert.Equal(t, "First", music[0].Title)
	assert.Equal(t, "Theosis", music[1].Metadata["artist"])

	events, err := cat.Items(models.MediaEvents)
	require.NoError(t, err)
	require.Len(t, events, 1, "undecodable documents are skipped")
	assert.Equal(t, models.MediaEvents, events[0].Kind)
}

func TestItemsBeforeLoadAndUnknownKind(t *testing.T) {
	cat := newTestCatalog(&memoryStorage{})

	_, err := cat.Items(models.MediaVideo)
	assert.Error(t, err)

	_, err = cat.Items("podcasts")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestRefreshKeepsPreviousCacheOnError(t *testing.T) {
	store := &memoryStorage{objects: map[string]string{"metadata/video/v.json": `{"title":"Live"}`}}
	cat := newTestCatalog(store)
	require.NoError(t, cat.Refresh(context.Background()))

	store.listErr = errors.New("bucket unavailable")
	assert.Error(t, cat.Refresh(context.Background()))

	video, err := cat.Items(models.MediaVideo)
	require.NoError(t, err)
	assert.Len(t, video, 1)
}

func TestStartAndStop(t *testing.T) {
	store := &memoryStorage{objects: map[string]string{"metadata/music/a.json": `{"title":"First"}`}}
	cat := newTestCatalog(store)
	cat.StartPeriodicUpdate()

	assert.Eventually(t, func() bool {
		items, err := cat.Items(models.MediaMusic)
		return err == nil && len(items) == 1
	}, time.Second, 10*time.Millisecond)
	cat.Stop()
}
