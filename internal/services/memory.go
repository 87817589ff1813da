package services

import (
	"context"
	"slices"
	"sync"

	"github.com/MegaGrindStone/veo-web-ui/internal/metrics"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
)

// MemoryPreviews keeps staged image previews on the heap until they are released.
type MemoryPreviews struct {
	mu       sync.RWMutex
	previews map[string]models.Attachment
}

// NewMemoryPreviews creates an empty MemoryPreviews.
func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{
		previews: make(map[string]models.Attachment),
	}
}

// Acquire stores a copy of image and returns the URL its preview is served at.
func (m *MemoryPreviews) Acquire(_ context.Context, image models.Attachment) (string, error) {
	image.Data = slices.Clone(image.Data)
	id := newPreviewID()

	m.mu.Lock()
	m.previews[id] = image
	m.mu.Unlock()

	metrics.PreviewsStored.Inc()
	return previewURL(id), nil
}

// Release frees the preview at url. Releasing an unknown preview is a no-op.
func (m *MemoryPreviews) Release(_ context.Context, url string) error {
	id, ok := previewID(url)
	if !ok {
		return nil
	}

	m.mu.Lock()
	_, found := m.previews[id]
	delete(m.previews, id)
	m.mu.Unlock()

	if found {
		metrics.PreviewsStored.Dec()
	}
	return nil
}

// Preview returns the image stored under id.
func (m *MemoryPreviews) Preview(_ context.Context, id string) (models.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	image, ok := m.previews[id]
	if !ok {
		return models.Attachment{}, ErrPreviewNotFound
	}
	return image, nil
}

// Len returns the number of previews held.
func (m *MemoryPreviews) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.previews)
}

// Close frees every preview.
func (m *MemoryPreviews) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.PreviewsStored.Sub(float64(len(m.previews)))
	clear(m.previews)
	return nil
}
