package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/metrics"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltPreviews keeps staged image previews in a BoltDB file instead of the heap, so long sessions
// with many staged images do not pin their bytes in memory. The file is scratch space: it is
// recreated when the store is opened and removed when it is closed.
type BoltPreviews struct {
	db   *bolt.DB
	path string
}

var previewsBucket = []byte("previews")

// NewBoltPreviews creates a BoltPreviews backed by a fresh database at path. Any file already at path
// is discarded. The database file is created with 0600 permissions.
func NewBoltPreviews(path string) (BoltPreviews, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return BoltPreviews{}, fmt.Errorf("failed to remove stale preview db: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltPreviews{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(previewsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltPreviews{}, fmt.Errorf("failed to create previews bucket: %w", err)
	}

	return BoltPreviews{db: db, path: path}, nil
}

// Acquire stores image and returns the URL its preview is served at. The id combines the bucket
// sequence with a random UUID.
func (b BoltPreviews) Acquire(_ context.Context, image models.Attachment) (string, error) {
	var id string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(previewsBucket)
		if bucket == nil {
			return errors.New("previews bucket is missing")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		id = fmt.Sprintf("%d-%s", seq, newPreviewID())

		v, err := json.Marshal(image)
		if err != nil {
			return fmt.Errorf("failed to marshal preview: %w", err)
		}

		return bucket.Put([]byte(id), v)
	})
	if err != nil {
		return "", err
	}

	metrics.PreviewsStored.Inc()
	return previewURL(id), nil
}

// Release deletes the preview at url. Releasing an unknown preview is a no-op.
func (b BoltPreviews) Release(_ context.Context, url string) error {
	id, ok := previewID(url)
	if !ok {
		return nil
	}

	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(previewsBucket)
		if bucket == nil {
			return nil
		}
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete preview: %w", err)
	}

	if found {
		metrics.PreviewsStored.Dec()
	}
	return nil
}

// Preview returns the image stored under id.
func (b BoltPreviews) Preview(_ context.Context, id string) (models.Attachment, error) {
	var image models.Attachment
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(previewsBucket)
		if bucket == nil {
			return ErrPreviewNotFound
		}

		v := bucket.Get([]byte(id))
		if v == nil {
			return ErrPreviewNotFound
		}

		if err := json.Unmarshal(v, &image); err != nil {
			return fmt.Errorf("failed to unmarshal preview: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Attachment{}, err
	}
	return image, nil
}

// Len returns the number of previews held.
func (b BoltPreviews) Len() int {
	n := 0
	_ = b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(previewsBucket)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n
}

// Close closes the database and removes its file.
func (b BoltPreviews) Close() error {
	n := b.Len()
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt db: %w", err)
	}
	metrics.PreviewsStored.Sub(float64(n))

	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove preview db: %w", err)
	}
	return nil
}
