package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/MegaGrindStone/veo-web-ui/internal/services"
)

type previewStore interface {
	Acquire(ctx context.Context, image models.Attachment) (string, error)
	Release(ctx context.Context, url string) error
	Preview(ctx context.Context, id string) (models.Attachment, error)
	Len() int
	Close() error
}

func TestPreviewStores(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) previewStore
	}{
		{
			name: "memory",
			open: func(*testing.T) previewStore { return services.NewMemoryPreviews() },
		},
		{
			name: "bolt",
			open: func(t *testing.T) previewStore {
				s, err := services.NewBoltPreviews(filepath.Join(t.TempDir(), "previews.db"))
				if err != nil {
					t.Fatalf("NewBoltPreviews() error = %v", err)
				}
				return s
			},
		},
	}

	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			s := st.open(t)
			defer s.Close()
			ctx := context.Background()

			img := models.Attachment{Filename: "ref.png", ContentType: "image/png", Data: []byte("png")}
			url, err := s.Acquire(ctx, img)
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			if !strings.HasPrefix(url, services.PreviewPathPrefix) {
				t.Fatalf("Acquire() = %q, want prefix %q", url, services.PreviewPathPrefix)
			}

			other, err := s.Acquire(ctx, img)
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}
			if other == url {
				t.Error("Acquire() returned the same reference twice")
			}
			if s.Len() != 2 {
				t.Errorf("Len() = %d, want 2", s.Len())
			}

			id := strings.TrimPrefix(url, services.PreviewPathPrefix)
			got, err := s.Preview(ctx, id)
			if err != nil {
				t.Fatalf("Preview() error = %v", err)
			}
			if got.Filename != "ref.png" || got.ContentType != "image/png" || string(got.Data) != "png" {
				t.Errorf("Preview() = %+v, want %+v", got, img)
			}

			if err := s.Release(ctx, url); err != nil {
				t.Fatalf("Release() error = %v", err)
			}
			if _, err := s.Preview(ctx, id); !errors.Is(err, services.ErrPreviewNotFound) {
				t.Errorf("Preview() after Release error = %v, want ErrPreviewNotFound", err)
			}
			if s.Len() != 1 {
				t.Errorf("Len() = %d, want 1", s.Len())
			}

			// Releasing twice, or releasing something that was never acquired, is a no-op.
			if err := s.Release(ctx, url); err != nil {
				t.Errorf("second Release() error = %v", err)
			}
			if err := s.Release(ctx, "https://example.com/elsewhere"); err != nil {
				t.Errorf("Release() of a foreign url error = %v", err)
			}
		})
	}
}

func TestMemoryPreviewsCopiesData(t *testing.T) {
	s := services.NewMemoryPreviews()
	data := []byte("abc")

	url, err := s.Acquire(context.Background(), models.Attachment{Data: data})
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'x'

	got, err := s.Preview(context.Background(), strings.TrimPrefix(url, services.PreviewPathPrefix))
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "abc" {
		t.Errorf("Preview() data = %q, want abc", got.Data)
	}
}

func TestBoltPreviewsStartFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "previews.db")

	first, err := services.NewBoltPreviews(path)
	if err != nil {
		t.Fatal(err)
	}
	url, err := first.Acquire(context.Background(), models.Attachment{Data: []byte("a")})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := services.NewBoltPreviews(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if second.Len() != 0 {
		t.Errorf("Len() = %d, want 0", second.Len())
	}
	id := strings.TrimPrefix(url, services.PreviewPathPrefix)
	if _, err := second.Preview(context.Background(), id); !errors.Is(err, services.ErrPreviewNotFound) {
		t.Errorf("Preview() error = %v, want ErrPreviewNotFound", err)
	}
}
