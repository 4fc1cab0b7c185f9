package library

import (
	"testing"
	"time"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{BaseURL: "http://deck.local/", Now: func() time.Time { return fixedNow }}
}

func TestNormalizeWellFormed(t *testing.T) {
	got := testNormalizer().Normalize([]store.Record{{
		"id":            "a1",
		"filename":      "cat.JPG",
		"size_bytes":    float64(2048),
		"source":        "reddit",
		"created_at":    "2024-03-09T14:05:00Z",
		"thumbnail_url": "https://cdn.example/t/a1.jpg",
	}})
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	a := got[0]
	want := model.Asset{
		ID:           "a1",
		Filename:     "cat.JPG",
		MediaType:    model.MediaImage,
		SizeBytes:    2048,
		Source:       "reddit",
		CreatedAt:    time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC),
		ThumbnailRef: "https://cdn.example/t/a1.jpg",
		ViewRef:      "http://deck.local/api/assets/a1/view",
		DownloadRef:  "http://deck.local/api/assets/a1/download",
	}
	if !a.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, want.CreatedAt)
	}
	a.CreatedAt = want.CreatedAt
	if a != want {
		t.Errorf("asset =\n%+v\nwant\n%+v", a, want)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	records := []store.Record{
		// no id, name under an alias, size as a string, unix seconds
		{"name": "clip.mp4", "size": "1024", "timestamp": float64(1700000000)},
		// numeric id, path only, negative size, source object
		{"_id": float64(42), "path": "/media/sub/photo.webp", "file_size": float64(-5),
			"source": map[string]any{"name": "imgur"}},
		// nothing usable at all
		{"id": "", "size": "huge", "created_at": "yesterday-ish"},
		// explicit type beats extension, mime considered next
		{"id": "x", "filename": "thing.bin", "type": "video"},
		{"id": "y", "filename": "thing.bin", "mimeType": "image/png"},
		// millisecond timestamp
		{"id": "z", "createdAt": float64(1700000000000)},
	}
	got := testNormalizer().Normalize(records)
	if len(got) != len(records) {
		t.Fatalf("len = %d, want %d", len(got), len(records))
	}

	if got[0].ID != "asset_0" || got[0].Filename != "clip.mp4" || got[0].MediaType != model.MediaVideo {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[0].SizeBytes != 1024 {
		t.Errorf("record 0 size = %d, want 1024", got[0].SizeBytes)
	}
	if !got[0].CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("record 0 created = %v", got[0].CreatedAt)
	}

	if got[1].ID != "42" || got[1].Filename != "photo.webp" || got[1].MediaType != model.MediaImage {
		t.Errorf("record 1 = %+v", got[1])
	}
	if got[1].SizeBytes != 0 || got[1].Source != "imgur" {
		t.Errorf("record 1 size/source = %d/%q", got[1].SizeBytes, got[1].Source)
	}

	if got[2].ID != "asset_2" || got[2].Filename != "asset_2" || got[2].MediaType != model.MediaOther {
		t.Errorf("record 2 = %+v", got[2])
	}
	if got[2].SizeBytes != 0 || !got[2].CreatedAt.Equal(fixedNow) {
		t.Errorf("record 2 defaults = %d %v", got[2].SizeBytes, got[2].CreatedAt)
	}
	if got[2].DownloadRef != "http://deck.local/api/assets/asset_2/download" {
		t.Errorf("record 2 DownloadRef = %q", got[2].DownloadRef)
	}

	if got[3].MediaType != model.MediaVideo {
		t.Errorf("record 3 type = %q, want video", got[3].MediaType)
	}
	if got[4].MediaType != model.MediaImage || got[4].MimeType != "image/png" {
		t.Errorf("record 4 = %+v", got[4])
	}
	if !got[5].CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("record 5 created = %v", got[5].CreatedAt)
	}
}

func TestNormalizeKeepsOrderAndDropsDuplicates(t *testing.T) {
	got := testNormalizer().Normalize([]store.Record{
		{"id": "b", "filename": "first.jpg"},
		{"id": "a"},
		{"id": "b", "filename": "second.jpg"},
	})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("got %+v", got)
	}
	if got[0].Filename != "first.jpg" {
		t.Errorf("duplicate replaced the first record: %q", got[0].Filename)
	}
}

func TestNormalizeEscapesRefs(t *testing.T) {
	got := testNormalizer().Normalize([]store.Record{{"id": "a b/c"}})
	if got[0].ThumbnailRef != "http://deck.local/api/assets/a%20b%2Fc/thumbnail" {
		t.Errorf("ThumbnailRef = %q", got[0].ThumbnailRef)
	}
}
