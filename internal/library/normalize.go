package library

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

// Field aliases seen across backends, most specific first.
var (
	idKeys        = []string{"id", "_id", "asset_id", "assetId", "uuid"}
	filenameKeys  = []string{"filename", "file_name", "fileName", "name", "original_name", "title"}
	pathKeys      = []string{"path", "file_path", "filePath", "url"}
	typeKeys      = []string{"media_type", "mediaType", "type", "asset_type", "kind"}
	mimeKeys      = []string{"mime_type", "mimeType", "content_type", "contentType"}
	sizeKeys      = []string{"size_bytes", "sizeBytes", "size", "file_size", "file_size_bytes", "bytes"}
	sourceKeys    = []string{"source", "source_name", "sourceName", "provider", "origin"}
	createdKeys   = []string{"created_at", "createdAt", "downloaded_at", "downloadedAt", "timestamp", "date"}
	thumbnailKeys = []string{"thumbnail_url", "thumbnailUrl", "thumbnail", "thumb_url"}
	viewKeys      = []string{"view_url", "viewUrl", "url"}
	downloadKeys  = []string{"download_url", "downloadUrl"}
)

// Normalizer is the single place raw store records become model.Asset.
type Normalizer struct {
	// BaseURL prefixes derived thumbnail/view/download refs.
	BaseURL string
	Now     func() time.Time
}

// Normalize maps records in order. Records repeating an earlier id are dropped.
func (n *Normalizer) Normalize(records []store.Record) []model.Asset {
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}

	out := make([]model.Asset, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		a := n.normalizeOne(i, rec, now)
		if _, dup := seen[a.ID]; dup {
			slog.Warn("dropping duplicate asset record", "id", a.ID, "index", i)
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (n *Normalizer) normalizeOne(i int, rec store.Record, now time.Time) model.Asset {
	a := model.Asset{ID: firstString(rec, idKeys)}
	if a.ID == "" {
		a.ID = fmt.Sprintf("asset_%d", i)
	}

	a.Filename = firstString(rec, filenameKeys)
	if a.Filename == "" {
		if p := firstString(rec, pathKeys); p != "" {
			a.Filename = baseName(p)
		}
	}
	if a.Filename == "" {
		a.Filename = a.ID
	}

	a.MimeType = firstString(rec, mimeKeys)
	a.MediaType = mediaTypeOf(rec, a.Filename, a.MimeType)

	for _, k := range sizeKeys {
		if v, ok := rec[k]; ok && v != nil {
			if size, err := cast.ToInt64E(v); err == nil && size > 0 {
				a.SizeBytes = size
			}
			break
		}
	}

	a.Source = sourceOf(rec)
	a.CreatedAt = createdAtOf(rec, now)

	escaped := url.PathEscape(a.ID)
	base := strings.TrimRight(n.BaseURL, "/") + "/api/assets/" + escaped
	a.ThumbnailRef = firstStringOr(rec, thumbnailKeys, base+"/thumbnail")
	a.ViewRef = firstStringOr(rec, viewKeys, base+"/view")
	a.DownloadRef = firstStringOr(rec, downloadKeys, base+"/download")
	return a
}

func mediaTypeOf(rec store.Record, filename, mimeType string) model.MediaType {
	if mt, ok := model.ParseMediaType(firstString(rec, typeKeys)); ok {
		return mt
	}
	if mt, ok := model.ParseMediaType(mimeType); ok {
		return mt
	}
	return model.MediaTypeFromFilename(filename)
}

func sourceOf(rec store.Record) string {
	for _, k := range sourceKeys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			if s := firstString(store.Record(m), []string{"name", "id", "slug"}); s != "" {
				return s
			}
			continue
		}
		if s, err := cast.ToStringE(v); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func createdAtOf(rec store.Record, now time.Time) time.Time {
	for _, k := range createdKeys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return unixTime(int64(t))
		case int64:
			return unixTime(t)
		case int:
			return unixTime(int64(t))
		}
		if ts, err := cast.ToTimeE(v); err == nil && !ts.IsZero() {
			return ts
		}
	}
	return now
}

// unixTime accepts seconds or milliseconds.
func unixTime(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func firstString(rec store.Record, keys []string) string {
	for _, k := range keys {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		if _, isMap := v.(map[string]any); isMap {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func firstStringOr(rec store.Record, keys []string, fallback string) string {
	if s := firstString(rec, keys); s != "" {
		return s
	}
	return fallback
}

func baseName(p string) string {
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ReplaceAll(p, "\\", "/")
	b := path.Base(p)
	if b == "." || b == "/" {
		return ""
	}
	return b
}
