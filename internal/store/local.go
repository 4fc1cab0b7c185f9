package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/model"
)

// LocalStore serves the asset contract from the sqlite catalog, with
// files kept under <DataDir>/library/<id>/.
type LocalStore struct {
	DB      *sql.DB
	DataDir string
}

func NewLocal(database *sql.DB, dataDir string) *LocalStore {
	return &LocalStore{DB: database, DataDir: dataDir}
}

func (s *LocalStore) List(ctx context.Context) ([]Record, error) {
	assets, err := db.ListAssets(ctx, s.DB)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	records := make([]Record, len(assets))
	for i, a := range assets {
		records[i] = LocalRecord(&a)
	}
	return records, nil
}

// LocalRecord renders a catalog row in the wire shape the HTTP backend uses.
func LocalRecord(a *model.LocalAsset) Record {
	return Record{
		"id":         a.ID,
		"filename":   a.Filename,
		"media_type": a.MediaType,
		"mime_type":  a.MimeType,
		"size_bytes": a.SizeBytes,
		"source":     a.Source,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	removed, err := db.DeleteAsset(ctx, s.DB, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if !removed {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	s.removeFiles(id)
	return nil
}

// BulkDelete removes every id in one transaction. Ids that were already
// gone count as deleted, so FailedIDs is always empty on success.
func (s *LocalStore) BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResponse, error) {
	found, err := db.DeleteAssets(ctx, s.DB, ids)
	if err != nil {
		return nil, fmt.Errorf("bulk delete: %w", err)
	}
	for id := range found {
		s.removeFiles(id)
	}
	return &BulkDeleteResponse{
		DeletedCount: len(found),
		FailedIDs:    []string{},
		HasFailedIDs: true,
	}, nil
}

func (s *LocalStore) Download(ctx context.Context, id string) (*Payload, error) {
	a, err := db.GetAsset(ctx, s.DB, id)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	if a == nil {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	f, err := os.Open(filepath.Join(s.DataDir, a.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	size := a.SizeBytes
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &Payload{Body: f, Filename: a.Filename, ContentType: a.MimeType, Size: size}, nil
}

// Path resolves the on-disk file for id, for handlers that serve it directly.
func (s *LocalStore) Path(ctx context.Context, id string) (*model.LocalAsset, string, error) {
	a, err := db.GetAsset(ctx, s.DB, id)
	if err != nil {
		return nil, "", err
	}
	if a == nil {
		return nil, "", ErrNotFound
	}
	return a, filepath.Join(s.DataDir, a.Path), nil
}

// Import copies the file at path into the library.
func (s *LocalStore) Import(ctx context.Context, path, source string) (*model.LocalAsset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	defer f.Close()
	return s.ImportReader(ctx, filepath.Base(path), source, f)
}

// ImportReader stores r as a new asset named filename.
func (s *LocalStore) ImportReader(ctx context.Context, filename, source string, r io.Reader) (*model.LocalAsset, error) {
	filename = CleanFilename(filename)
	id := uuid.New().String()
	rel := filepath.Join("library", id, filename)
	dir := filepath.Join(s.DataDir, "library", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	dst, err := os.Create(filepath.Join(s.DataDir, rel))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create file: %w", err)
	}
	sniff := &sniffWriter{}
	written, err := io.Copy(io.MultiWriter(dst, sniff), r)
	dst.Close()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write file: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mimeType == "" {
		mimeType = http.DetectContentType(sniff.buf)
	}
	mediaType, ok := model.ParseMediaType(mimeType)
	if !ok {
		mediaType = model.MediaTypeFromFilename(filename)
	}

	a := &model.LocalAsset{
		ID:        id,
		Filename:  filename,
		MediaType: string(mediaType),
		MimeType:  mimeType,
		SizeBytes: written,
		Source:    source,
		Path:      rel,
		CreatedAt: time.Now(),
	}
	if err := db.CreateAsset(ctx, s.DB, a); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	slog.Info("asset imported", "id", id, "filename", filename, "source", source)
	return a, nil
}

func (s *LocalStore) removeFiles(id string) {
	dir := filepath.Join(s.DataDir, "library", id)
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("remove asset files", "id", id, "dir", dir, "error", err)
	}
}

// sniffWriter keeps the first 512 bytes for content-type detection.
type sniffWriter struct {
	buf []byte
}

func (w *sniffWriter) Write(p []byte) (int, error) {
	if room := 512 - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}

// CleanFilename strips directories and characters unsafe on common
// filesystems from name.
func CleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	replacer := strings.NewReplacer(
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = replacer.Replace(name)
	if name == "." || name == "/" || name == "" {
		name = "asset"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
