package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	assetdeck "github.com/YannKr/assetdeck"
	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/diskstat"
	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

type fixedDisk diskstat.Stats

func (f fixedDisk) Get() diskstat.Stats { return diskstat.Stats(f) }

func payload(body string) *store.Payload {
	return &store.Payload{Body: io.NopCloser(strings.NewReader(body)), Size: int64(len(body))}
}

func TestSaveWritesFileAndLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := db.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()
	if err := db.Migrate(ctx, database, assetdeck.MigrationFS); err != nil {
		t.Fatal(err)
	}

	sink := &FileSink{Dir: filepath.Join(dir, "downloads"), DB: database}
	a := model.Asset{ID: "a1", Filename: "cat.jpg", Source: "reddit"}

	path, err := sink.Save(ctx, a, payload("meow"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "cat.jpg" {
		t.Errorf("path = %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "meow" {
		t.Errorf("content = %q", data)
	}

	second, err := sink.Save(ctx, a, payload("purr"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(second) != "cat (1).jpg" {
		t.Errorf("collision path = %q", second)
	}

	entries, _ := os.ReadDir(sink.Dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Errorf("leftover partial file %s", e.Name())
		}
	}

	rows, err := db.ListDownloads(ctx, database, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(rows))
	}
	want := sha256.Sum256([]byte("meow"))
	found := false
	for _, r := range rows {
		if r.Path == path {
			found = true
			if r.SHA256 != hex.EncodeToString(want[:]) || r.SizeBytes != 4 || r.AssetID != "a1" || r.Source != "reddit" {
				t.Errorf("ledger row = %+v", r)
			}
		}
	}
	if !found {
		t.Error("no ledger row for first download")
	}
}

func TestSavePrefersPayloadFilename(t *testing.T) {
	sink := &FileSink{Dir: t.TempDir()}
	p := payload("x")
	p.Filename = "../../served-name.png"
	path, err := sink.Save(context.Background(), model.Asset{ID: "a1", Filename: "other.png"}, p)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != sink.Dir || filepath.Base(path) != "served-name.png" {
		t.Errorf("path = %q", path)
	}
}

func TestSaveShortBody(t *testing.T) {
	sink := &FileSink{Dir: t.TempDir()}
	p := payload("abc")
	p.Size = 10
	if _, err := sink.Save(context.Background(), model.Asset{ID: "a1", Filename: "f.bin"}, p); err == nil {
		t.Fatal("expected short body error")
	}
	entries, _ := os.ReadDir(sink.Dir)
	if len(entries) != 0 {
		t.Errorf("files left behind: %d", len(entries))
	}
}

func TestSaveCancelled(t *testing.T) {
	sink := &FileSink{Dir: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sink.Save(ctx, model.Asset{ID: "a1", Filename: "f.bin"}, payload("abc"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSaveRefusesWhenDiskFull(t *testing.T) {
	sink := &FileSink{
		Dir:      t.TempDir(),
		Disk:     fixedDisk{TotalBytes: 100, FreeBytes: 3, CapturedAt: time.Now()},
		BlockPct: 5,
	}
	_, err := sink.Save(context.Background(), model.Asset{ID: "a1", Filename: "f.bin"}, payload("abc"))
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("err = %v, want ErrDiskFull", err)
	}

	sink.Disk = fixedDisk{TotalBytes: 100, FreeBytes: 50, CapturedAt: time.Now()}
	if _, err := sink.Save(context.Background(), model.Asset{ID: "a1", Filename: "f.bin"}, payload("abc")); err != nil {
		t.Fatalf("with free space: %v", err)
	}
}
