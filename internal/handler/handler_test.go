package handler

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	assetdeck "github.com/YannKr/assetdeck"
	"github.com/YannKr/assetdeck/internal/config"
	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/diskstat"
	"github.com/YannKr/assetdeck/internal/download"
	"github.com/YannKr/assetdeck/internal/library"
	"github.com/YannKr/assetdeck/internal/sse"
	"github.com/YannKr/assetdeck/internal/store"
	"github.com/YannKr/assetdeck/internal/webhook"
)

const testKey = "test-api-key"

type testEnv struct {
	h      *Handler
	router http.Handler
	local  *store.LocalStore
	lib    *library.Collection
	db     *sql.DB
	dlDir  string
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(context.Background(), database, assetdeck.MigrationFS); err != nil {
		t.Fatal(err)
	}

	dlDir := filepath.Join(dir, "downloads")
	local := store.NewLocal(database, dir)
	hub := sse.New()
	lib := library.New(local, library.Options{
		RetryBackoff: time.Millisecond,
		BaseURL:      "http://deck.test",
		Sink:         &download.FileSink{Dir: dlDir, DB: database},
		OnChange:     SnapshotPublisher(hub),
	})
	cfg := &config.Config{
		APIKey:            apiKey,
		SessionSecret:     "0123456789abcdef0123456789abcdef",
		BaseURL:           "http://deck.test",
		StoreMode:         config.StoreLocal,
		DiskWarnYellowPct: 20,
		DiskWarnRedPct:    10,
		DiskWarnBlockPct:  5,
	}
	disk := diskstat.New(dir, dlDir, time.Hour)
	disk.Refresh()

	h, err := New(cfg, lib, local, database, hub, disk)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{h: h, router: h.Routes(nil), local: local, lib: lib, db: database, dlDir: dlDir}
}

func (e *testEnv) importAsset(t *testing.T, name, content string) string {
	t.Helper()
	a, err := e.local.ImportReader(context.Background(), name, "test", strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	return a.ID
}

// do sends an API-key authenticated request.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

type snapshotBody struct {
	Visible []struct {
		ID            string `json:"id"`
		FormattedSize string `json:"formatted_size"`
	} `json:"visible"`
	Counts struct {
		All, Images, Videos int
	} `json:"counts"`
	SelectedIDs []string `json:"selected_ids"`
	Status      string   `json:"status"`
	Empty       string   `json:"empty"`
	Filter      string   `json:"filter"`
}

func TestRequiresAuth(t *testing.T) {
	e := newTestEnv(t, testKey)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/library", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/library", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}

	if rec := e.do(t, http.MethodGet, "/api/library", ""); rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d body %s", rec.Code, rec.Body)
	}
}

func TestLibraryFlow(t *testing.T) {
	e := newTestEnv(t, testKey)
	img := e.importAsset(t, "cat.jpg", "jpeg-bytes")
	vid := e.importAsset(t, "clip.mp4", "mp4-bytes")

	rec := e.do(t, http.MethodPost, "/api/library/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/library/filter", `{"filter":"image"}`)
	var snap snapshotBody
	decode(t, rec, &snap)
	if snap.Filter != "images" || len(snap.Visible) != 1 || snap.Visible[0].ID != img {
		t.Errorf("filtered snapshot = %+v", snap)
	}
	if snap.Counts.All != 2 || snap.Counts.Videos != 1 {
		t.Errorf("counts = %+v", snap.Counts)
	}
	if snap.Visible[0].FormattedSize != "10 B" {
		t.Errorf("formatted size = %q", snap.Visible[0].FormattedSize)
	}

	if rec := e.do(t, http.MethodPost, "/api/library/filter", `{"filter":"audio"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter: status = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/library/select/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown select: status = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/library/delete-selected", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty delete-selected: status = %d", rec.Code)
	}

	e.do(t, http.MethodPost, "/api/library/filter", `{"filter":"all"}`)
	rec = e.do(t, http.MethodPost, "/api/library/select-matching", "")
	decode(t, rec, &snap)
	if len(snap.SelectedIDs) != 2 {
		t.Fatalf("selected = %v", snap.SelectedIDs)
	}

	rec = e.do(t, http.MethodPost, "/api/library/download-selected", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download-selected: %d %s", rec.Code, rec.Body)
	}
	for _, name := range []string{"cat.jpg", "clip.mp4"} {
		if _, err := os.Stat(filepath.Join(e.dlDir, name)); err != nil {
			t.Errorf("%s not downloaded: %v", name, err)
		}
	}
	var ledger []downloadRecord
	decode(t, e.do(t, http.MethodGet, "/api/library/downloads", ""), &ledger)
	if len(ledger) != 2 {
		t.Errorf("ledger entries = %d", len(ledger))
	}

	rec = e.do(t, http.MethodDelete, "/api/library/assets/"+vid, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	rec = e.do(t, http.MethodPost, "/api/library/delete-selected", "")
	var bulk bulkDeleteView
	decode(t, rec, &bulk)
	if rec.Code != http.StatusOK || len(bulk.Succeeded) != 1 || bulk.Succeeded[0] != img {
		t.Errorf("delete-selected: %d %+v", rec.Code, bulk)
	}

	decode(t, e.do(t, http.MethodGet, "/api/library", ""), &snap)
	if snap.Empty != "collection" || snap.Counts.All != 0 {
		t.Errorf("final snapshot = %+v", snap)
	}
	records, _ := e.local.List(context.Background())
	if len(records) != 0 {
		t.Errorf("catalog still has %d records", len(records))
	}
}

func TestStatsAndStatus(t *testing.T) {
	e := newTestEnv(t, testKey)
	e.importAsset(t, "a.png", strings.Repeat("x", 100))
	e.importAsset(t, "b.png", strings.Repeat("x", 300))
	e.do(t, http.MethodPost, "/api/library/refresh", "")
	e.h.DiskCache.Refresh()

	var stats map[string]any
	decode(t, e.do(t, http.MethodGet, "/api/library/stats", ""), &stats)
	if stats["total_bytes"] != float64(400) || stats["mean_bytes"] != float64(200) {
		t.Errorf("stats = %v", stats)
	}

	var status map[string]any
	decode(t, e.do(t, http.MethodGet, "/api/library/status", ""), &status)
	if status["status"] != "ready" || status["store_mode"] != "local" {
		t.Errorf("status = %v", status)
	}
	disk, ok := status["disk"].(map[string]any)
	if !ok || disk["library_bytes"] != float64(400) {
		t.Errorf("disk = %v", status["disk"])
	}
}

func TestSessionAndCSRF(t *testing.T) {
	e := newTestEnv(t, testKey)
	e.importAsset(t, "a.png", "x")
	e.lib.Refresh(context.Background())

	jar := map[string]*http.Cookie{}
	send := func(method, path, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		for _, c := range jar {
			req.AddCookie(c)
		}
		if token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		for _, c := range rec.Result().Cookies() {
			jar[c.Name] = c
		}
		return rec
	}

	var st map[string]any
	decode(t, send(http.MethodGet, "/api/session", "", ""), &st)
	token, _ := st["csrf_token"].(string)
	if token == "" || st["authenticated"] != false {
		t.Fatalf("session status = %v", st)
	}

	if rec := send(http.MethodPost, "/api/session", `{"api_key":"`+testKey+`"}`, ""); rec.Code != http.StatusForbidden {
		t.Errorf("login without csrf token: status = %d", rec.Code)
	}
	if rec := send(http.MethodPost, "/api/session", `{"api_key":"nope"}`, token); rec.Code != http.StatusUnauthorized {
		t.Errorf("login with bad key: status = %d", rec.Code)
	}
	if rec := send(http.MethodPost, "/api/session", `{"api_key":"`+testKey+`"}`, token); rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}

	rec := send(http.MethodGet, "/api/library", "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-CSRF-Token") == "" {
		t.Fatalf("snapshot via session: %d token %q", rec.Code, rec.Header().Get("X-CSRF-Token"))
	}
	if rec := send(http.MethodPost, "/api/library/select-all", "", ""); rec.Code != http.StatusForbidden {
		t.Errorf("mutation without csrf token: status = %d", rec.Code)
	}
	if rec := send(http.MethodPost, "/api/library/select-all", "", token); rec.Code != http.StatusOK {
		t.Errorf("mutation with csrf token: %d %s", rec.Code, rec.Body)
	}
}

func TestOpenModeNeedsNoKey(t *testing.T) {
	e := newTestEnv(t, "")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/library/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBackendRoutes(t *testing.T) {
	e := newTestEnv(t, testKey)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("source", "upload")
	fw, _ := mw.CreateFormFile("file", "photo.png")
	fw.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/assets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body)
	}
	var created map[string]any
	decode(t, rec, &created)
	id, _ := created["id"].(string)
	if created["media_type"] != "image" || created["source"] != "upload" {
		t.Errorf("created = %v", created)
	}

	var listed struct {
		Assets []map[string]any `json:"assets"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/assets", ""), &listed)
	if len(listed.Assets) != 1 || listed.Assets[0]["id"] != id {
		t.Fatalf("listed = %v", listed)
	}

	rec = e.do(t, http.MethodGet, "/api/assets/"+id+"/download", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "photo.png") {
		t.Errorf("download: %d %q", rec.Code, rec.Header().Get("Content-Disposition"))
	}
	if rec := e.do(t, http.MethodGet, "/api/assets/"+id+"/thumbnail", ""); rec.Code != http.StatusOK {
		t.Errorf("thumbnail: %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/assets/bulk-delete", `{"ids":["`+id+`","ghost"]}`)
	var bulk map[string]any
	decode(t, rec, &bulk)
	if bulk["deleted_count"] != float64(1) {
		t.Errorf("bulk = %v", bulk)
	}
	if rec := e.do(t, http.MethodDelete, "/api/assets/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: %d", rec.Code)
	}
}

// An HTTPBulkStore pointed at a local-mode instance drives a second
// collection through the backend routes.
func TestRemoteCollectionAgainstBackend(t *testing.T) {
	e := newTestEnv(t, testKey)
	keep := e.importAsset(t, "keep.jpg", "k")
	drop := e.importAsset(t, "drop.webm", "d")

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	remote := library.New(store.NewHTTPBulk(srv.URL, testKey, 5*time.Second), library.Options{
		RetryBackoff: time.Millisecond,
		BaseURL:      srv.URL,
	})
	if ok, err := remote.Refresh(context.Background()); !ok || err != nil {
		t.Fatalf("remote refresh = %v, %v", ok, err)
	}
	if c := remote.Counts(); c.All != 2 || c.Images != 1 || c.Videos != 1 {
		t.Errorf("counts = %+v", c)
	}

	remote.ToggleSelection(drop)
	res, err := remote.DeleteSelected(context.Background())
	if err != nil || len(res.Succeeded) != 1 || res.Succeeded[0] != drop {
		t.Fatalf("delete-selected = %+v, %v", res, err)
	}
	records, _ := e.local.List(context.Background())
	if len(records) != 1 || records[0]["id"] != keep {
		t.Errorf("backend records = %v", records)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("other ip limited: %d", rec.Code)
	}
}

func TestLibrarySSE(t *testing.T) {
	e := newTestEnv(t, testKey)
	e.importAsset(t, "a.png", "x")

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/library/events", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	go e.lib.Refresh(context.Background())

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"status":"ready"`) {
			return
		}
	}
	t.Fatalf("stream ended without a ready snapshot: %v", sc.Err())
}

func TestDeleteFiresWebhook(t *testing.T) {
	e := newTestEnv(t, testKey)
	keep := e.importAsset(t, "keep.jpg", "k")
	gone := e.importAsset(t, "gone.jpg", "g")
	if rec := e.do(t, http.MethodPost, "/api/library/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body)
	}

	events := make(chan webhook.Event, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		json.NewDecoder(r.Body).Decode(&ev)
		events <- ev
	}))
	defer srv.Close()
	hooks := &webhook.Dispatcher{DB: e.db, URL: srv.URL, Secret: "s"}
	e.h.Webhooks = hooks

	if rec := e.do(t, http.MethodDelete, "/api/library/assets/"+gone, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	hooks.Wait()

	select {
	case ev := <-events:
		if ev.EventType != webhook.EventAssetsDeleted {
			t.Errorf("event type = %q", ev.EventType)
		}
		data, _ := json.Marshal(ev.Data)
		if !strings.Contains(string(data), gone) || strings.Contains(string(data), keep) {
			t.Errorf("event data = %s", data)
		}
	default:
		t.Fatal("no webhook received")
	}
}
