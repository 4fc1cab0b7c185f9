package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	assetdeck "github.com/YannKr/assetdeck"
	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(context.Background(), database, assetdeck.MigrationFS); err != nil {
		t.Fatal(err)
	}
	return database
}

type receiver struct {
	mu     sync.Mutex
	status int
	bodies [][]byte
	sigs   []string
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.bodies = append(rc.bodies, body)
	rc.sigs = append(rc.sigs, r.Header.Get(SignatureHeader))
	status := rc.status
	rc.mu.Unlock()
	w.WriteHeader(status)
}

func (rc *receiver) setStatus(code int) {
	rc.mu.Lock()
	rc.status = code
	rc.mu.Unlock()
}

func (rc *receiver) calls() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.bodies)
}

func onlyDelivery(t *testing.T, database *sql.DB) *model.WebhookDelivery {
	t.Helper()
	var id string
	if err := database.QueryRow(`SELECT id FROM webhook_deliveries`).Scan(&id); err != nil {
		t.Fatalf("select delivery: %v", err)
	}
	d, err := db.GetWebhookDelivery(context.Background(), database, id)
	if err != nil || d == nil {
		t.Fatalf("get delivery: %v", err)
	}
	return d
}

func TestDispatchDelivers(t *testing.T) {
	database := openTestDB(t)
	rc := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	d := &Dispatcher{DB: database, URL: srv.URL, Secret: "s3cret"}
	d.Dispatch(EventAssetsDeleted, map[string]interface{}{"ids": []string{"a1", "a2"}})
	d.Wait()

	if rc.calls() != 1 {
		t.Fatalf("calls = %d, want 1", rc.calls())
	}
	var ev Event
	if err := json.Unmarshal(rc.bodies[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.EventType != EventAssetsDeleted || ev.EventID == "" {
		t.Errorf("event = %+v", ev)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(rc.bodies[0])
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); rc.sigs[0] != want {
		t.Errorf("signature = %q, want %q", rc.sigs[0], want)
	}

	got := onlyDelivery(t, database)
	if got.State != model.DeliveryDelivered {
		t.Errorf("state = %q, want delivered", got.State)
	}
	if got.ResponseStatus == nil || *got.ResponseStatus != http.StatusOK {
		t.Errorf("response status = %v", got.ResponseStatus)
	}
	if got.DeliveredAt == nil || got.NextRetryAt != nil {
		t.Errorf("delivered_at = %v, next_retry_at = %v", got.DeliveredAt, got.NextRetryAt)
	}
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	database := openTestDB(t)
	rc := &receiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	now := time.Now()
	d := &Dispatcher{DB: database, URL: srv.URL, Now: func() time.Time { return now }}
	d.Dispatch(EventDownloadsCompleted, map[string]interface{}{"downloads": []string{"a1"}})
	d.Wait()

	got := onlyDelivery(t, database)
	if got.State != model.DeliveryFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if got.NextRetryAt == nil || got.NextRetryAt.Sub(now) < 29*time.Second {
		t.Fatalf("next_retry_at = %v, want ~30s after now", got.NextRetryAt)
	}

	r := &Retrier{Dispatcher: d}
	r.RunOnce(context.Background())
	if rc.calls() != 1 {
		t.Fatalf("retried before backoff elapsed: calls = %d", rc.calls())
	}

	now = now.Add(time.Minute)
	rc.setStatus(http.StatusNoContent)
	r.RunOnce(context.Background())
	if rc.calls() != 2 {
		t.Fatalf("calls = %d, want 2", rc.calls())
	}
	got = onlyDelivery(t, database)
	if got.State != model.DeliveryDelivered || got.AttemptNumber != 2 {
		t.Errorf("state = %q attempt = %d, want delivered/2", got.State, got.AttemptNumber)
	}
}

func TestRetriesExhaust(t *testing.T) {
	database := openTestDB(t)
	rc := &receiver{status: http.StatusBadGateway}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	now := time.Now()
	d := &Dispatcher{DB: database, URL: srv.URL, Now: func() time.Time { return now }}
	d.Dispatch(EventAssetsDeleted, nil)
	d.Wait()

	r := &Retrier{Dispatcher: d}
	for i := 0; i < len(backoffSchedule); i++ {
		now = now.Add(3 * time.Hour)
		r.RunOnce(context.Background())
	}
	got := onlyDelivery(t, database)
	if got.State != model.DeliveryExhausted {
		t.Errorf("state = %q, want exhausted", got.State)
	}
	if got.AttemptNumber != len(backoffSchedule)+1 {
		t.Errorf("attempts = %d, want %d", got.AttemptNumber, len(backoffSchedule)+1)
	}

	now = now.Add(3 * time.Hour)
	before := rc.calls()
	r.RunOnce(context.Background())
	if rc.calls() != before {
		t.Error("exhausted delivery was retried")
	}
}

func TestDisabledDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(EventAssetsDeleted, nil)
	d.Wait()

	database := openTestDB(t)
	(&Dispatcher{DB: database}).Dispatch(EventAssetsDeleted, nil)
	var n int
	database.QueryRow(`SELECT COUNT(*) FROM webhook_deliveries`).Scan(&n)
	if n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
}
