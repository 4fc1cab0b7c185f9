// Package webhook posts library events to an operator-configured URL.
// Deliveries are recorded in sqlite and failed ones are retried on a
// fixed backoff schedule by Retrier.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/assetdeck/internal/db"
	"github.com/YannKr/assetdeck/internal/model"
)

// Event types.
const (
	EventAssetsDeleted      = "assets.deleted"
	EventDownloadsCompleted = "downloads.completed"
)

const SignatureHeader = "X-Assetdeck-Signature"

var backoffSchedule = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

func nextRetryAt(now time.Time, attemptNumber int) *time.Time {
	idx := attemptNumber - 1
	if idx >= len(backoffSchedule) {
		return nil
	}
	t := now.Add(backoffSchedule[idx])
	return &t
}

// Dispatcher is disabled when nil or when URL is empty.
type Dispatcher struct {
	DB     *sql.DB
	URL    string
	Secret string
	Client *http.Client
	Now    func() time.Time

	wg sync.WaitGroup
}

type Event struct {
	EventType string      `json:"event_type"`
	EventID   string      `json:"event_id"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func (d *Dispatcher) Enabled() bool {
	return d != nil && d.DB != nil && d.URL != ""
}

// Dispatch records a delivery and attempts it in the background.
func (d *Dispatcher) Dispatch(eventType string, data interface{}) {
	if !d.Enabled() {
		return
	}

	now := d.now()
	eventID := uuid.New().String()
	payload, err := json.Marshal(Event{
		EventType: eventType,
		EventID:   eventID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		slog.Error("webhook marshal", "error", err)
		return
	}

	delivery := &model.WebhookDelivery{
		ID:            uuid.New().String(),
		URL:           d.URL,
		EventType:     eventType,
		EventID:       eventID,
		PayloadJSON:   string(payload),
		AttemptNumber: 1,
		State:         model.DeliveryPending,
		NextRetryAt:   &now,
		CreatedAt:     now,
	}
	if err := db.CreateWebhookDelivery(context.Background(), d.DB, delivery); err != nil {
		slog.Error("webhook: create delivery record", "error", err)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.attemptAndRecord(context.Background(), delivery)
	}()
}

// Wait blocks until background attempts started by Dispatch return.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

func (d *Dispatcher) attemptAndRecord(ctx context.Context, delivery *model.WebhookDelivery) {
	status, preview, err := d.post(ctx, delivery.URL, []byte(delivery.PayloadJSON))

	delivery.ResponseStatus = status
	delivery.ResponseBodyPreview = preview

	if err == nil {
		now := d.now()
		delivery.State = model.DeliveryDelivered
		delivery.NextRetryAt = nil
		delivery.DeliveredAt = &now
		delivery.ErrorMessage = ""
		slog.Info("webhook delivered", "url", delivery.URL, "event", delivery.EventType)
	} else {
		delivery.ErrorMessage = err.Error()
		nextAt := nextRetryAt(d.now(), delivery.AttemptNumber)
		if nextAt == nil {
			delivery.State = model.DeliveryExhausted
			delivery.NextRetryAt = nil
			slog.Warn("webhook exhausted", "url", delivery.URL, "event", delivery.EventType, "attempts", delivery.AttemptNumber)
		} else {
			delivery.State = model.DeliveryFailed
			delivery.NextRetryAt = nextAt
			slog.Warn("webhook failed, will retry", "url", delivery.URL, "event", delivery.EventType,
				"attempt", delivery.AttemptNumber, "next_retry", nextAt)
		}
	}

	if uerr := db.UpdateWebhookDelivery(ctx, d.DB, delivery); uerr != nil {
		slog.Error("webhook: update delivery record", "error", uerr)
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) (statusCode *int, preview string, err error) {
	mac := hmac.New(sha256.New, []byte(d.Secret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if reqErr != nil {
		return nil, "", fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+signature)

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, respErr := client.Do(req)
	if respErr != nil {
		return nil, "", fmt.Errorf("post: %w", respErr)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	preview = string(body)
	code := resp.StatusCode
	statusCode = &code

	if resp.StatusCode >= 400 {
		return statusCode, preview, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return statusCode, preview, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
