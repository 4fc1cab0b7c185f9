package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/YannKr/assetdeck/internal/model"
)

func CreateWebhookDelivery(ctx context.Context, database *sql.DB, d *model.WebhookDelivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := database.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, url, event_type, event_id, payload_json, attempt_number, state, next_retry_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.URL, d.EventType, d.EventID, d.PayloadJSON, d.AttemptNumber, d.State,
		nullTime(d.NextRetryAt), formatTime(d.CreatedAt),
	)
	return err
}

func UpdateWebhookDelivery(ctx context.Context, database *sql.DB, d *model.WebhookDelivery) error {
	var status sql.NullInt64
	if d.ResponseStatus != nil {
		status = sql.NullInt64{Int64: int64(*d.ResponseStatus), Valid: true}
	}
	_, err := database.ExecContext(ctx,
		`UPDATE webhook_deliveries
		 SET attempt_number = ?, response_status = ?, response_preview = ?, error_message = ?,
		     state = ?, next_retry_at = ?, delivered_at = ?
		 WHERE id = ?`,
		d.AttemptNumber, status, d.ResponseBodyPreview, d.ErrorMessage,
		d.State, nullTime(d.NextRetryAt), nullTime(d.DeliveredAt), d.ID,
	)
	return err
}

// ListDueWebhookDeliveries returns failed deliveries whose retry time has
// passed, oldest first.
func ListDueWebhookDeliveries(ctx context.Context, database *sql.DB, now time.Time) ([]model.WebhookDelivery, error) {
	rows, err := database.QueryContext(ctx,
		`SELECT id, url, event_type, event_id, payload_json, attempt_number, state, next_retry_at, created_at
		 FROM webhook_deliveries
		 WHERE state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at`, model.DeliveryFailed, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var nextRetry, createdAt SQLiteTime
		if err := rows.Scan(&d.ID, &d.URL, &d.EventType, &d.EventID, &d.PayloadJSON,
			&d.AttemptNumber, &d.State, &nextRetry, &createdAt); err != nil {
			return nil, err
		}
		if !nextRetry.Time.IsZero() {
			t := nextRetry.Time
			d.NextRetryAt = &t
		}
		d.CreatedAt = createdAt.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetWebhookDelivery returns nil, nil when id is unknown.
func GetWebhookDelivery(ctx context.Context, database *sql.DB, id string) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var status sql.NullInt64
	var nextRetry, deliveredAt, createdAt SQLiteTime
	err := database.QueryRowContext(ctx,
		`SELECT id, url, event_type, event_id, payload_json, attempt_number, response_status,
		        response_preview, error_message, state, next_retry_at, delivered_at, created_at
		 FROM webhook_deliveries WHERE id = ?`, id).Scan(
		&d.ID, &d.URL, &d.EventType, &d.EventID, &d.PayloadJSON, &d.AttemptNumber, &status,
		&d.ResponseBodyPreview, &d.ErrorMessage, &d.State, &nextRetry, &deliveredAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if status.Valid {
		code := int(status.Int64)
		d.ResponseStatus = &code
	}
	if !nextRetry.Time.IsZero() {
		t := nextRetry.Time
		d.NextRetryAt = &t
	}
	if !deliveredAt.Time.IsZero() {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}
	d.CreatedAt = createdAt.Time
	return &d, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
