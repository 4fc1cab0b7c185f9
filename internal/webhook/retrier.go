package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/YannKr/assetdeck/internal/db"
)

// Retrier re-attempts failed deliveries once their backoff has elapsed.
type Retrier struct {
	Dispatcher *Dispatcher
	Interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Retrier) Start(ctx context.Context) {
	if r.Interval == 0 {
		r.Interval = 30 * time.Second
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	slog.Info("webhook retrier started", "interval", r.Interval)
}

func (r *Retrier) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Retrier) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Retrier) RunOnce(ctx context.Context) {
	d := r.Dispatcher
	if !d.Enabled() {
		return
	}
	deliveries, err := db.ListDueWebhookDeliveries(ctx, d.DB, d.now())
	if err != nil {
		slog.Error("webhook retrier: list due deliveries", "error", err)
		return
	}
	for i := range deliveries {
		if ctx.Err() != nil {
			return
		}
		delivery := &deliveries[i]
		delivery.AttemptNumber++
		d.attemptAndRecord(ctx, delivery)
	}
}
