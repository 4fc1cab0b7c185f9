// Package poller refreshes the asset library on a cron schedule.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher is satisfied by *library.Collection.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

type Poller struct {
	Target   Refresher
	Schedule string
	// Timeout bounds one refresh; zero means no bound.
	Timeout time.Duration

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Start parses the schedule and begins ticking. Ticks that arrive while a
// refresh is still running are skipped.
func (p *Poller) Start(ctx context.Context) error {
	logger := slogLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(p.Schedule, p.tick); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", p.Schedule, err)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = c
	c.Start()
	slog.Info("library poller started", "schedule", p.Schedule)
	return nil
}

// Stop abandons a tick still waiting on a refresh and waits for it to return.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	p.cancel()
	<-p.cron.Stop().Done()
	slog.Info("library poller stopped")
}

func (p *Poller) tick() {
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	start := time.Now()
	applied, err := p.Target.Refresh(ctx)
	if err != nil {
		slog.Warn("scheduled refresh failed", "error", err)
		return
	}
	slog.Debug("scheduled refresh", "applied", applied, "took", time.Since(start))
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
