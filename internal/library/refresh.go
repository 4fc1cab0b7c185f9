package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

// refreshCall is one in-flight refresh generation that later callers can join.
type refreshCall struct {
	token uint64
	done  chan struct{}
	ok    bool
	err   error
}

func (rc *refreshCall) wait(ctx context.Context) (bool, error) {
	select {
	case <-rc.done:
		return rc.ok, rc.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var errSuperseded = errors.New("refresh superseded")

// Refresh reloads the full collection from the store. While a refresh is
// in flight further calls join it and return its result. The bool is true
// when the response was applied; it is false with a nil error when a newer
// refresh or a delete started meanwhile and the response was discarded.
//
// The store calls run detached from ctx, bounded by Options.RefreshTimeout.
// A caller whose ctx ends stops waiting and gets ctx.Err(); the refresh
// carries on for everyone else.
func (c *Collection) Refresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	call := c.inflight
	if call == nil {
		call = c.startRefreshLocked()
		go c.runRefresh(ctx, call)
	}
	c.mu.Unlock()

	return call.wait(ctx)
}

// ForceRefresh starts a new refresh generation even if one is in flight.
// The older response is discarded when it arrives.
func (c *Collection) ForceRefresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	call := c.startRefreshLocked()
	c.mu.Unlock()

	go c.runRefresh(ctx, call)
	return call.wait(ctx)
}

func (c *Collection) startRefreshLocked() *refreshCall {
	c.seq++
	call := &refreshCall{token: c.seq, done: make(chan struct{})}
	c.inflight = call
	c.changedLocked()
	return call
}

func (c *Collection) runRefresh(parent context.Context, call *refreshCall) {
	ctx := context.WithoutCancel(parent)
	if c.opts.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RefreshTimeout)
		defer cancel()
	}

	var (
		ok  bool
		err error
	)
	c.notify()

	// The busy flag is released on every exit path, panics included.
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("refresh panicked: %v", r)
			slog.Error("refresh panicked", "panic", r)
		}
		c.mu.Lock()
		if c.inflight == call {
			c.inflight = nil
		}
		c.changedLocked()
		call.ok, call.err = ok, err
		c.mu.Unlock()
		c.notify()
		close(call.done)
	}()

	ok, err = c.apply(ctx, call)
}

// apply fetches and, if call is still the latest generation, installs the
// result or the terminal error.
func (c *Collection) apply(ctx context.Context, call *refreshCall) (bool, error) {
	records, attempts, err := c.fetch(ctx, call)
	if errors.Is(err, errSuperseded) {
		slog.Debug("refresh superseded before completion", "token", call.token)
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if call.token != c.seq {
		slog.Debug("discarding stale refresh response", "token", call.token, "latest", c.seq)
		return false, nil
	}
	if err != nil {
		c.st.status = model.StatusError
		c.st.err = err.Error()
		slog.Error("refresh failed", "attempts", attempts, "error", err)
		return false, err
	}

	assets := c.norm.Normalize(records)
	c.replaceAssetsLocked(assets)
	c.st.status = model.StatusReady
	c.st.err = ""
	c.st.refreshedAt = c.opts.Now()
	slog.Debug("refresh applied", "assets", len(assets), "token", call.token, "attempts", attempts)
	return true, nil
}

// fetch calls List with bounded linear backoff and reports how many calls
// it made.
func (c *Collection) fetch(ctx context.Context, call *refreshCall) ([]store.Record, int, error) {
	for attempt := 1; ; attempt++ {
		records, err := c.store.List(ctx)
		if err == nil {
			return records, attempt, nil
		}
		if attempt >= c.opts.RefreshAttempts || !retryable(ctx, err) {
			return nil, attempt, err
		}
		if c.superseded(call) {
			return nil, attempt, errSuperseded
		}

		wait := c.opts.RetryBackoff * time.Duration(attempt)
		slog.Warn("refresh failed, will retry", "attempt", attempt, "backoff", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
}

func (c *Collection) superseded(call *refreshCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return call.token != c.seq
}

// retryable rejects cancellation and definitive client-side statuses.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if store.IsTransient(err) {
		return true
	}
	var se *store.StatusError
	return !errors.As(err, &se)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
