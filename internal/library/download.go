package library

import (
	"context"
	"log/slog"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

// Sink persists a downloaded payload and returns where it went.
type Sink interface {
	Save(ctx context.Context, a model.Asset, p *store.Payload) (string, error)
}

type DownloadOutcome struct {
	ID       string
	Filename string
	Path     string
	Err      error
}

// DownloadOne retrieves one asset into the sink.
func (c *Collection) DownloadOne(ctx context.Context, id string) (DownloadOutcome, error) {
	out := c.download(ctx, []string{id})[0]
	return out, out.Err
}

// DownloadSelected retrieves every selected asset in collection order,
// spaced by the download interval. Every id gets an outcome; a failure
// does not stop the queue.
func (c *Collection) DownloadSelected(ctx context.Context) ([]DownloadOutcome, error) {
	ids := c.SelectedIDs()
	if len(ids) == 0 {
		return nil, ErrNothingSelected
	}
	outcomes := c.download(ctx, ids)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	slog.Info("downloads finished", "requested", len(ids), "failed", failed)
	return outcomes, nil
}

func (c *Collection) download(ctx context.Context, ids []string) []DownloadOutcome {
	outcomes := make([]DownloadOutcome, len(ids))
	for i, id := range ids {
		outcomes[i] = DownloadOutcome{ID: id}
		if err := c.limiter.Wait(ctx); err != nil {
			outcomes[i].Err = &ItemError{ID: id, Err: err}
			continue
		}
		outcomes[i] = c.downloadOne(ctx, id)
	}
	return outcomes
}

func (c *Collection) downloadOne(ctx context.Context, id string) DownloadOutcome {
	out := DownloadOutcome{ID: id}
	if c.opts.Sink == nil {
		out.Err = ErrNoSink
		return out
	}

	a, ok := c.Asset(id)
	if !ok {
		out.Err = &ItemError{ID: id, Err: ErrUnknownAsset}
		return out
	}
	out.Filename = a.Filename

	p, err := c.store.Download(ctx, id)
	if err != nil {
		slog.Warn("download failed", "id", id, "error", err)
		out.Err = &ItemError{ID: id, Err: err}
		return out
	}
	defer p.Body.Close()

	path, err := c.opts.Sink.Save(ctx, a, p)
	if err != nil {
		slog.Warn("saving download failed", "id", id, "error", err)
		out.Err = &ItemError{ID: id, Err: err}
		return out
	}
	out.Path = path
	slog.Info("asset downloaded", "id", id, "path", path)
	return out
}
