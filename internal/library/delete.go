package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/YannKr/assetdeck/internal/store"
)

type DeleteResult struct {
	ID string
	// NotFound is set when the store no longer had the asset; the delete
	// still counts as a success.
	NotFound bool
}

// BulkDeleteResult reports a partially successful delete. Succeeded
// includes NotFound ids.
type BulkDeleteResult struct {
	Requested []string
	Succeeded []string
	Failed    []string
	NotFound  []string
	Errors    map[string]error
}

func (r *BulkDeleteResult) fail(id string, err error) {
	r.Failed = append(r.Failed, id)
	if r.Errors == nil {
		r.Errors = make(map[string]error)
	}
	r.Errors[id] = err
}

// beginMutation invalidates any refresh response still in flight.
func (c *Collection) beginMutation() {
	c.mu.Lock()
	c.seq++
	c.mu.Unlock()
}

// DeleteOne deletes one asset. It is never retried; a store that already
// lacks the asset yields a NotFound success.
func (c *Collection) DeleteOne(ctx context.Context, id string) (DeleteResult, error) {
	c.beginMutation()

	res := DeleteResult{ID: id}
	err := c.store.Delete(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.NotFound = true
		slog.Info("asset already gone", "id", id)
	case err != nil:
		slog.Warn("delete failed", "id", id, "error", err)
		return res, &ItemError{ID: id, Err: err}
	}

	c.mu.Lock()
	c.removeLocked([]string{id})
	c.mu.Unlock()
	c.notify()
	return res, nil
}

// DeleteSelected deletes every selected asset. Ids that fail stay
// selected. The returned error is non-nil only when the store call as a
// whole failed; per-id failures are in the result.
func (c *Collection) DeleteSelected(ctx context.Context) (BulkDeleteResult, error) {
	ids := c.SelectedIDs()
	if len(ids) == 0 {
		return BulkDeleteResult{}, ErrNothingSelected
	}
	c.beginMutation()

	var (
		res BulkDeleteResult
		err error
	)
	if bd, ok := c.store.(store.BulkDeleter); ok {
		res, err = c.bulkDelete(ctx, bd, ids)
	} else {
		res = c.fanOutDelete(ctx, ids)
	}

	c.mu.Lock()
	c.removeLocked(res.Succeeded)
	c.mu.Unlock()
	c.notify()

	slog.Info("bulk delete finished", "requested", len(ids),
		"succeeded", len(res.Succeeded), "failed", len(res.Failed), "not_found", len(res.NotFound))
	return res, err
}

func (c *Collection) bulkDelete(ctx context.Context, bd store.BulkDeleter, ids []string) (BulkDeleteResult, error) {
	res := BulkDeleteResult{Requested: ids}

	resp, err := bd.BulkDelete(ctx, ids)
	if err != nil {
		for _, id := range ids {
			res.fail(id, err)
		}
		return res, fmt.Errorf("bulk delete: %w", err)
	}

	failed := make(map[string]struct{}, len(resp.FailedIDs))
	for _, id := range resp.FailedIDs {
		failed[id] = struct{}{}
	}
	listedFailed := 0
	for _, id := range ids {
		if _, bad := failed[id]; bad {
			listedFailed++
		}
	}

	switch {
	// failed_ids must account for the whole shortfall in deleted_count,
	// otherwise some unlisted ids were not deleted either.
	case resp.HasFailedIDs && len(ids)-listedFailed <= resp.DeletedCount:
		for _, id := range ids {
			if _, bad := failed[id]; bad {
				res.fail(id, &ItemError{ID: id, Err: errors.New("store reported failure")})
			} else {
				res.Succeeded = append(res.Succeeded, id)
			}
		}
	case resp.DeletedCount >= len(ids):
		res.Succeeded = append(res.Succeeded, ids...)
	default:
		c.reconcile(ctx, &res, ids)
	}
	return res, nil
}

// reconcile settles a reply that does not account for every requested id
// by listing the store: requested ids still listed failed.
func (c *Collection) reconcile(ctx context.Context, res *BulkDeleteResult, ids []string) {
	records, err := c.store.List(ctx)
	if err != nil {
		slog.Warn("bulk delete reconcile failed", "error", err)
		for _, id := range ids {
			res.fail(id, ErrUnconfirmed)
		}
		return
	}
	present := make(map[string]struct{}, len(records))
	for _, a := range c.norm.Normalize(records) {
		present[a.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, still := present[id]; still {
			res.fail(id, &ItemError{ID: id, Err: errors.New("still present after bulk delete")})
		} else {
			res.Succeeded = append(res.Succeeded, id)
		}
	}
}

// fanOutDelete issues per-id deletes, at most DeleteConcurrency at once.
func (c *Collection) fanOutDelete(ctx context.Context, ids []string) BulkDeleteResult {
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.opts.DeleteConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			errs[i] = c.store.Delete(ctx, id)
			return nil
		})
	}
	g.Wait()

	res := BulkDeleteResult{Requested: ids}
	for i, id := range ids {
		switch err := errs[i]; {
		case err == nil:
			res.Succeeded = append(res.Succeeded, id)
		case errors.Is(err, store.ErrNotFound):
			res.Succeeded = append(res.Succeeded, id)
			res.NotFound = append(res.NotFound, id)
		default:
			res.fail(id, &ItemError{ID: id, Err: err})
		}
	}
	return res
}
