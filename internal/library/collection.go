// Package library holds the asset collection view-model: the client-side
// list of assets, the active filter, the selection and the page cursor,
// kept in sync with a store.Store.
//
// A Collection is safe for concurrent use. Operations block the calling
// goroutine until the store replies; presentation code that must not
// block runs them on their own goroutine and observes Options.OnChange.
package library

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/YannKr/assetdeck/internal/model"
	"github.com/YannKr/assetdeck/internal/store"
)

type Options struct {
	PageSize int
	// RefreshAttempts bounds List calls per refresh, RetryBackoff×attempt
	// is slept between them.
	RefreshAttempts int
	RetryBackoff    time.Duration
	// RefreshTimeout bounds one refresh generation; zero means no bound.
	RefreshTimeout time.Duration
	// DeleteConcurrency caps in-flight Delete calls when the store has no
	// bulk endpoint.
	DeleteConcurrency int
	// DownloadInterval spaces consecutive downloads.
	DownloadInterval time.Duration
	BaseURL          string
	Sink             Sink
	// OnChange receives a fresh snapshot after every settled operation.
	OnChange func(model.Snapshot)
	Now      func() time.Time
}

func (o *Options) setDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 24
	}
	if o.RefreshAttempts <= 0 {
		o.RefreshAttempts = 3
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.RefreshTimeout < 0 {
		o.RefreshTimeout = 0
	}
	if o.DeleteConcurrency <= 0 {
		o.DeleteConcurrency = 8
	}
	if o.DownloadInterval < 0 {
		o.DownloadInterval = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// DefaultOptions matches the documented defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:          24,
		RefreshAttempts:   3,
		RetryBackoff:      time.Second,
		DeleteConcurrency: 8,
		DownloadInterval:  100 * time.Millisecond,
	}
}

type Collection struct {
	store   store.Store
	opts    Options
	norm    *Normalizer
	limiter *rate.Limiter

	mu sync.Mutex
	st state
	// seq is bumped by every refresh start and every delete start; a
	// refresh only applies if its token is still the latest.
	seq      uint64
	version  uint64
	inflight *refreshCall
}

// state is only touched with mu held. assets and index are replaced as a
// unit, never edited in place.
type state struct {
	assets      []model.Asset
	index       map[string]int
	filter      model.Filter
	selected    map[string]struct{}
	page        int
	status      model.Status
	err         string
	refreshedAt time.Time
}

func New(s store.Store, opts Options) *Collection {
	opts.setDefaults()
	limit := rate.Inf
	if opts.DownloadInterval > 0 {
		limit = rate.Every(opts.DownloadInterval)
	}
	return &Collection{
		store:   s,
		opts:    opts,
		norm:    &Normalizer{BaseURL: opts.BaseURL, Now: opts.Now},
		limiter: rate.NewLimiter(limit, 1),
		st: state{
			index:    map[string]int{},
			filter:   model.FilterAll,
			selected: map[string]struct{}{},
			page:     1,
			status:   model.StatusIdle,
		},
	}
}

// Snapshot returns a consistent copy of the view state.
func (c *Collection) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collection) snapshotLocked() model.Snapshot {
	filtered := c.filteredLocked()
	visible := c.pageOf(filtered)

	snap := model.Snapshot{
		Assets:      append([]model.Asset{}, c.st.assets...),
		Visible:     visible,
		Filter:      c.st.filter,
		Page:        c.st.page,
		PageSize:    c.opts.PageSize,
		TotalPages:  c.totalPages(len(filtered)),
		Counts:      c.countsLocked(),
		Selection:   c.selectionLocked(visible),
		SelectedIDs: c.selectedIDsLocked(),
		Status:      c.statusLocked(),
		Error:       c.st.err,
		Version:     c.version,
		Empty:       model.EmptyNone,
	}
	switch {
	case len(c.st.assets) == 0:
		snap.Empty = model.EmptyCollection
	case len(filtered) == 0:
		snap.Empty = model.EmptyFiltered
	}
	if !c.st.refreshedAt.IsZero() {
		t := c.st.refreshedAt
		snap.RefreshedAt = &t
	}
	return snap
}

func (c *Collection) statusLocked() model.Status {
	if c.inflight != nil {
		return model.StatusLoading
	}
	return c.st.status
}

// Loading reports whether a refresh is in flight.
func (c *Collection) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// changedLocked marks a state change; call notify after unlocking.
func (c *Collection) changedLocked() {
	c.version++
}

func (c *Collection) notify() {
	if c.opts.OnChange == nil {
		return
	}
	c.opts.OnChange(c.Snapshot())
}

// replaceAssetsLocked installs a new asset list and re-establishes the
// selection and page invariants against it.
func (c *Collection) replaceAssetsLocked(assets []model.Asset) {
	index := make(map[string]int, len(assets))
	for i, a := range assets {
		index[a.ID] = i
	}
	selected := make(map[string]struct{}, len(c.st.selected))
	for id := range c.st.selected {
		if _, ok := index[id]; ok {
			selected[id] = struct{}{}
		}
	}
	c.st.assets = assets
	c.st.index = index
	c.st.selected = selected
	c.fixPageLocked()
	c.changedLocked()
}

// removeLocked drops ids from assets and selection.
func (c *Collection) removeLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]model.Asset, 0, len(c.st.assets))
	for _, a := range c.st.assets {
		if _, gone := drop[a.ID]; !gone {
			kept = append(kept, a)
		}
	}
	for id := range drop {
		delete(c.st.selected, id)
	}
	c.replaceAssetsLocked(kept)
}

func (c *Collection) fixPageLocked() {
	n := len(c.filteredLocked())
	if c.st.page < 1 || (c.st.page > 1 && (c.st.page-1)*c.opts.PageSize >= n) {
		c.st.page = 1
	}
}

func (c *Collection) filteredLocked() []model.Asset {
	if c.st.filter == model.FilterAll {
		return c.st.assets
	}
	out := make([]model.Asset, 0, len(c.st.assets))
	for _, a := range c.st.assets {
		if c.st.filter.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// pageOf returns a fresh copy of the current page of filtered.
func (c *Collection) pageOf(filtered []model.Asset) []model.Asset {
	start := (c.st.page - 1) * c.opts.PageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + c.opts.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return append([]model.Asset{}, filtered[start:end]...)
}

func (c *Collection) totalPages(n int) int {
	if n == 0 {
		return 1
	}
	return (n + c.opts.PageSize - 1) / c.opts.PageSize
}

func (c *Collection) countsLocked() model.Counts {
	counts := model.Counts{All: len(c.st.assets)}
	for _, a := range c.st.assets {
		switch a.MediaType {
		case model.MediaImage:
			counts.Images++
		case model.MediaVideo:
			counts.Videos++
		}
	}
	return counts
}

func (c *Collection) selectionLocked(visible []model.Asset) model.SelectionSummary {
	sum := model.SelectionSummary{Count: len(c.st.selected)}
	if len(visible) == 0 {
		return sum
	}
	sum.AllVisibleSelected = true
	for _, a := range visible {
		if _, ok := c.st.selected[a.ID]; !ok {
			sum.AllVisibleSelected = false
			break
		}
	}
	return sum
}

// selectedIDsLocked lists the selection in collection order.
func (c *Collection) selectedIDsLocked() []string {
	ids := make([]string, 0, len(c.st.selected))
	for id := range c.st.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.st.index[ids[i]] < c.st.index[ids[j]]
	})
	return ids
}

func (c *Collection) lookupLocked(id string) (model.Asset, bool) {
	i, ok := c.st.index[id]
	if !ok {
		return model.Asset{}, false
	}
	return c.st.assets[i], true
}
