package library

import (
	"github.com/YannKr/assetdeck/internal/model"
)

// SetFilter narrows the visible set and, when the filter changes, resets
// to the first page. No store call is made.
func (c *Collection) SetFilter(f model.Filter) error {
	if f != model.FilterAll && f != model.FilterImages && f != model.FilterVideos {
		return ErrInvalidFilter
	}
	c.mu.Lock()
	if f != c.st.filter {
		c.st.filter = f
		c.st.page = 1
	}
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// SetPage moves the page cursor, clamped to the pages that exist.
func (c *Collection) SetPage(page int) int {
	c.mu.Lock()
	total := c.totalPages(len(c.filteredLocked()))
	switch {
	case page < 1:
		page = 1
	case page > total:
		page = total
	}
	c.st.page = page
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
	return page
}

// ToggleSelection flips id's membership. Ids not in the collection are
// ignored and reported as false.
func (c *Collection) ToggleSelection(id string) bool {
	c.mu.Lock()
	if _, ok := c.st.index[id]; !ok {
		c.mu.Unlock()
		return false
	}
	if _, on := c.st.selected[id]; on {
		delete(c.st.selected, id)
	} else {
		c.st.selected[id] = struct{}{}
	}
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
	return true
}

// SelectAll adds every asset on the current filtered page.
func (c *Collection) SelectAll() int {
	c.mu.Lock()
	visible := c.pageOf(c.filteredLocked())
	for _, a := range visible {
		c.st.selected[a.ID] = struct{}{}
	}
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
	return len(visible)
}

// SelectAllMatchingFilter adds every filtered asset across all pages.
func (c *Collection) SelectAllMatchingFilter() int {
	c.mu.Lock()
	filtered := c.filteredLocked()
	for _, a := range filtered {
		c.st.selected[a.ID] = struct{}{}
	}
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
	return len(filtered)
}

func (c *Collection) DeselectAll() {
	c.mu.Lock()
	c.st.selected = map[string]struct{}{}
	c.changedLocked()
	c.mu.Unlock()
	c.notify()
}

// Visible returns the current filter+page slice.
func (c *Collection) Visible() []model.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageOf(c.filteredLocked())
}

// Counts covers the unfiltered collection, whatever filter is active.
func (c *Collection) Counts() model.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countsLocked()
}

func (c *Collection) SelectionSummary() model.SelectionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectionLocked(c.pageOf(c.filteredLocked()))
}

func (c *Collection) SelectedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedIDsLocked()
}

// Asset looks up one asset by id.
func (c *Collection) Asset(id string) (model.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(id)
}
