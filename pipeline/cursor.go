package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// ErrProtocolViolation is returned when a source contradicts itself: the
// total changes between pages, or an empty page arrives while items remain.
var ErrProtocolViolation = errors.New("pipeline: source protocol violation")

// Cursor tracks how much of a remote result set has been consumed.
type Cursor struct {
	seen      int
	total     int
	totalSet  bool
	pageIndex int
}

// NewCursor returns a cursor positioned before the first page.
func NewCursor() *Cursor {
	return &Cursor{}
}

// HasMore is true before the first page and afterwards while fewer items
// were seen than the source reported.
func (c *Cursor) HasMore() bool {
	if !c.totalSet {
		return true
	}
	return c.seen < c.total
}

// RecordPage folds one fetched page into the cursor. The page index only
// advances when the page is accepted.
func (c *Cursor) RecordPage(page *models.PageResult) error {
	if page == nil {
		return fmt.Errorf("%w: nil page at index %d", ErrProtocolViolation, c.pageIndex)
	}
	if page.TotalCount < 0 {
		return fmt.Errorf("%w: negative total %d", ErrProtocolViolation, page.TotalCount)
	}
	if c.totalSet && page.TotalCount != c.total {
		return fmt.Errorf("%w: total changed from %d to %d at page %d",
			ErrProtocolViolation, c.total, page.TotalCount, c.pageIndex)
	}

	hadMore := c.HasMore()
	if !c.totalSet {
		c.total = page.TotalCount
		c.totalSet = true
		hadMore = c.seen < c.total
	}
	if len(page.Items) == 0 && hadMore {
		return fmt.Errorf("%w: empty page %d with %d of %d items seen",
			ErrProtocolViolation, c.pageIndex, c.seen, c.total)
	}

	c.seen += len(page.Items)
	c.pageIndex++
	return nil
}

// PageIndex is the index of the next page to fetch.
func (c *Cursor) PageIndex() int { return c.pageIndex }

// Total is the reported total, or -1 before the first page.
func (c *Cursor) Total() int {
	if !c.totalSet {
		return -1
	}
	return c.total
}

// Seen is the number of items consumed so far.
func (c *Cursor) Seen() int { return c.seen }
