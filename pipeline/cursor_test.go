package pipeline

import (
	"errors"
	"testing"

	"github.com/aluiziolira/go-scrape-figures/models"
)

func page(total, items int) *models.PageResult {
	p := &models.PageResult{TotalCount: total}
	for i := 0; i < items; i++ {
		p.Items = append(p.Items, models.RawRecord{"n": i})
	}
	return p
}

func TestCursorAccounting(t *testing.T) {
	c := NewCursor()
	if !c.HasMore() || c.Total() != -1 || c.PageIndex() != 0 {
		t.Fatalf("fresh cursor: hasMore=%v total=%d page=%d", c.HasMore(), c.Total(), c.PageIndex())
	}

	for i, items := range []int{10, 10, 5} {
		if err := c.RecordPage(page(25, items)); err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
	}
	if c.HasMore() {
		t.Fatalf("cursor should be exhausted after 25 of 25")
	}
	if c.Seen() != 25 || c.PageIndex() != 3 || c.Total() != 25 {
		t.Fatalf("seen=%d page=%d total=%d", c.Seen(), c.PageIndex(), c.Total())
	}
}

func TestCursorProtocolViolations(t *testing.T) {
	tests := []struct {
		name  string
		pages []*models.PageResult
	}{
		{name: "total changes", pages: []*models.PageResult{page(25, 10), page(30, 10)}},
		{name: "empty page with items remaining", pages: []*models.PageResult{page(25, 10), page(25, 0)}},
		{name: "empty first page with non-zero total", pages: []*models.PageResult{page(5, 0)}},
		{name: "nil page", pages: []*models.PageResult{nil}},
		{name: "negative total", pages: []*models.PageResult{page(-1, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor()
			var err error
			for _, p := range tt.pages {
				if err = c.RecordPage(p); err != nil {
					break
				}
			}
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected ErrProtocolViolation, got %v", err)
			}
		})
	}
}

func TestCursorEmptyResultSet(t *testing.T) {
	c := NewCursor()
	if err := c.RecordPage(page(0, 0)); err != nil {
		t.Fatalf("empty result set: %v", err)
	}
	if c.HasMore() {
		t.Fatalf("cursor with total 0 should be exhausted")
	}
}

func TestCursorRejectedPageDoesNotAdvance(t *testing.T) {
	c := NewCursor()
	if err := c.RecordPage(page(20, 10)); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if err := c.RecordPage(page(21, 10)); err == nil {
		t.Fatalf("expected violation")
	}
	if c.PageIndex() != 1 || c.Seen() != 10 {
		t.Fatalf("cursor advanced on violation: page=%d seen=%d", c.PageIndex(), c.Seen())
	}
}
