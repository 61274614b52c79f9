// Package models defines data structures shared by adapters, the normalizer,
// the ingestion pipeline and the stores.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies an upstream source. Every kind has exactly one
// mapping table in the parser package.
type SourceKind string

const (
	SourceAmiAmi     SourceKind = "amiami"
	SourceHLJ        SourceKind = "hlj"
	SourceAmiAmiItem SourceKind = "amiami-item"
)

// SourceKinds lists the searchable sources in display order.
var SourceKinds = []SourceKind{SourceAmiAmi, SourceHLJ}

// ParseSourceKind resolves a case-insensitive source name.
func ParseSourceKind(name string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(name))) {
	case SourceAmiAmi:
		return SourceAmiAmi, nil
	case SourceHLJ:
		return SourceHLJ, nil
	case SourceAmiAmiItem:
		return SourceAmiAmiItem, nil
	default:
		return "", fmt.Errorf("unknown source %q", name)
	}
}

// Catalog returns the source name products of this kind are stored under.
// Detail lookups land in the same catalog as search results.
func (k SourceKind) Catalog() string {
	if k == SourceAmiAmiItem {
		return string(SourceAmiAmi)
	}
	return string(k)
}

func (k SourceKind) String() string { return string(k) }

// Query identifies one search session against one source.
type Query struct {
	Keyword string     `json:"keyword"`
	Source  SourceKind `json:"source"`
}

func (q Query) String() string {
	return fmt.Sprintf("%s:%q", q.Source, q.Keyword)
}

// RawRecord is a source-specific record as decoded from the wire.
type RawRecord map[string]any

// PageResult is one page returned by a source adapter.
type PageResult struct {
	Items       []RawRecord
	TotalCount  int
	IsFirstPage bool
}

// Availability is the canonical order/stock taxonomy.
type Availability string

const (
	Available       Availability = "Available"
	OnSale          Availability = "On Sale"
	Limited         Availability = "Limited"
	PreOwned        Availability = "Pre-owned"
	PreOrder        Availability = "Pre-order"
	PreOrderClosed  Availability = "Pre-order Closed"
	BackOrder       Availability = "Back-order"
	BackOrderClosed Availability = "Back-order Closed"
	OrderClosed     Availability = "Order Closed"
)

// Product is the canonical record every source converges to.
type Product struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	ImageURL     string          `json:"image_url"`
	ThumbnailURL string          `json:"thumbnail_url"`
	SKU          string          `json:"sku"`
	Brand        string          `json:"brand"`
	Price        *int64          `json:"price"`
	Currency     string          `json:"currency"`
	Availability Availability    `json:"availability"`
	ReleaseDate  *string         `json:"release_date"`
	InStock      bool            `json:"in_stock"`
	IsPreorder   bool            `json:"is_preorder"`
	Flags        map[string]bool `json:"flags"`
	CreatedAt    time.Time       `json:"created_at,omitzero"`
	UpdatedAt    time.Time       `json:"updated_at,omitzero"`
}

// Clone returns a deep copy so stores never share maps or pointers with callers.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	if p.Price != nil {
		v := *p.Price
		out.Price = &v
	}
	if p.ReleaseDate != nil {
		v := *p.ReleaseDate
		out.ReleaseDate = &v
	}
	if p.Flags != nil {
		out.Flags = make(map[string]bool, len(p.Flags))
		for k, v := range p.Flags {
			out.Flags[k] = v
		}
	}
	return &out
}

// SessionState is a state of the ingestion state machine.
type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateFetching    SessionState = "fetching"
	StateNormalizing SessionState = "normalizing"
	StateDone        SessionState = "done"
	StateAborted     SessionState = "aborted"
)

// SessionResult holds the outcome of one FetchAll run.
type SessionResult struct {
	Query      Query
	Products   []*Product
	RawLog     []RawRecord
	State      SessionState
	Exhausted  bool
	TotalCount int
	PageCount  int
	Unmappable int
	RetryCount int
	Duplicates int
	StartTime  time.Time
	EndTime    time.Time
}
