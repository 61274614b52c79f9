// Package parser maps source-specific raw records into the canonical product
// schema.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// ErrUnmappableRecord is returned when a raw record has no extractable id.
var ErrUnmappableRecord = errors.New("parser: unmappable record")

// Hosts overrides the hosts a mapping resolves relative URLs against.
type Hosts struct {
	SiteURL   string
	ImageHost string
}

// Normalizer holds the mapping tables for every known source kind.
type Normalizer struct {
	mappings map[models.SourceKind]Mapping
}

// NewNormalizer copies the built-in tables and applies host overrides.
// Empty override fields keep the table default.
func NewNormalizer(hosts map[models.SourceKind]Hosts) *Normalizer {
	mappings := make(map[models.SourceKind]Mapping, len(defaultMappings))
	for kind, m := range defaultMappings {
		if h, ok := hosts[kind]; ok {
			if h.SiteURL != "" {
				m.SiteURL = strings.TrimSuffix(h.SiteURL, "/")
			}
			if h.ImageHost != "" {
				m.ImageHost = strings.TrimSuffix(h.ImageHost, "/")
			}
		}
		mappings[kind] = m
	}
	return &Normalizer{mappings: mappings}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize maps raw with the built-in tables.
func Normalize(raw models.RawRecord, kind models.SourceKind) (*models.Product, error) {
	return defaultNormalizer.Normalize(raw, kind)
}

// Normalize maps one raw record into a Product. Only a missing id is an
// error; every other missing or malformed field degrades to its zero value.
func (n *Normalizer) Normalize(raw models.RawRecord, kind models.SourceKind) (*models.Product, error) {
	m, ok := n.mappings[kind]
	if !ok {
		return nil, fmt.Errorf("parser: no mapping for source %q", kind)
	}

	productURL := AbsoluteURL(m.SiteURL, firstString(raw, m.URL))
	id := firstString(raw, m.ID)
	if id == "" && m.IDFromURL && productURL != "" {
		id = idFromURL(productURL)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s record has no id", ErrUnmappableRecord, kind)
	}
	if productURL == "" && m.DetailPath != "" {
		productURL = m.SiteURL + fmt.Sprintf(m.DetailPath, url.QueryEscape(id))
	}

	flags := make(map[Flag]bool, len(allFlags))
	for _, f := range allFlags {
		flags[f] = readFlag(raw, m.Flags[f])
	}
	named := make(map[string]bool, len(flags))
	for f, v := range flags {
		named[string(f)] = v
	}

	image := AbsoluteURL(m.ImageHost, firstString(raw, m.Image))
	thumb := AbsoluteURL(m.ImageHost, firstString(raw, m.Thumbnail))
	if thumb == "" {
		thumb = image
	}
	sku := firstString(raw, m.SKU)
	if sku == "" {
		sku = id
	}

	return &models.Product{
		ID:           id,
		Source:       m.Catalog,
		Title:        firstString(raw, m.Title),
		URL:          productURL,
		ImageURL:     image,
		ThumbnailURL: thumb,
		SKU:          sku,
		Brand:        firstString(raw, m.Brand),
		Price:        firstPrice(raw, m.Price),
		Currency:     m.Currency,
		Availability: ResolveAvailability(flags),
		ReleaseDate:  NormalizeDate(firstString(raw, m.ReleaseDate)),
		InStock:      flags[FlagInStock],
		IsPreorder:   flags[FlagPreorder],
		Flags:        named,
	}, nil
}

func firstPrice(raw models.RawRecord, keys []string) *int64 {
	for _, k := range keys {
		if p := ParsePrice(raw[k]); p != nil {
			return p
		}
	}
	return nil
}
