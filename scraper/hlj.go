package scraper

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
)

const (
	hljSearchPath    = "/search/"
	hljCardSelector  = "div.search-widget-block"
	hljCountSelector = ".search-count"
)

var (
	hljTotalOf  = regexp.MustCompile(`(?i)\bof\s+(\d[\d,]*)`)
	hljFirstNum = regexp.MustCompile(`\d[\d,]*`)
)

// HLJ scrapes the HobbyLink Japan search result pages.
type HLJ struct {
	*collector
}

// NewHLJ builds the HTML search adapter.
func NewHLJ(sc config.SourceConfig, m *metrics.Metrics) (*HLJ, error) {
	c, err := newCollector(models.SourceHLJ, sc, m)
	if err != nil {
		return nil, err
	}
	return &HLJ{collector: c}, nil
}

// FetchPage requests page pageIndex (zero based) of the figure search.
func (h *HLJ) FetchPage(ctx context.Context, q models.Query, pageIndex int) (*models.PageResult, error) {
	params := url.Values{}
	params.Set("Word", q.Keyword)
	params.Set("page", strconv.Itoa(pageIndex+1))
	params["GenreCode2"] = []string{"Action Figures", "Figures", "Trading Figures"}
	params.Set("StockLevel", "All Future Release")
	target := h.endpoint(hljSearchPath, params)

	var (
		items     []models.RawRecord
		countText string
		sawCount  bool
	)
	err := h.visit(ctx, target, func(c *colly.Collector) {
		c.OnHTML(hljCountSelector, func(e *colly.HTMLElement) {
			if !sawCount {
				countText = e.Text
				sawCount = true
			}
		})
		c.OnHTML(hljCardSelector, func(e *colly.HTMLElement) {
			if rec := extractHLJCard(e); rec != nil {
				items = append(items, rec)
			}
		})
	})
	if err != nil {
		return nil, err
	}

	if !sawCount {
		return nil, rejected(h.source, target, "schema", errors.New("result counter not found"))
	}
	total, ok := parseHLJTotal(countText)
	if !ok {
		return nil, rejected(h.source, target, "schema", errors.New("result counter unreadable: "+strings.TrimSpace(countText)))
	}

	return &models.PageResult{
		Items:       items,
		TotalCount:  total,
		IsFirstPage: pageIndex == 0,
	}, nil
}

// extractHLJCard pulls the raw fields from one result card. Cards without a
// title are layout filler and are dropped.
func extractHLJCard(e *colly.HTMLElement) models.RawRecord {
	title := strings.TrimSpace(e.ChildText("p.product-item-name a"))
	if title == "" {
		return nil
	}

	href := e.ChildAttr("a.item-img-wrapper", "href")
	if href == "" {
		href = e.ChildAttr("p.product-item-name a", "href")
	}
	img := e.ChildAttr("a.item-img-wrapper img", "src")
	if img == "" {
		img = e.ChildAttr("a.item-img-wrapper img", "data-src")
	}

	rec := models.RawRecord{
		"title": title,
		"url":   href,
		"image": img,
		"price": hljPrice(e),
		"stock": joinTexts(e.DOM.Find(".stock-status, .item-status, span.badge")),
		"maker": collapse(e.ChildText(".product-item-maker")),
	}
	if code := e.Attr("data-code"); code != "" {
		rec["code"] = code
	}
	if sale := collapse(e.ChildText(".price .sale-price")); sale != "" {
		rec["sale_price"] = sale
	}
	if release := collapse(e.ChildText(".release-date")); release != "" {
		if before, after, found := strings.Cut(release, ":"); found && !strings.ContainsAny(before, "0123456789") {
			release = strings.TrimSpace(after)
		}
		rec["release"] = release
	}
	return rec
}

// hljPrice prefers the current selling amount and falls back to the whole
// price block.
func hljPrice(e *colly.HTMLElement) string {
	if current := collapse(e.DOM.Find("div.price span.bold.stock-left").First().Text()); current != "" {
		return current
	}
	return collapse(e.DOM.Find("div.price").First().Text())
}

func parseHLJTotal(text string) (int, bool) {
	text = strings.TrimSpace(text)
	match := hljTotalOf.FindStringSubmatch(text)
	var raw string
	if match != nil {
		raw = match[1]
	} else {
		raw = hljFirstNum.FindString(text)
	}
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func joinTexts(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " | ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
