package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
)

const amiamiItemPath = "/api/v1.0/item"

// AmiAmiItem fetches a single AmiAmi product by gcode. The query keyword is
// the gcode; the result is always a one-item page.
type AmiAmiItem struct {
	*collector
}

type amiamiItemResponse struct {
	Success  *bool          `json:"RSuccess"`
	Message  string         `json:"RMessage"`
	Item     map[string]any `json:"item"`
	Embedded map[string]any `json:"_embedded"`
}

// NewAmiAmiItem builds the detail adapter.
func NewAmiAmiItem(sc config.SourceConfig, m *metrics.Metrics) (*AmiAmiItem, error) {
	c, err := newCollector(models.SourceAmiAmiItem, sc, m)
	if err != nil {
		return nil, err
	}
	c.headers["X-User-Key"] = sc.APIKey
	c.headers["Accept"] = "application/json"
	return &AmiAmiItem{collector: c}, nil
}

// FetchPage returns the product identified by q.Keyword. Only page 0 exists.
func (a *AmiAmiItem) FetchPage(ctx context.Context, q models.Query, pageIndex int) (*models.PageResult, error) {
	gcode := strings.TrimSpace(q.Keyword)
	params := url.Values{}
	params.Set("gcode", gcode)
	params.Set("lang", "eng")
	target := a.endpoint(amiamiItemPath, params)

	if gcode == "" {
		return nil, rejected(a.source, target, "invalid_request", errors.New("empty gcode"))
	}
	if pageIndex != 0 {
		return nil, rejected(a.source, target, "invalid_request", fmt.Errorf("item lookup has no page %d", pageIndex))
	}

	var (
		resp      amiamiItemResponse
		decodeErr error
	)
	err := a.visit(ctx, target, func(c *colly.Collector) {
		c.OnResponse(func(r *colly.Response) {
			decodeErr = decodeJSON(r.Body, &resp)
		})
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, rejected(a.source, target, "decode", decodeErr)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, rejected(a.source, target, "upstream", fmt.Errorf("api error: %s", resp.Message))
	}
	if len(resp.Item) == 0 {
		return nil, rejected(a.source, target, "schema", errors.New("response has no item"))
	}

	rec := models.RawRecord(resp.Item)
	if images, ok := resp.Embedded["review_images"]; ok {
		rec["review_images"] = images
	}
	return &models.PageResult{
		Items:       []models.RawRecord{rec},
		TotalCount:  1,
		IsFirstPage: true,
	}, nil
}
