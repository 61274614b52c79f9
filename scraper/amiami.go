package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-figures/config"
	"github.com/aluiziolira/go-scrape-figures/metrics"
	"github.com/aluiziolira/go-scrape-figures/models"
)

const amiamiItemsPath = "/api/v1.0/items"

// AmiAmi searches the AmiAmi JSON API.
type AmiAmi struct {
	*collector
}

type amiamiSearchResponse struct {
	Success      *bool              `json:"RSuccess"`
	Message      string             `json:"RMessage"`
	SearchResult *amiamiSearchMeta  `json:"search_result"`
	Items        []models.RawRecord `json:"items"`
}

type amiamiSearchMeta struct {
	TotalResults *int `json:"total_results"`
}

// NewAmiAmi builds the search adapter.
func NewAmiAmi(sc config.SourceConfig, m *metrics.Metrics) (*AmiAmi, error) {
	c, err := newCollector(models.SourceAmiAmi, sc, m)
	if err != nil {
		return nil, err
	}
	c.headers["X-User-Key"] = sc.APIKey
	c.headers["Accept"] = "application/json"
	return &AmiAmi{collector: c}, nil
}

// FetchPage requests page pageIndex (zero based) of the keyword search.
func (a *AmiAmi) FetchPage(ctx context.Context, q models.Query, pageIndex int) (*models.PageResult, error) {
	params := url.Values{}
	params.Set("s_keywords", q.Keyword)
	params.Set("pagecnt", strconv.Itoa(pageIndex+1))
	params.Set("pagemax", strconv.Itoa(a.cfg.PageSize))
	params.Set("lang", "eng")
	target := a.endpoint(amiamiItemsPath, params)

	var (
		resp      amiamiSearchResponse
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
	if resp.SearchResult == nil || resp.SearchResult.TotalResults == nil {
		return nil, rejected(a.source, target, "schema", errors.New("missing search_result.total_results"))
	}

	return &models.PageResult{
		Items:       resp.Items,
		TotalCount:  *resp.SearchResult.TotalResults,
		IsFirstPage: pageIndex == 0,
	}, nil
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
