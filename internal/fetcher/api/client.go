// Package api fetches report listings from the structured JSON endpoint that
// backs the report centre's tables.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// DefaultEndpoint is the report list API.
const DefaultEndpoint = "https://reportapi.eastmoney.com/report/list"

// Config controls the API client.
type Config struct {
	Endpoint  string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
	PageSize  int
	// Window is how far back the beginTime parameter reaches.
	Window time.Duration
	// Params override or extend the default query parameters.
	Params map[string]string
}

// Client implements crawler.PageProvider against the list API.
type Client struct {
	cfg    Config
	client *resty.Client
	now    func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * 24 * time.Hour
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	for key, values := range cfg.Headers {
		if len(values) > 0 && key != "Accept" {
			client.SetHeader(key, values[0])
		}
	}
	return &Client{cfg: cfg, client: client, now: time.Now}
}

// Fetch queries the list API. The url argument is recorded as the page's
// source; the request always goes to the configured endpoint.
func (c *Client) Fetch(ctx context.Context, url string) (crawler.RawPage, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(c.queryParams()).
		Get(c.cfg.Endpoint)
	if err != nil {
		return crawler.RawPage{}, fmt.Errorf("report api request: %w", err)
	}
	if resp.IsError() {
		return crawler.RawPage{}, &crawler.StatusError{URL: c.cfg.Endpoint, Code: resp.StatusCode()}
	}
	body := crawler.StripJSONP(string(resp.Body()))
	if body == "" {
		return crawler.RawPage{}, fmt.Errorf("report api returned no body: %w", crawler.ErrEmptyContent)
	}
	if !json.Valid([]byte(body)) {
		return crawler.RawPage{}, fmt.Errorf("report api returned non-JSON body: %w", crawler.ErrUnparseable)
	}
	source := url
	if source == "" {
		source = c.cfg.Endpoint
	}
	return crawler.RawPage{
		SourceURL:  source,
		FinalURL:   resp.Request.URL,
		Content:    body,
		Strategy:   crawler.StrategyAPI,
		StatusCode: resp.StatusCode(),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (c *Client) queryParams() map[string]string {
	now := c.now()
	params := map[string]string{
		"cb":           "datatable",
		"industryCode": "*",
		"pageSize":     strconv.Itoa(c.cfg.PageSize),
		"industry":     "*",
		"rating":       "*",
		"ratingChange": "*",
		"beginTime":    now.Add(-c.cfg.Window).Format("2006-01-02"),
		"endTime":      now.Format("2006-01-02"),
		"pageNo":       "1",
		"fields":       "",
		"qType":        "1",
		"_":            strconv.FormatInt(now.UnixMilli(), 10),
	}
	for k, v := range c.cfg.Params {
		params[k] = v
	}
	return params
}
