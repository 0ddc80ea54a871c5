// Package rest implements the "rest" driver: JSON documents fetched over
// HTTP GET.
//
// The service endpoint is the base URL and the fetch method is the path.
// Fetch options are sent as query parameters in sorted key order.
package rest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Name is the registered driver name.
const Name = "rest"

// Driver fetches records from a JSON HTTP API.
type Driver struct {
	client *Client
}

// New builds a driver from a service configuration. Recognised options:
// timeout_ms, max_retries, rate_limit, rate_burst, headers, user_agent.
func New(cfg ir.ServiceConfig) (*Driver, error) {
	base := cfg.EndpointValue()
	if base == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be an http or https URL", base)
	}

	cc := DefaultClientConfig()
	cc.BaseURL = base
	if cc.Timeout, err = driver.DurationMSOption(cfg, "timeout_ms", cc.Timeout); err != nil {
		return nil, err
	}
	if cc.MaxRetries, err = driver.IntOption(cfg, "max_retries", cc.MaxRetries); err != nil {
		return nil, err
	}
	if cc.RateLimit, err = driver.FloatOption(cfg, "rate_limit", cc.RateLimit); err != nil {
		return nil, err
	}
	if cc.RateBurst, err = driver.IntOption(cfg, "rate_burst", cc.RateBurst); err != nil {
		return nil, err
	}
	headers, err := driver.StringMapOption(cfg, "headers")
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		cc.Headers[k] = v
	}
	cc.UserAgent = driver.StringOption(cfg, cc.UserAgent, "user_agent")

	return &Driver{client: NewClient(cc)}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *Client) *Driver {
	return &Driver{client: c}
}

// Fetch performs one GET and selects records at req.StartPoint.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) ([]ir.Record, error) {
	query := url.Values{}
	for _, k := range ir.SortedKeys(req.Options) {
		if v := req.Options[k]; v != nil {
			query.Set(k, ir.FormatScalar(v))
		}
	}

	resp, err := d.client.Get(ctx, req.Method, query)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	doc, err := driver.DecodeJSONBytes(resp.Body)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	records, err := driver.Select(doc, req.StartPoint)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	return records, nil
}
