// Package catalog is a client for the remote public books catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BranchIntl/relayq/errors"
	"golang.org/x/time/rate"
)

const serviceName = "books-catalog"

// DefaultBaseURL is the public books endpoint
const DefaultBaseURL = "https://api.freeapi.app/api/v1/public/books"

// Options for the catalog client
type Options struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond paces outbound calls; zero disables pacing
	RequestsPerSecond float64
	Burst             int

	// PageLimit is the page size requested while aggregating
	PageLimit int
	// MaxPages bounds how many pages TotalPageCount reads; zero reads until
	// the catalog reports no next page
	MaxPages int

	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes int64
}

// DefaultOptions returns default catalog options
func DefaultOptions() Options {
	return Options{
		BaseURL:           DefaultBaseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		PageLimit:         10,
		MaxPages:          1,
		MaxResponseBytes:  8 << 20,
	}
}

// VolumeInfo holds the book attributes the aggregation reads
type VolumeInfo struct {
	Title     string `json:"title"`
	PageCount *int64 `json:"pageCount,omitempty"`
}

// Book is one catalog entry
type Book struct {
	ID         any         `json:"id"`
	VolumeInfo *VolumeInfo `json:"volumeInfo,omitempty"`
}

// Pages returns the page count, zero when the book carries none
func (b Book) Pages() int64 {
	if b.VolumeInfo == nil || b.VolumeInfo.PageCount == nil {
		return 0
	}
	return *b.VolumeInfo.PageCount
}

// Page is one page of the catalog
type Page struct {
	Books      []Book `json:"data"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"totalPages"`
	NextPage   bool   `json:"nextPage"`
}

type envelope struct {
	Data    Page   `json:"data"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Client fetches catalog pages
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	options Options
}

// NewClient creates a catalog client
func NewClient(options Options) *Client {
	if options.BaseURL == "" {
		options.BaseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if options.RequestsPerSecond > 0 {
		limit = rate.Limit(options.RequestsPerSecond)
	}
	burst := options.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:    &http.Client{Timeout: options.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		options: options,
	}
}

// List returns the raw catalog response for a page. Zero page or limit
// leaves the catalog defaults in place.
func (c *Client) List(ctx context.Context, page, limit int) (json.RawMessage, error) {
	return c.get(ctx, page, limit)
}

// Page fetches and decodes one page
func (c *Client) Page(ctx context.Context, page, limit int) (*Page, error) {
	body, err := c.get(ctx, page, limit)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewUpstreamError(serviceName, 0,
			errors.NewSerializationError("json", err))
	}
	return &env.Data, nil
}

// TotalPageCount sums the page counts of the catalog books. Books without a
// page count contribute zero.
func (c *Client) TotalPageCount(ctx context.Context) (int64, error) {
	var total int64
	for page := 1; ; page++ {
		p, err := c.Page(ctx, page, c.options.PageLimit)
		if err != nil {
			return 0, err
		}
		for _, b := range p.Books {
			total += b.Pages()
		}

		if !p.NextPage || len(p.Books) == 0 {
			break
		}
		if c.options.MaxPages > 0 && page >= c.options.MaxPages {
			break
		}
	}
	return total, nil
}

func (c *Client) get(ctx context.Context, page, limit int) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(c.options.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog url: %v", errors.ErrInvalidConfig, err)
	}
	q := u.Query()
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamError(serviceName, 0, err)
	}
	defer resp.Body.Close()

	maxBytes := c.options.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultOptions().MaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, errors.NewUpstreamError(serviceName, resp.StatusCode, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, errors.NewUpstreamError(serviceName, resp.StatusCode,
			fmt.Errorf("response exceeds %d bytes", maxBytes))
	}

	slog.Debug("Catalog request", "url", u.String(), "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewUpstreamError(serviceName, resp.StatusCode,
			fmt.Errorf("unexpected status %s", resp.Status))
	}
	if !json.Valid(body) {
		return nil, errors.NewUpstreamError(serviceName, resp.StatusCode,
			fmt.Errorf("response is not JSON"))
	}
	return body, nil
}
