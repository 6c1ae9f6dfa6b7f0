package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/toolscout/catalogd/internal/domain"
)

const maxPages = 100

// HTTPOptions configures the HTTP producer.
type HTTPOptions struct {
	BaseURL    string
	AuthHeader string // sent verbatim as Authorization when set
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	Tries      uint
	Backoff    func() backoff.BackOff
	Client     *http.Client
}

// HTTPProducer pulls candidates page by page from GET {base}/tools?page=N
// and triggers the news stream with POST {base}/news/refresh. Every request
// waits on the shared limiter; 429 and 5xx responses are retried.
type HTTPProducer struct {
	base    *url.URL
	auth    string
	client  *http.Client
	limiter *rate.Limiter
	tries   uint
	backoff func() backoff.BackOff
}

// NewHTTPProducer validates the base URL and fills defaults.
func NewHTTPProducer(opts HTTPOptions) (*HTTPProducer, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("discovery: invalid base url %q", opts.BaseURL)
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Tries == 0 {
		opts.Tries = 4
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPProducer{
		base:    base,
		auth:    opts.AuthHeader,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		tries:   opts.Tries,
		backoff: opts.Backoff,
	}, nil
}

type toolsPage struct {
	Tools    []domain.Candidate `json:"tools"`
	NextPage int                `json:"nextPage"`
}

type newsResult struct {
	Count int `json:"count"`
}

func (p *HTTPProducer) DiscoverTools(ctx context.Context) ([]domain.Candidate, error) {
	var out []domain.Candidate
	page := 1
	for i := 0; i < maxPages && page > 0; i++ {
		var tp toolsPage
		q := url.Values{"page": {strconv.Itoa(page)}}
		if err := p.do(ctx, http.MethodGet, "/tools", q, &tp); err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}
		out = append(out, tp.Tools...)
		if tp.NextPage <= page {
			break
		}
		page = tp.NextPage
	}
	slog.Debug("discovery: fetched candidates", "count", len(out))
	return out, nil
}

func (p *HTTPProducer) RefreshNews(ctx context.Context) (int, error) {
	var res newsResult
	if err := p.do(ctx, http.MethodPost, "/news/refresh", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// HealthCheck probes GET {base}/health.
func (p *HTTPProducer) HealthCheck(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (p *HTTPProducer) do(ctx context.Context, method, path string, q url.Values, into any) error {
	u := *p.base
	u.Path = p.base.Path + path
	u.RawQuery = q.Encode()

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if p.auth != "" {
			req.Header.Set("Authorization", p.auth)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 300:
			return nil, backoff.Permanent(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
		}
		return data, nil
	}, backoff.WithBackOff(p.backoff()), backoff.WithMaxTries(p.tries))
	if err != nil {
		return err
	}
	if into == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
