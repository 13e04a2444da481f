package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

const (
	DefaultExportEndpoint = "https://data.mixpanel.com/api/2.0/export/"
	DefaultJQLEndpoint    = "https://mixpanel.com/api/2.0/jql/"

	// SmallSetByteLimit caps the bytes read by small-dataset requests.
	SmallSetByteLimit = 5 * 1024 * 1024

	signatureTTL   = 10 * time.Minute
	defaultTimeout = 30 * time.Minute
)

// Options configures a Client
type Options struct {
	Credentials    domain.Credentials
	Retry          RetryPolicy
	ExportEndpoint string
	JQLEndpoint    string
	HTTPClient     *http.Client
	RateLimiter    RateLimiter
	Metrics        *Metrics
	Logger         zerolog.Logger

	// Now and Sleep are swapped in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client issues signed GET requests against the Mixpanel API
type Client struct {
	creds          domain.Credentials
	signer         *Signer
	retry          RetryPolicy
	exportEndpoint string
	jqlEndpoint    string
	httpClient     *http.Client
	rateLimiter    RateLimiter
	metrics        *Metrics
	log            zerolog.Logger
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Mixpanel API client
func NewClient(opts Options) *Client {
	c := &Client{
		creds:          opts.Credentials,
		signer:         NewSigner(opts.Credentials.Secret),
		retry:          opts.Retry,
		exportEndpoint: opts.ExportEndpoint,
		jqlEndpoint:    opts.JQLEndpoint,
		httpClient:     opts.HTTPClient,
		rateLimiter:    opts.RateLimiter,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		now:            opts.Now,
		sleep:          opts.Sleep,
	}
	if c.retry.Limit < 1 {
		c.retry = DefaultRetryPolicy
	}
	if c.exportEndpoint == "" {
		c.exportEndpoint = DefaultExportEndpoint
	}
	if c.jqlEndpoint == "" {
		c.jqlEndpoint = DefaultJQLEndpoint
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(0, 1)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// RequestOptions tunes a single request
type RequestOptions struct {
	// ByteLimit > 0 requests and reads at most that many bytes.
	ByteLimit int64
}

// Export fetches raw events for the date range in params.
func (c *Client) Export(ctx context.Context, params Params) ([]any, error) {
	return c.RequestRecords(ctx, c.exportEndpoint, params, RequestOptions{})
}

// ExportSmallDataset is Export capped at SmallSetByteLimit, for previews.
func (c *Client) ExportSmallDataset(ctx context.Context, params Params) ([]any, error) {
	return c.RequestRecords(ctx, c.exportEndpoint, params, RequestOptions{ByteLimit: SmallSetByteLimit})
}

// SendJQLScript runs a JQL script.
func (c *Client) SendJQLScript(ctx context.Context, params Params) ([]any, error) {
	return c.RequestRecords(ctx, c.jqlEndpoint, params, RequestOptions{})
}

// SendJQLScriptSmallDataset is SendJQLScript capped at SmallSetByteLimit.
func (c *Client) SendJQLScriptSmallDataset(ctx context.Context, params Params) ([]any, error) {
	return c.RequestRecords(ctx, c.jqlEndpoint, params, RequestOptions{ByteLimit: SmallSetByteLimit})
}

// Request sends a signed GET and returns the response body.
func (c *Client) Request(ctx context.Context, endpoint string, params Params, opts RequestOptions) (string, error) {
	body, _, err := c.request(ctx, endpoint, params, opts)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RequestRecords sends a signed GET and decodes the body into values.
func (c *Client) RequestRecords(ctx context.Context, endpoint string, params Params, opts RequestOptions) ([]any, error) {
	body, truncated, err := c.request(ctx, endpoint, params, opts)
	if err != nil {
		return nil, err
	}
	values, err := parseBody(body, truncated)
	if err != nil {
		return nil, apperrors.NewRuntimeError("unparseable response from "+endpoint, err)
	}
	return values, nil
}

// request drives the retry machine until success, a fatal status or an
// exhausted budget.
func (c *Client) request(ctx context.Context, endpoint string, params Params, opts RequestOptions) ([]byte, bool, error) {
	u, err := c.signedURL(endpoint, params)
	if err != nil {
		return nil, false, err
	}
	label := endpointLabel(endpoint)

	state := stateAttempting
	attempt := 0
	var lastErr error
	for state == stateAttempting {
		attempt++
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, false, err
		}

		body, truncated, status, err := c.attempt(ctx, u, opts, label)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			lastErr = err
			state = c.retry.next(attempt, outcomeRetryable)
		} else {
			o := classifyStatus(status)
			if o != outcomeSuccess {
				lastErr = &statusError{StatusCode: status, Body: strings.TrimSpace(string(body))}
			}
			state = c.retry.next(attempt, o)
			if state == stateSuccess {
				return body, truncated, nil
			}
		}

		switch state {
		case stateFailedFatal:
			return nil, false, apperrors.WrapConfigError(lastErr, "mixpanel rejected the request to %s; check credentials, script and filters", label)
		case stateFailedExhausted:
			return nil, false, apperrors.NewRuntimeError(fmt.Sprintf("mixpanel request to %s failed after %d attempts", label, attempt), lastErr)
		}

		wait := c.retry.Backoff(attempt)
		c.metrics.observeRetry(label)
		c.log.Warn().Err(lastErr).
			Str("endpoint", label).
			Int("attempt", attempt).
			Int("limit", c.retry.Limit).
			Dur("wait", wait).
			Msg("retrying mixpanel request")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, false, err
		}
	}
	return nil, false, lastErr
}

// attempt performs one HTTP round trip. A non-nil error is a transport
// failure; HTTP statuses are returned for classification.
func (c *Client) attempt(ctx context.Context, u string, opts RequestOptions, label string) ([]byte, bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if opts.ByteLimit > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", opts.ByteLimit-1))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeAttempt(label, 0, time.Since(start))
		return nil, false, 0, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if opts.ByteLimit > 0 {
		reader = io.LimitReader(resp.Body, opts.ByteLimit+1)
	}
	body, err := io.ReadAll(reader)
	c.metrics.observeAttempt(label, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, false, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	truncated := false
	if opts.ByteLimit > 0 {
		if int64(len(body)) > opts.ByteLimit {
			body = body[:opts.ByteLimit]
			truncated = true
		}
		if resp.StatusCode == http.StatusPartialContent {
			truncated = true
		}
	}
	return body, truncated, resp.StatusCode, nil
}

// signedURL attaches api_key, expire and sig to params. The secret itself
// never leaves the process.
func (c *Client) signedURL(endpoint string, params Params) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", apperrors.WrapConfigError(err, "invalid endpoint %q", endpoint)
	}

	signed := params.Clone()
	signed["api_key"] = c.creds.Key
	if _, ok := signed["expire"]; !ok {
		signed["expire"] = strconv.FormatInt(c.now().Add(signatureTTL).Unix(), 10)
	}
	// Sign the rendered strings so the server sees exactly what was signed.
	rendered := make(Params, len(signed))
	q := u.Query()
	for k, v := range signed.Format() {
		rendered[k] = v
		q.Set(k, v)
	}
	q.Set("sig", c.signer.Sign(rendered))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func endpointLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Path == "" {
		return endpoint
	}
	return u.Path
}
