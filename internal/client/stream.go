// Package client provides the outbound HTTP client used for every proxied fetch.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind int

const (
	KindInvalidURL ErrorKind = iota + 1
	KindNetwork
	KindTimeout
	KindTooManyRedirects
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid url"
	case KindNetwork:
		return "network error"
	case KindTimeout:
		return "timeout"
	case KindTooManyRedirects:
		return "too many redirects"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetch for every failure that happens before a
// response is available.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var errTooManyRedirects = errors.New("stopped after too many redirects")

// StreamClient fetches upstream URLs, following redirects to the final URL.
type StreamClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewStreamClient creates a StreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// There is no overall request timeout: a live stream body may legitimately
// last for hours. Connect, TLS and response-header phases are bounded instead,
// and body reads end when the request context is canceled.
func NewStreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamClient {
	headerTimeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	return &StreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		userAgent: cfg.Upstream.UserAgent,
		logger:    logger.With("component", "stream_client"),
		metrics:   m,
	}
}

// Fetch issues a GET for rawURL and follows redirects. header may be nil; its
// values are sent on the first hop and carried across redirects by net/http.
// The caller is responsible for closing the response body; closing it also
// releases the request context.
func (c *StreamClient) Fetch(ctx context.Context, rawURL string, header http.Header) (*model.UpstreamResponse, error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		cancel()
		return nil, &FetchError{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	for key, vals := range header {
		req.Header[key] = vals
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("upstream request", "url", target.Redacted())

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		cancel()
		return nil, &FetchError{Kind: classify(err), URL: rawURL, Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	final := resp.Request.URL
	if final.String() != target.String() {
		c.logger.Debug("upstream redirected", "from", target.Redacted(), "to", final.Redacted())
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelBody{ReadCloser: resp.Body, cancel: cancel},
		FinalURL:   final,
	}, nil
}

// ParseTarget parses rawURL and requires an absolute http or https URL with a host.
func ParseTarget(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func classify(err error) ErrorKind {
	if errors.Is(err, errTooManyRedirects) {
		return KindTooManyRedirects
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
