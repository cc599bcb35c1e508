// Package service implements the core proxy logic: fetch, classify, then
// either rewrite a manifest or hand the body back for streaming.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/manifest"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
)

var (
	// ErrInvalidTarget is returned when the url parameter is missing or is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("missing or invalid url parameter: expected an absolute http(s) URL")
	// ErrManifestTooLarge is returned when a manifest body exceeds manifest.max_bytes.
	ErrManifestTooLarge = errors.New("manifest too large")
	// ErrPartialManifest is returned when the upstream only serves part of a
	// manifest even though the whole body was requested.
	ErrPartialManifest = errors.New("upstream returned a partial manifest")
)

// passthroughHeaders are the upstream response headers forwarded on streamed responses.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"Expires",
	"Last-Modified",
	"Etag",
}

const defaultContentType = "application/octet-stream"

// Fetcher performs an upstream GET and follows redirects.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, header http.Header) (*model.UpstreamResponse, error)
}

// Result is a response ready to be written to the caller.
type Result struct {
	StatusCode int
	Header     http.Header
	// Body is the rewritten manifest, or the live upstream body for passthrough.
	// The caller must close it.
	Body     io.ReadCloser
	Manifest bool
}

// ProxyService handles proxy requests.
type ProxyService struct {
	fetcher     Fetcher
	rewriter    *manifest.Rewriter
	maxManifest int64
	readIdle    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(f Fetcher, rw *manifest.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		fetcher:     f,
		rewriter:    rw,
		maxManifest: cfg.Manifest.MaxBytes,
		readIdle:    time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		logger:      logger.With("component", "proxy_service"),
		metrics:     m,
	}
}

// ParseTarget validates the raw url query parameter.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := client.ParseTarget(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return u, nil
}

// Open fetches pr.Target and returns the response to send back.
//
// A successful response classified as a manifest is buffered (bounded) and
// rewritten against the URL it was finally served from. Everything else,
// including every non-2xx response, is returned with the upstream body
// unread so the caller can stream it.
func (s *ProxyService) Open(pr *model.ProxyRequest) (*Result, error) {
	header := make(http.Header)
	// A partial manifest cannot be rewritten, so Range is only sent for media.
	if pr.Range != "" && !manifest.IsManifest(pr.Target.Path, "") {
		header.Set("Range", pr.Range)
	}

	resp, err := s.fetcher.Fetch(pr.Ctx, pr.Target.String(), header)
	if err != nil {
		s.count(metrics.KindError)
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}

	if !resp.Success() || !manifest.IsManifest(resp.FinalURL.Path, resp.Header.Get("Content-Type")) {
		s.count(metrics.KindPassthrough)
		return &Result{
			StatusCode: resp.StatusCode,
			Header:     filterHeaders(resp.Header),
			Body:       resp.Body,
		}, nil
	}

	// Only the content type revealed a manifest, after Range was already sent.
	if partial(resp) && header.Get("Range") != "" {
		_ = resp.Body.Close()
		s.logger.Debug("range request answered with a manifest, refetching whole body",
			"final_url", resp.FinalURL.Redacted(),
		)
		resp, err = s.fetcher.Fetch(pr.Ctx, pr.Target.String(), nil)
		if err != nil {
			s.count(metrics.KindError)
			return nil, fmt.Errorf("refetch manifest: %w", err)
		}
		if !resp.Success() {
			s.count(metrics.KindPassthrough)
			return &Result{
				StatusCode: resp.StatusCode,
				Header:     filterHeaders(resp.Header),
				Body:       resp.Body,
			}, nil
		}
	}
	if partial(resp) {
		_ = resp.Body.Close()
		s.count(metrics.KindError)
		return nil, fmt.Errorf("%w: %s", ErrPartialManifest, resp.FinalURL.Redacted())
	}

	return s.rewrite(resp)
}

// partial reports whether resp carries only a byte range of its resource.
func partial(resp *model.UpstreamResponse) bool {
	return resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Content-Range") != ""
}

func (s *ProxyService) rewrite(resp *model.UpstreamResponse) (*Result, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := client.ReadBodyWithin(resp, s.maxManifest, s.readIdle)
	if err != nil {
		s.count(metrics.KindError)
		if errors.Is(err, client.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%w: exceeds %d bytes", ErrManifestTooLarge, s.maxManifest)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	out := s.rewriter.Rewrite(body, resp.FinalURL)

	s.logger.Debug("manifest rewritten",
		"final_url", resp.FinalURL.Redacted(),
		"bytes_in", len(body),
		"bytes_out", len(out),
	)
	s.count(metrics.KindManifest)
	if s.metrics != nil {
		s.metrics.ManifestRewrites.Inc()
	}

	header := make(http.Header)
	header.Set("Content-Type", manifest.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(out)))
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		header.Set("Cache-Control", cc)
	}

	return &Result{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(out)),
		Manifest:   true,
	}, nil
}

func (s *ProxyService) count(kind string) {
	if s.metrics != nil {
		s.metrics.ProxyResponses.WithLabelValues(kind).Inc()
	}
}

func filterHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range passthroughHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", defaultContentType)
	}
	return dst
}
