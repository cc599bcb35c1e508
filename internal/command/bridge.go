// Package command implements the callable commands the UI collaborator uses:
// proxy port discovery, raw playlist fetch, and config blob persistence.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/config"
	"stream-proxy-go/internal/model"
)

// Fetcher performs an upstream GET and follows redirects.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, header http.Header) (*model.UpstreamResponse, error)
}

// PortSource yields the proxy port once bootstrap completes.
type PortSource interface {
	Wait(ctx context.Context) (int, error)
}

// ConfigStore persists an opaque blob.
type ConfigStore interface {
	Read() (string, error)
	Write(data string) error
}

// FetchResult is the raw playlist and the URL it was finally served from.
type FetchResult struct {
	Body     string `json:"body"`
	FinalURL string `json:"final_url"`
}

// Bridge exposes the command surface.
type Bridge struct {
	fetcher  Fetcher
	ports    PortSource
	store    ConfigStore
	maxBytes int64
	readIdle time.Duration
	logger   *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(f Fetcher, ports PortSource, store ConfigStore, cfg *config.Config, logger *slog.Logger) *Bridge {
	return &Bridge{
		fetcher:  f,
		ports:    ports,
		store:    store,
		maxBytes: cfg.Manifest.MaxPlaylistBytes,
		readIdle: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		logger:   logger.With("component", "command_bridge"),
	}
}

// GetProxyPort returns the proxy port, waiting for bootstrap if necessary.
func (b *Bridge) GetProxyPort(ctx context.Context) (int, error) {
	return b.ports.Wait(ctx)
}

// FetchURL fetches rawURL without any rewriting. The returned error carries a
// single message meant to be shown to the user as is.
func (b *Bridge) FetchURL(ctx context.Context, rawURL string) (*FetchResult, error) {
	resp, err := b.fetcher.Fetch(ctx, rawURL, nil)
	if err != nil {
		b.logger.Warn("playlist fetch failed", "err", err)
		return nil, fetchFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !resp.Success() {
		return nil, fmt.Errorf("failed to fetch: %d %s", resp.StatusCode, statusText(resp.StatusCode))
	}

	body, err := client.ReadBodyWithin(resp, b.maxBytes, b.readIdle)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	return &FetchResult{
		Body:     string(body),
		FinalURL: resp.FinalURL.String(),
	}, nil
}

// ReadConfig returns the stored config blob ("{}" when none exists).
func (b *Bridge) ReadConfig() (string, error) {
	data, err := b.store.Read()
	if err != nil {
		return "", fmt.Errorf("failed to read config: %v", err)
	}
	return data, nil
}

// WriteConfig replaces the stored config blob.
func (b *Bridge) WriteConfig(data string) error {
	if err := b.store.Write(data); err != nil {
		return fmt.Errorf("failed to write config: %v", err)
	}
	return nil
}

func fetchFailure(err error) error {
	var fe *client.FetchError
	if !errors.As(err, &fe) {
		return fmt.Errorf("network error: %v", err)
	}
	switch fe.Kind {
	case client.KindInvalidURL:
		return fmt.Errorf("invalid url %q: %v", fe.URL, fe.Err)
	case client.KindTimeout:
		return fmt.Errorf("network error: request to %s timed out", fe.URL)
	case client.KindTooManyRedirects:
		return fmt.Errorf("network error: too many redirects from %s", fe.URL)
	default:
		return fmt.Errorf("network error: %v", fe.Err)
	}
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}
