package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"stream-proxy-go/internal/model"
)

// ErrBodyTooLarge is returned by ReadBody when the decoded body exceeds its limit.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// cancelBody ties a response body to the context its request was sent with.
// Canceling aborts a blocked read; Close releases the context.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// ReadBody reads at most limit decoded bytes from resp. Brotli bodies are
// decoded here because some CDNs send them even when nobody asked; gzip is
// already undone by the transport. It does not close the body.
func ReadBody(resp *model.UpstreamResponse, limit int64) ([]byte, error) {
	return ReadBodyWithin(resp, limit, 0)
}

// ReadBodyWithin is ReadBody with an idle deadline: if no byte arrives for
// idle, the read is aborted and a *FetchError of KindTimeout is returned.
// The deadline only applies to bodies returned by StreamClient.Fetch; idle <= 0
// disables it.
func ReadBodyWithin(resp *model.UpstreamResponse, limit int64, idle time.Duration) ([]byte, error) {
	var src io.Reader = resp.Body
	var ir *idleReader
	if cb, ok := resp.Body.(*cancelBody); ok && idle > 0 {
		ir = newIdleReader(cb, idle)
		defer ir.stop()
		src = ir
	}

	var r io.Reader = src
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "br":
		r = brotli.NewReader(src)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		if ir != nil && ir.expired.Load() {
			return nil, &FetchError{
				Kind: KindTimeout,
				URL:  finalURL(resp),
				Err:  fmt.Errorf("no body data for %s: %w", idle, context.DeadlineExceeded),
			}
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// idleReader cancels the request once idle passes without a successful read.
type idleReader struct {
	body    *cancelBody
	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(body *cancelBody, idle time.Duration) *idleReader {
	r := &idleReader{body: body, idle: idle}
	r.timer = time.AfterFunc(idle, func() {
		r.expired.Store(true)
		body.cancel()
	})
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && !r.expired.Load() {
		r.timer.Reset(r.idle)
	}
	return n, err
}

func (r *idleReader) stop() { r.timer.Stop() }

func finalURL(resp *model.UpstreamResponse) string {
	if resp.FinalURL == nil {
		return ""
	}
	return resp.FinalURL.Redacted()
}
