package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"stream-proxy-go/internal/client"
	"stream-proxy-go/internal/metrics"
	"stream-proxy-go/internal/model"
	"stream-proxy-go/internal/service"
)

// secretParamPattern matches credential-like query values (IPTV panels put
// username/password in the URL) in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:password|passwd|token|api_?key|auth)=)[^&\s"]+`)

// streamChunkSize bounds how much of a passthrough body is held before it is flushed.
const streamChunkSize = 32 * 1024

// ProxyHandler serves GET /proxy?url=...
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle fetches the target URL and writes back either the rewritten
// manifest or the upstream body, streamed as it arrives.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target, err := service.ParseTarget(c.QueryParam("url"))
	if err != nil {
		return h.mapError(c, err)
	}

	res, err := h.service.Open(&model.ProxyRequest{
		Ctx:    req.Context(),
		Target: target,
		Range:  req.Header.Get("Range"),
	})
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = res.Body.Close() }()

	for key, vals := range res.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(res.StatusCode)

	if req.Method == http.MethodHead {
		return nil
	}

	// The status is already on the wire, so a mid-stream failure can only
	// truncate the body. Closing res.Body on return releases the upstream.
	n, err := stream(c.Response(), res.Body)
	if h.metrics != nil && !res.Manifest {
		h.metrics.PassthroughBytes.Add(float64(n))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
			h.logger.Debug("client disconnected mid-stream", "bytes", n)
			return nil
		}
		h.logger.Warn("streaming response body",
			"err", sanitizeError(err),
			"bytes", n,
		)
	}
	return nil
}

// stream copies body to w, flushing after every chunk so that bytes reach the
// player as soon as the upstream produces them.
func stream(w *echo.Response, body io.Reader) (int64, error) {
	buf := make([]byte, streamChunkSize)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			w.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrInvalidTarget) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": service.ErrInvalidTarget.Error(),
		})
	}

	if errors.Is(err, service.ErrManifestTooLarge) || errors.Is(err, service.ErrPartialManifest) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": sanitizeError(err),
		})
	}

	var fe *client.FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case client.KindInvalidURL:
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": service.ErrInvalidTarget.Error(),
			})
		case client.KindTimeout:
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		case client.KindTooManyRedirects:
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error": "upstream redirected too many times",
			})
		}
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	if fe != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

// sanitizeError redacts credentials from error messages that may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
