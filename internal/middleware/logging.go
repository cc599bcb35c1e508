// Package middleware provides Echo middleware for logging, CORS, metrics and security.
package middleware

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The proxied target is logged by host only; full URLs often carry credentials.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if host := targetHost(req.URL.Query().Get("url")); host != "" {
				attrs = append(attrs, "target_host", host)
			}

			level := slog.LevelInfo
			// Players fetch a segment every few seconds; keep those out of info logs.
			if req.URL.Path == "/proxy" && res.Status < 400 {
				level = slog.LevelDebug
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}

func targetHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
