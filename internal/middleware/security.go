package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and sets response headers per route family:
//
//   - /proxy: media and playlists are embedded by a player running on another
//     origin (the webview), so they are marked cross-origin loadable and never
//     framed-denied.
//   - /commands: answers carry the port and the user's config, so they are
//     never cached and never framed.
//   - everything else: never framed.
//
// Headers are set before the handler runs: streamed responses commit their
// header block on the first write.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")

			path := c.Request().URL.Path
			switch {
			case path == "/proxy":
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			case strings.HasPrefix(path, "/commands/"):
				h.Set("X-Frame-Options", "DENY")
				h.Set("Cache-Control", "no-store")
			default:
				h.Set("X-Frame-Options", "DENY")
			}

			return next(c)
		}
	}
}
