package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	corsProxyMethods   = "GET, HEAD, OPTIONS"
	corsCommandMethods = "GET, POST, PUT, OPTIONS"
)

// CORS returns an Echo pre-router middleware that marks every response as
// readable from any origin and answers preflight requests with 204.
//
// It must be registered with e.Pre so router errors (404, 405) carry the
// headers too. Echo's CORS middleware only acts when an Origin header is
// present, which media elements in a webview do not always send.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, allowedMethods(c.Request().URL.Path))
			h.Set(echo.HeaderAccessControlAllowHeaders, "*")
			h.Set(echo.HeaderAccessControlExposeHeaders, "*")

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

func allowedMethods(path string) string {
	if path == "/commands" || strings.HasPrefix(path, "/commands/") {
		return corsCommandMethods
	}
	return corsProxyMethods
}
