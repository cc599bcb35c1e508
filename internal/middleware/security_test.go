package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newSecurityEcho(seen *http.Header) *echo.Echo {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/proxy", func(c echo.Context) error {
		*seen = c.Request().Header.Clone()
		c.Response().Header().Set("Content-Type", "video/mp2t")
		c.Response().WriteHeader(http.StatusOK)
		_, err := c.Response().Write([]byte("chunk"))
		c.Response().Flush()
		return err
	})
	e.GET("/commands/config", func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{}`))
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestSecurityHeaders_StreamedProxyResponse(t *testing.T) {
	var seen http.Header
	e := newSecurityEcho(&seen)

	req := httptest.NewRequest(http.MethodGet, "/proxy?url=http%3A%2F%2Fh%2Fs.ts", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Range", "bytes=0-")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	res := rec.Result()
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"), "must be on the committed header block")
	assert.Equal(t, "cross-origin", res.Header.Get("Cross-Origin-Resource-Policy"))
	assert.Empty(t, res.Header.Get("X-Frame-Options"))

	assert.Empty(t, seen.Get("Connection"))
	assert.Empty(t, seen.Get("Proxy-Authorization"))
	assert.Equal(t, "bytes=0-", seen.Get("Range"), "end-to-end headers are kept")
}

func TestSecurityHeaders_Commands(t *testing.T) {
	var seen http.Header
	e := newSecurityEcho(&seen)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/commands/config", http.NoBody))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Cross-Origin-Resource-Policy"))
}

func TestSecurityHeaders_OtherRoutes(t *testing.T) {
	var seen http.Header
	e := newSecurityEcho(&seen)

	for _, path := range []string{"/healthz", "/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"), path)
		assert.Empty(t, rec.Header().Get("Cache-Control"), path)
	}
}
