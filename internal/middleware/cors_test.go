package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func newCORSEcho() *echo.Echo {
	e := echo.New()
	e.Pre(CORS())
	e.GET("/proxy", func(c echo.Context) error {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad"})
	})
	e.PUT("/commands/config", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlExposeHeaders))
}

func TestCORS_EveryResponse(t *testing.T) {
	e := newCORSEcho()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"handler error", http.MethodGet, "/proxy", http.StatusBadRequest},
		{"not found", http.MethodGet, "/nope", http.StatusNotFound},
		{"method not allowed", http.MethodPost, "/proxy", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assertCORS(t, rec)
		})
	}
}

func TestCORS_NoOriginHeaderRequired(t *testing.T) {
	e := newCORSEcho()
	req := httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody)
	req.Header.Del("Origin")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assertCORS(t, rec)
	assert.Equal(t, corsProxyMethods, rec.Header().Get(echo.HeaderAccessControlAllowMethods))
}

func TestCORS_Preflight(t *testing.T) {
	e := newCORSEcho()

	t.Run("proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/proxy?url=x", http.NoBody)
		req.Header.Set("Origin", "tauri://localhost")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assertCORS(t, rec)
		assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	})

	t.Run("commands", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/commands/config", http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, corsCommandMethods, rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	})
}
