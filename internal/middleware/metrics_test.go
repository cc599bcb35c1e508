package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-proxy-go/internal/metrics"
)

// newMetricsEcho mirrors the route families served by the binary.
func newMetricsEcho(m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/proxy", func(c echo.Context) error {
		c.Response().Header().Set("Content-Type", "video/mp2t")
		c.Response().WriteHeader(http.StatusPartialContent)
		for range 3 {
			if _, err := c.Response().Write([]byte("chunk")); err != nil {
				return err
			}
			c.Response().Flush()
		}
		return nil
	})
	cmd := e.Group("/commands")
	cmd.GET("/proxy-port", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]int{"port": 41234})
	})
	cmd.PUT("/config", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "config must be valid JSON")
	})
	cmd.Any("/debug", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	return e
}

// requestSeries returns the stream_proxy_http_requests_total series for path,
// keyed by "METHOD STATUS".
func requestSeries(t *testing.T, m *metrics.Metrics, path string) map[string]float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "stream_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := labelMap(metric.GetLabel())
			if labels["path_prefix"] == path {
				out[labels["method"]+" "+labels["status_code"]] = metric.GetCounter().GetValue()
			}
		}
	}
	return out
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, lp := range pairs {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestMetricsMiddleware_StreamedProxyResponse(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/proxy?url=http%3A%2F%2Fh%2Fseg.ts", http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusPartialContent, rec.Code)
		require.Equal(t, "chunkchunkchunk", rec.Body.String())
	}

	assert.Equal(t, map[string]float64{"GET 206": 2}, requestSeries(t, m, "/proxy"),
		"status is taken from the committed response, query string never reaches the label")

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "stream_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if labelMap(metric.GetLabel())["path_prefix"] == "/proxy" {
					samples += metric.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestMetricsMiddleware_CommandsGroup(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	for _, tt := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/commands/proxy-port"},
		{http.MethodPut, "/commands/config"},
		{"XYZZY", "/commands/debug"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, http.NoBody))
	}

	assert.Equal(t, map[string]float64{
		"GET 200":   1,
		"PUT 400":   1, // echo.HTTPError resolved before the error handler writes it
		"other 204": 1,
	}, requestSeries(t, m, "/commands"))
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/playlist.m3u8", http.NoBody))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, map[string]float64{"GET 404": 1}, requestSeries(t, m, "other"))
}

func TestMetricsMiddleware_InFlightReleased(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/proxy?url=x", http.NoBody))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "stream_proxy_http_requests_in_flight" {
			assert.Zero(t, f.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Error("expected stream_proxy_http_requests_in_flight")
}
