package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveBody(e http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCommandHandler_ProxyPort(t *testing.T) {
	e, _ := newTestEcho(t, testConfig(t))

	rec := serve(e, http.MethodGet, "/commands/proxy-port")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"port":41234}`, rec.Body.String())
}

func TestCommandHandler_FetchURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get.php", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/playlist.m3u", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/playlist.m3u", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:-1,News\nnews.m3u8\n"))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	e, _ := newTestEcho(t, testConfig(t))
	rec := serveBody(e, http.MethodPost, "/commands/fetch-url", `{"url":"`+upstream.URL+`/get.php"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Body     string `json:"body"`
		FinalURL string `json:"final_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "#EXTM3U\n#EXTINF:-1,News\nnews.m3u8\n", got.Body)
	assert.Equal(t, upstream.URL+"/playlist.m3u", got.FinalURL)
}

func TestCommandHandler_FetchURLFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	e, _ := newTestEcho(t, testConfig(t))

	t.Run("upstream status", func(t *testing.T) {
		rec := serveBody(e, http.MethodPost, "/commands/fetch-url", `{"url":"`+upstream.URL+`/list.m3u?password=pw"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "failed to fetch: 403 Forbidden", errorBody(t, rec))
	})

	t.Run("bad request body", func(t *testing.T) {
		rec := serveBody(e, http.MethodPost, "/commands/fetch-url", `{"link":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCommandHandler_Config(t *testing.T) {
	e, _ := newTestEcho(t, testConfig(t))

	rec := serve(e, http.MethodGet, "/commands/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	blob := `{"playlists":[{"name":"home","url":"http://h/p.m3u"}],"volume":0.8}`
	rec = serveBody(e, http.MethodPut, "/commands/config", blob)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(e, http.MethodGet, "/commands/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, blob, rec.Body.String(), "blob is stored verbatim")
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestCommandHandler_ConfigRejectsInvalidJSON(t *testing.T) {
	e, _ := newTestEcho(t, testConfig(t))

	rec := serveBody(e, http.MethodPut, "/commands/config", `{"unterminated":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodGet, "/commands/config")
	assert.JSONEq(t, `{}`, rec.Body.String(), "rejected write must not replace the stored blob")
}
