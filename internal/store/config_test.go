package store

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-proxy-go/internal/config"
)

func newStore(t *testing.T) *ConfigStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "nested", "stream-proxy")
	return NewConfigStore(&config.Config{Store: config.StoreConfig{Dir: dir}})
}

func TestConfigStore_ReadMissing(t *testing.T) {
	s := newStore(t)

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "{}", got)
}

func TestConfigStore_WriteThenRead(t *testing.T) {
	s := newStore(t)
	blob := `{"sources":[{"name":"Home","url":"http://iptv.example/list.m3u"}],"order":[3,1,2]}`

	require.NoError(t, s.Write(blob))
	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	require.NoError(t, s.Write(`{}`))
	got, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, `{}`, got)
}

func TestConfigStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	s := newStore(t)
	require.NoError(t, s.Write(`{"a":1}`))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
