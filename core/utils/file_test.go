package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "a.mp3")

	n, err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/a.mp3", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(data))

	_, err = DownloadFile(context.Background(), nil, srv.URL+"/missing.mp3", filepath.Join(dir, "missing.mp3"))
	assert.ErrorContains(t, err, "404")
	_, err = os.Stat(filepath.Join(dir, "missing.mp3"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
