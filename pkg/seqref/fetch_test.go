package seqref

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzipped(t *testing.T, content string) []byte {
	t.Helper()

	buf := bytes.Buffer{}
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	chr1 := gzipped(t, ">chr1\nACGTACGT\n")
	chr2 := xzipped(t, ">chr2\nGATTACA\n")

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/chr1.fa.gz":
			w.Write(chr1)
		case "/chr2.fa.xz":
			w.Write(chr2)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	manifest := &Manifest{
		Vars: map[string]string{"BASE": srv.URL},
		Builds: map[string]map[string]FileSpec{
			Build37: {
				"1": {URL: "{BASE}/chr1.fa.gz", Sha256: digest(chr1)},
				"2": {URL: "{BASE}/chr2.fa.xz", Sha256: digest(chr2)},
			},
		},
	}

	dir := t.TempDir()
	fetcher := &Fetcher{DataDir: dir, Attempts: 1}

	fetched, err := fetcher.Fetch(context.Background(), manifest, Build37)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, fetched)

	seq, err := NewStore(dir).Sequence(Build37, "2", 0, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "GATTACA", seq)

	// stamps prevent a second download
	fetched, err = fetcher.Fetch(context.Background(), manifest, Build37)
	require.NoError(t, err)
	assert.Empty(t, fetched)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(">chr1\nACGT\n"))
	}))
	defer srv.Close()

	manifest := &Manifest{
		Builds: map[string]map[string]FileSpec{
			Build37: {"1": {URL: srv.URL + "/chr1.fa", Sha256: "deadbeef"}},
		},
	}

	dir := t.TempDir()
	fetcher := &Fetcher{DataDir: dir, Attempts: 3, Delay: time.Millisecond}

	_, err := fetcher.Fetch(context.Background(), manifest, Build37)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")

	_, err = os.Stat(ChromosomePath(dir, Build37, "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	body := []byte(">chr1\nACGT\n")

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	manifest := &Manifest{
		Builds: map[string]map[string]FileSpec{
			Build37: {"1": {URL: srv.URL + "/chr1.fa", Sha256: digest(body)}},
		},
	}

	dir := t.TempDir()
	fetcher := &Fetcher{DataDir: dir, Attempts: 3, Delay: time.Millisecond}

	fetched, err := fetcher.Fetch(context.Background(), manifest, Build37, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, fetched)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.yml")
	require.NoError(t, os.WriteFile(path, []byte(`vars:
  BASE: https://example.com/seqseek
builds:
  GRCh37:
    "1":
      url: "{BASE}/chr1.fa.gz"
      sha256: abc
`), 0o660))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/seqseek/chr1.fa.gz", manifest.expand(manifest.Builds[Build37]["1"].URL))
}
