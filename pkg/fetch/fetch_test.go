package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestEnsureSkipsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zim")
	if err := os.WriteFile(path, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	downloaded, err := Ensure(context.Background(), "http://invalid.test/archive.zim", path)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if downloaded {
		t.Fatal("expected cached file to short-circuit the download")
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("zim"), 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "archive.zim")
	if err := Download(context.Background(), srv.URL+"/archive.zim", path); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded %d bytes, want %d", len(got), len(payload))
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestDownloadDecompressesGzip(t *testing.T) {
	payload := []byte("inner archive bytes")
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write(payload)
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(compressed.Bytes())
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "archive.zim")
	if err := Download(context.Background(), srv.URL+"/archive.zim.gz", path); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestDownloadRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "archive.zim")
	if err := Download(context.Background(), srv.URL+"/missing.zim", path); err == nil {
		t.Fatal("expected an error for 404")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no file should exist after a failed download")
	}
}
