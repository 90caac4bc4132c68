// Package fetch downloads ZIM archives over HTTP so a conversion can start
// from nothing but a URL.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const userAgent = "zimdict/1.0"

// Ensure downloads url to path unless the file already exists. Returns true
// when a download actually happened.
func Ensure(ctx context.Context, url, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := Download(ctx, url, path); err != nil {
		return false, err
	}
	return true, nil
}

// Download streams url into path. The body lands in a .part file first and is
// renamed only after a complete read, so an interrupted transfer never leaves
// a plausible-looking archive behind. A gzip-encoded body is decompressed on
// the fly when the URL ends in .gz.
func Download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	part := path + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}
	defer out.Close()
	defer os.Remove(part)

	var body io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", url, err)
		}
		defer gz.Close()
		body = gz
	}

	if _, err := io.Copy(out, body); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(part, path)
}
