package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IsHTTPURL reports whether s is an http:// or https:// location.
func IsHTTPURL(s string) bool {
	lower := strings.ToLower(s)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Fetch downloads rawURL into dir and returns the local path. The file keeps
// the URL's base name so the input format can still be inferred from its
// extension.
func Fetch(ctx context.Context, client *http.Client, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "input"
	}

	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	dst := filepath.Join(dir, filepath.Base(name))

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()

		return "", fmt.Errorf("writing %s: %w", dst, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", dst, err)
	}

	return dst, nil
}
