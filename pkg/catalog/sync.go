package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SyncSource supplies a raw signature document to SyncService.
type SyncSource interface {
	// Fetch returns the raw YAML signature document.
	Fetch(ctx context.Context) ([]byte, error)
	// Describe names the source for logs and error messages.
	Describe() string
}

// FileSource reads a signature document from the local filesystem.
type FileSource struct {
	Path string
}

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read signature source: %w", err)
	}
	return data, nil
}

func (s *FileSource) Describe() string {
	return s.Path
}

// HTTPSource fetches a signature document over HTTP. Mirrors are tried in
// order after the primary URL fails, and Checksum, when set to
// "sha256:<hex>", must match the fetched payload.
type HTTPSource struct {
	URL      string
	Mirrors  []string
	Checksum string
	Client   *http.Client
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	urls := []string{s.URL}
	urls = append(urls, s.Mirrors...)

	var lastErr error
	for _, url := range urls {
		data, err := s.fetchURL(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if s.Checksum != "" {
			if err := verifyChecksum(data, s.Checksum); err != nil {
				lastErr = fmt.Errorf("%s: %w", url, err)
				continue
			}
		}
		return data, nil
	}

	return nil, fmt.Errorf("failed to fetch signatures from %s: %w", s.URL, lastErr)
}

func (s *HTTPSource) fetchURL(ctx context.Context, url string) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signatures: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func (s *HTTPSource) Describe() string {
	return s.URL
}

// SyncStore persists a fetched signature document.
type SyncStore interface {
	Save(data []byte) error
	Location() string
}

// FileStore writes the signature document to a local path, creating parent
// directories as needed.
type FileStore struct {
	Path string
}

func (s *FileStore) Save(data []byte) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create signature directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write signature file: %w", err)
	}
	return nil
}

func (s *FileStore) Location() string {
	return s.Path
}

// SyncService fetches a signature set, validates it, and persists it for
// later runs. Validation happens before the store write so a broken upstream
// document never replaces a working local one.
type SyncService struct {
	Source SyncSource
	Store  SyncStore
}

// Sync runs one fetch-validate-persist cycle and returns the compiled
// catalog. The store is optional; without one Sync only validates.
func (s *SyncService) Sync(ctx context.Context) (*Catalog, error) {
	if s.Source == nil {
		return nil, fmt.Errorf("sync: no source configured")
	}

	data, err := s.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", s.Source.Describe(), err)
	}

	if s.Store != nil {
		if err := s.Store.Save(data); err != nil {
			return nil, err
		}
	}

	return cat, nil
}

func verifyChecksum(data []byte, expectedChecksum string) error {
	// Expected format: "sha256:hex"
	parts := strings.SplitN(expectedChecksum, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid checksum format: %s", expectedChecksum)
	}

	algorithm := parts[0]
	expectedHex := parts[1]

	if algorithm != "sha256" {
		return fmt.Errorf("unsupported checksum algorithm: %s", algorithm)
	}

	hash := sha256.Sum256(data)
	actualHex := hex.EncodeToString(hash[:])

	if actualHex != expectedHex {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedHex, actualHex)
	}

	return nil
}
