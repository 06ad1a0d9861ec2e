package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore persists uploaded selfies onto the local filesystem and serves
// them back through a public base URL. It stands in for a hosted image
// service in single-process deployments.
type FileStore struct {
	basePath   string
	baseURL    string
	httpClient *http.Client
}

// UploadResult describes a stored selfie.
type UploadResult struct {
	URL string
	Key string
}

// NewFileStore initializes a FileStore rooted at basePath, with public URLs
// built from baseURL.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:   basePath,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// UploadSelfie decodes imageData (a data URI or bare base64 payload), writes
// it under a uuid-derived key and returns the public URL.
func (s *FileStore) UploadSelfie(ctx context.Context, imageData string) (*UploadResult, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ext, err := decodeImagePayload(imageData)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("selfies/selfie_%s.%s", uuid.NewString()[:8], ext)
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("storage: write file: %w", err)
	}

	return &UploadResult{URL: s.URL(key), Key: key}, nil
}

// Delete removes a stored object. Best effort cleanup; a missing file is not
// an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// URL returns the public URL for a storage key.
func (s *FileStore) URL(key string) string {
	if s == nil || s.baseURL == "" {
		return key
	}
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Fetch downloads the bytes behind an image reference. Data URIs are decoded
// inline, URLs under the store's own base are read straight from disk, and
// anything else goes over HTTP.
func (s *FileStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(ref, "data:") {
		data, _, err := decodeImagePayload(ref)
		return data, err
	}

	if s != nil && s.baseURL != "" && strings.HasPrefix(ref, s.baseURL+"/") {
		key, err := sanitizeKey(strings.TrimPrefix(ref, s.baseURL+"/"))
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(key)))
		if err != nil {
			return nil, fmt.Errorf("storage: read local object: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create download request: %w", err)
	}
	client := http.DefaultClient
	if s != nil && s.httpClient != nil {
		client = s.httpClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read download: %w", err)
	}
	return data, nil
}

// decodeImagePayload accepts either a full data URI or a bare base64 string
// and returns the raw bytes plus a file extension guessed from the mime type.
func decodeImagePayload(imageData string) ([]byte, string, error) {
	imageData = strings.TrimSpace(imageData)
	if imageData == "" {
		return nil, "", errors.New("storage: empty image payload")
	}

	mime := "image/jpeg"
	payload := imageData
	if strings.HasPrefix(imageData, "data:") {
		head, rest, ok := strings.Cut(imageData, ",")
		if !ok {
			return nil, "", errors.New("storage: malformed data URI")
		}
		payload = rest
		head = strings.TrimPrefix(head, "data:")
		if m, _, found := strings.Cut(head, ";"); found || m != "" {
			if m != "" {
				mime = m
			}
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("storage: decode image payload: %w", err)
	}

	ext := "jpg"
	switch mime {
	case "image/png":
		ext = "png"
	case "image/webp":
		ext = "webp"
	case "image/gif":
		ext = "gif"
	}
	return data, ext, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
