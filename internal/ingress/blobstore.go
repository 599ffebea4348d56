package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/monitoring"
)

// BlobStore is the interface the rest of the platform uses to move file
// bytes in and out of object storage.
type BlobStore interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) error
	Download(ctx context.Context, objectName string) ([]byte, error)
	Delete(ctx context.Context, objectName string) error
	SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// HTTPBlobStore talks to the storage service over its REST API using a
// service key. Object names are scoped to a single bucket.
type HTTPBlobStore struct {
	baseURL    string
	bucket     string
	serviceKey string
	client     *http.Client
}

// NewHTTPBlobStore creates a blob store client from storage config.
func NewHTTPBlobStore(cfg *config.StorageConfig) *HTTPBlobStore {
	return &HTTPBlobStore{
		baseURL:    cfg.BaseURL,
		bucket:     cfg.Bucket,
		serviceKey: cfg.ServiceKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Upload stores an object, overwriting any previous version.
func (s *HTTPBlobStore) Upload(ctx context.Context, objectName, contentType string, data []byte) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, objectName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		monitoring.RecordStorageUpload("error", 0)
		return fmt.Errorf("failed to upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		monitoring.RecordStorageUpload("error", 0)
		return fmt.Errorf("storage service returned %d: %s", resp.StatusCode, body)
	}

	monitoring.RecordStorageUpload("ok", int64(len(data)))
	return nil
}

// Download retrieves an object's bytes.
func (s *HTTPBlobStore) Download(ctx context.Context, objectName string) ([]byte, error) {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, objectName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("storage service returned %d: %s", resp.StatusCode, body)
	}

	return io.ReadAll(resp.Body)
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *HTTPBlobStore) Delete(ctx context.Context, objectName string) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, objectName)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage service returned %d: %s", resp.StatusCode, body)
	}

	return nil
}

// SignedURL asks the storage service for a time-limited download URL.
func (s *HTTPBlobStore) SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	url := fmt.Sprintf("%s/object/sign/%s/%s", s.baseURL, s.bucket, objectName)

	payload, err := json.Marshal(map[string]int64{"expiresIn": int64(ttl.Seconds())})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create sign request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to sign object URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("storage service returned %d: %s", resp.StatusCode, body)
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("failed to decode sign response: %w", err)
	}

	log.Debug().Str("object", objectName).Dur("ttl", ttl).Msg("Signed download URL issued")
	return s.baseURL + signed.SignedURL, nil
}
