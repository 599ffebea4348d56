package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/monitoring"
)

// UpstreamError reports a non-2xx response from the processing service.
// The original status and body are preserved so callers can tell a bad
// request apart from a failing service. Upstream errors are never
// retried; a failed conversion will fail again.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("processing service returned %d: %s", e.Status, e.Body)
}

// RequestError reports input the client rejected before anything was
// sent upstream.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func newRequestError(format string, args ...any) *RequestError {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// FilePart is one file in a multipart request.
type FilePart struct {
	Field    string
	Filename string
	Content  []byte
}

// Result is the outcome of a processing operation. PDF operations
// return bytes; text extraction returns a document in the requested
// format.
type Result struct {
	Content     []byte
	ContentType string
	Filename    string
}

// Client forwards PDF operations to the external processing service.
type Client struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	breakers *CircuitBreakerManager
}

// NewClient creates a processing service client.
func NewClient(cfg *config.ProcessingConfig, breakers *CircuitBreakerManager) *Client {
	if breakers == nil {
		breakers = NewCircuitBreakerManager(nil)
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		breakers: breakers,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// do sends a multipart request to an endpoint behind its circuit
// breaker and returns the raw result.
func (c *Client) do(ctx context.Context, operation, endpoint string, files []FilePart, fields map[string]string) (*Result, error) {
	start := time.Now()

	result, err := c.breakers.Execute(ctx, endpoint, func() (interface{}, error) {
		return c.send(ctx, endpoint, files, fields)
	})

	if err != nil {
		monitoring.RecordPDFOperation(operation, "error", time.Since(start))
		monitoring.RecordPDFOperationError(operation, classifyError(err))
		return nil, err
	}

	monitoring.RecordPDFOperation(operation, "ok", time.Since(start))
	return result.(*Result), nil
}

func (c *Client) send(ctx context.Context, endpoint string, files []FilePart, fields map[string]string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, file := range files {
		part, err := writer.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("failed to write form file: %w", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("processing request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Msg("Processing service error")
		return nil, &UpstreamError{
			Status: resp.StatusCode,
			Body:   truncate(string(respBody), 4096),
		}
	}

	return &Result{
		Content:     respBody,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromHeaders(resp.Header),
	}, nil
}

// Health checks the processing service status endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/info/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("processing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("processing service returned %d", resp.StatusCode)
	}
	return nil
}

// filenameFromHeaders pulls the output filename from Content-Disposition,
// falling back to a timestamped default.
func filenameFromHeaders(h http.Header) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("output_%s.pdf", time.Now().Format("20060102_150405"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func classifyError(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "transport"
	}
}
