// Package artifact uploads token images and metadata to a pinning service and
// returns ipfs:// URIs for them.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the default pinning API
const DefaultBaseURL = "https://api.pinata.cloud"

// DefaultTimeout is the default HTTP client timeout
const DefaultTimeout = 60 * time.Second

const (
	pinFilePath = "/pinning/pinFileToIPFS"
	pinJSONPath = "/pinning/pinJSONToIPFS"
)

// Config contains configuration for the publisher client
type Config struct {
	// BaseURL is the base URL of the pinning service
	// Defaults to DefaultBaseURL if not set
	BaseURL string
	// Token is sent as a bearer token on every request
	Token string
	// Timeout is the HTTP client timeout
	// Defaults to 60 seconds if not set
	Timeout time.Duration
}

// Client is an HTTP client for the pinning API. It implements mint.Publisher.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

type pinJSONRequest struct {
	PinataContent  json.RawMessage `json:"pinataContent"`
	PinataMetadata pinMetadata     `json:"pinataMetadata"`
}

// NewClient creates a new publisher client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// UploadImage pins image bytes under filename
func (c *Client) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image for %s", filename)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	meta, err := json.Marshal(pinMetadata{Name: filename})
	if err != nil {
		return "", err
	}
	if err := writer.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", fmt.Errorf("failed to write metadata field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	return c.pin(ctx, pinFilePath, writer.FormDataContentType(), &body, filename)
}

// UploadMetadata pins a JSON metadata document under filename
func (c *Client) UploadMetadata(ctx context.Context, document []byte, filename string) (string, error) {
	if !json.Valid(document) {
		return "", fmt.Errorf("metadata for %s is not valid JSON", filename)
	}
	payload, err := json.Marshal(pinJSONRequest{
		PinataContent:  document,
		PinataMetadata: pinMetadata{Name: filename},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal pin request: %w", err)
	}

	return c.pin(ctx, pinJSONPath, "application/json", bytes.NewReader(payload), filename)
}

// pin makes the actual API request
func (c *Client) pin(ctx context.Context, path, contentType string, body io.Reader, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pinning API returned status %d for %s: %s", resp.StatusCode, filename, strings.TrimSpace(string(detail)))
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if pinned.IpfsHash == "" {
		return "", fmt.Errorf("pin response for %s has no hash", filename)
	}
	return "ipfs://" + pinned.IpfsHash, nil
}
