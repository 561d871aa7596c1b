// Package ui is the upload page and the submit action behind it.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/utils/formutil"
	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"go.uber.org/zap"
)

const MissingInputMessage = "Please upload both an image and a NDJSON file."

type Client struct {
	backendURL string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func NewClient(backendURL string, opts ...Option) *Client {
	c := &Client{
		backendURL: backendURL,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}

	return c
}

// Submit posts the pair to the backend and returns the message to show the
// user. It never fails; every outcome is a message.
func (c *Client) Submit(ctx context.Context, image, ndjson *types.Upload) string {
	if image == nil || ndjson == nil || image.Filename == "" || ndjson.Filename == "" {
		return MissingInputMessage
	}

	msg, err := c.submit(ctx, *image, *ndjson)
	if err != nil {
		c.logger.Warn("backend call failed", zap.Error(err))
		return fmt.Sprintf("Error calling backend: %v", err)
	}
	return msg
}

func (c *Client) submit(ctx context.Context, image, ndjson types.Upload) (string, error) {
	image.Filename = pathutil.BaseName(image.Filename)
	ndjson.Filename = pathutil.BaseName(ndjson.Filename)

	body, contentType, err := formutil.EncodeUploads(image, ndjson)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Backend error %d: %s", resp.StatusCode, data), nil
	}

	var reply map[string]any
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("invalid backend response: %w", err)
	}

	if s, ok := reply["result"].(string); ok && s != "" {
		return s, nil
	}
	if s, ok := reply["error"].(string); ok && s != "" {
		return s, nil
	}

	compact, err := json.Marshal(reply)
	if err != nil {
		return string(data), nil
	}
	return string(compact), nil
}
