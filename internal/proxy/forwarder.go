// Package proxy relays upload pairs from the UI tier to the model server.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/utils/formutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

var ErrNotJSON = errors.New("response is not valid JSON")

// Reply is the downstream answer, relayed as-is.
type Reply struct {
	StatusCode int
	Body       []byte
}

type Forwarder struct {
	modelURL   string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

type Option func(*Forwarder)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.httpClient = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithTimeout bounds each downstream call; zero means no limit.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

func NewForwarder(modelURL string, opts ...Option) *Forwarder {
	f := &Forwarder{
		modelURL:   modelURL,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.timeout > 0 {
		hc := *f.httpClient
		hc.Timeout = f.timeout
		f.httpClient = &hc
	}

	return f
}

// Forward re-posts both uploads to the model server. A reply is returned
// only when the downstream body parses as JSON; transport failures and
// non-JSON bodies are errors.
func (f *Forwarder) Forward(ctx context.Context, image, ndjson types.Upload) (*Reply, error) {
	body, contentType, err := formutil.EncodeUploads(image, ndjson)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.modelURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	f.logger.Info("model server replied",
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w (status %d)", ErrNotJSON, resp.StatusCode)
	}

	return &Reply{StatusCode: resp.StatusCode, Body: data}, nil
}

type requestIDKey struct{}

// WithRequestID makes Forward reuse an inbound request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
