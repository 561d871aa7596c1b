// Package runtime talks to an inference server speaking the KServe v2 HTTP
// protocol (Triton, OpenVINO Model Server, MLServer and friends).
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/tensor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrModelNotReady = errors.New("model is not ready")
	ErrMissingOutput = errors.New("missing output tensor")
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type wireTensor struct {
	Name       string          `json:"name"`
	Shape      []int           `json:"shape"`
	DataType   string          `json:"datatype"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	ID         string            `json:"id"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Inputs     []wireTensor      `json:"inputs"`
	Outputs    []requestedOutput `json:"outputs,omitempty"`
}

type inferResponse struct {
	ModelName    string       `json:"model_name"`
	ModelVersion string       `json:"model_version,omitempty"`
	ID           string       `json:"id"`
	Outputs      []wireTensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Request is one inference call: named inputs, the outputs wanted back and
// model-specific parameters.
type Request struct {
	Inputs     map[string]*tensor.Tensor
	Outputs    []string
	Parameters map[string]any
}

type Response struct {
	ModelName string
	Outputs   map[string]*tensor.Tensor
}

func (r *Response) Output(name string) (*tensor.Tensor, error) {
	t, ok := r.Outputs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrMissingOutput, name, r.ModelName)
	}
	return t, nil
}

// Infer posts to /v2/models/{model}/infer.
func (c *Client) Infer(ctx context.Context, model string, req *Request) (*Response, error) {
	body := inferRequest{
		ID:         uuid.NewString(),
		Parameters: req.Parameters,
	}

	for _, name := range sortedKeys(req.Inputs) {
		wt, err := encodeTensor(name, req.Inputs[name])
		if err != nil {
			return nil, err
		}
		body.Inputs = append(body.Inputs, wt)
	}
	for _, name := range req.Outputs {
		body.Outputs = append(body.Outputs, requestedOutput{Name: name})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal infer request: %w", err)
	}

	start := time.Now()
	var resp inferResponse
	if err := c.do(ctx, http.MethodPost, c.modelPath(model, "infer"), payload, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}

	c.logger.Debug("inference call finished",
		zap.String("model", model),
		zap.String("request_id", body.ID),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := &Response{ModelName: resp.ModelName, Outputs: make(map[string]*tensor.Tensor, len(resp.Outputs))}
	if out.ModelName == "" {
		out.ModelName = model
	}
	for _, wt := range resp.Outputs {
		t, err := decodeTensor(wt)
		if err != nil {
			return nil, fmt.Errorf("%s: output %s: %w", model, wt.Name, err)
		}
		out.Outputs[wt.Name] = t
	}

	return out, nil
}

// Ready reports whether the server as a whole is ready.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v2/health/ready", nil, nil)
}

// ModelReady checks /v2/models/{model}/ready.
func (c *Client) ModelReady(ctx context.Context, model string) error {
	if err := c.do(ctx, http.MethodGet, c.modelPath(model, "ready"), nil, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModelNotReady, model, err)
	}
	return nil
}

// LoadModel asks the server to (re)load a model from its repository.
func (c *Client) LoadModel(ctx context.Context, model string, parameters map[string]any) error {
	var payload []byte
	if len(parameters) > 0 {
		var err error
		payload, err = json.Marshal(map[string]any{"parameters": parameters})
		if err != nil {
			return err
		}
	} else {
		payload = []byte("{}")
	}

	return c.do(ctx, http.MethodPost, "/v2/repository/models/"+url.PathEscape(model)+"/load", payload, nil)
}

func (c *Client) modelPath(model, action string) string {
	return "/v2/models/" + url.PathEscape(model) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("runtime returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("runtime returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
