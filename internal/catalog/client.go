package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCallTimeout = 120 * time.Second

// HTTPInvoker talks JSON over HTTP to the tool registry.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// HTTPInvokerOption configures an HTTPInvoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPInvokerOption {
	return func(i *HTTPInvoker) { i.client = c }
}

// WithHeader adds a header to every registry request.
func WithHeader(key, value string) HTTPInvokerOption {
	return func(i *HTTPInvoker) { i.headers[key] = value }
}

// NewHTTPInvoker creates a registry client for the given base URL.
func NewHTTPInvoker(baseURL string, opts ...HTTPInvokerOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultCallTimeout},
		headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// ListTools fetches the registry's tool specifications.
func (i *HTTPInvoker) ListTools(ctx context.Context) ([]ToolSpec, error) {
	var resp struct {
		Tools []ToolSpec `json:"tools"`
	}
	if err := i.do(ctx, http.MethodGet, "/tools", nil, &resp); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return resp.Tools, nil
}

// CallTool executes one tool on the registry.
func (i *HTTPInvoker) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	body := map[string]any{"name": name, "arguments": args}
	var result CallResult
	if err := i.do(ctx, http.MethodPost, "/tools/call", body, &result); err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return &result, nil
}

func (i *HTTPInvoker) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range i.headers {
		req.Header.Set(k, v)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
