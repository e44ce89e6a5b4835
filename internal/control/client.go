package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client calls a control API server.
type Client struct {
	baseURL string
	http    *http.Client
	nextID  atomic.Int64
}

// NewClient returns a client for the server at baseURL, e.g.
// http://127.0.0.1:7070. A nil httpClient uses a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type clientResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *clientError    `json:"error"`
}

type clientError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call invokes method with params and decodes the result into out, which
// may be nil. Application failures are returned as *APIError; other
// protocol failures as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	req := Request{JSONRPC: "2.0", Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = data
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %s", method, resp.Status)
	}

	var decoded clientResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if e := decoded.Error; e != nil {
		if e.Code == ErrApplication && len(e.Data) > 0 {
			var apiErr APIError
			if json.Unmarshal(e.Data, &apiErr) == nil && apiErr.Code != "" {
				return &apiErr
			}
		}
		return &Error{Code: e.Code, Message: e.Message}
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
