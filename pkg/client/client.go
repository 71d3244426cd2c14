// Package client calls a running Nova gateway over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
)

// ChatPath is the versioned pipeline endpoint
const ChatPath = "/v1/nova-chat"

// Client is a client for the gateway API
type Client struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

// ChatResponse is the body of an allowed request
type ChatResponse struct {
	LLMResponse   string                 `json:"llm_response"`
	InboundCheck  critic.SecurityVerdict `json:"inbound_check"`
	OutboundCheck *critic.PolicyVerdict  `json:"outbound_check"`
}

// PolicyWarned reports whether the answer carries a policy annotation
func (r *ChatResponse) PolicyWarned() bool {
	return r.OutboundCheck != nil && r.OutboundCheck.Violated()
}

// LogsResponse is one page of audit records
type LogsResponse struct {
	Records []audit.TransactionRecord `json:"records"`
	Total   int                       `json:"total"`
	Page    int                       `json:"page"`
	Limit   int                       `json:"limit"`
}

// VerifyResponse is the result of a chain verification
type VerifyResponse struct {
	IsValid bool   `json:"is_valid"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// RejectedError is returned when the Security Critic blocked the prompt
type RejectedError struct {
	Detail       string                 `json:"detail"`
	InboundCheck critic.SecurityVerdict `json:"inbound_check"`
}

func (e *RejectedError) Error() string {
	return e.Detail
}

// StatusError is returned for any other non-2xx response
type StatusError struct {
	StatusCode int
	Detail     string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// New creates a new gateway client
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(map[string]string),
	}
}

// SetHeader sets a header for all requests
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetToken sends token as a bearer credential on every request
func (c *Client) SetToken(token string) {
	c.SetHeader("Authorization", "Bearer "+token)
}

// Chat submits a prompt. An empty policy lets the gateway apply its default.
// A blocked prompt returns *RejectedError.
func (c *Client) Chat(ctx context.Context, prompt, policy string) (*ChatResponse, error) {
	body := map[string]string{"prompt": prompt}
	if policy != "" {
		body["policy"] = policy
	}

	status, raw, err := c.do(ctx, http.MethodPost, ChatPath, nil, body)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
		var resp ChatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode chat response: %w", err)
		}
		return &resp, nil
	case status == http.StatusBadRequest:
		var rejected RejectedError
		if err := json.Unmarshal(raw, &rejected); err == nil && rejected.InboundCheck.Verdict.Valid() {
			return nil, &rejected
		}
		return nil, statusError(status, raw)
	default:
		return nil, statusError(status, raw)
	}
}

// Logs fetches one page of audit records
func (c *Client) Logs(ctx context.Context, page, limit int) (*LogsResponse, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}

	var resp LogsResponse
	if err := c.getJSON(ctx, "/v1/logs", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Log fetches one audit record by ID
func (c *Client) Log(ctx context.Context, id string) (*audit.TransactionRecord, error) {
	var rec audit.TransactionRecord
	if err := c.getJSON(ctx, "/v1/logs/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verify asks the gateway to verify the audit hash chain
func (c *Client) Verify(ctx context.Context) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.getJSON(ctx, "/v1/logs/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, dst interface{}) error {
	status, raw, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, raw)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if len(query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range query {
			q.Add(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return httpResp.StatusCode, respBody, nil
}

func statusError(status int, raw []byte) *StatusError {
	e := &StatusError{StatusCode: status, Body: raw}
	var body struct {
		Detail           string `json:"detail"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(raw, &body) == nil {
		e.Detail = body.Detail
		if e.Detail == "" {
			e.Detail = body.ErrorDescription
		}
	}
	return e
}
