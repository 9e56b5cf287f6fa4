// Package agrosubsidy provides a small Go client for the relief agent's
// operator REST API.
package agrosubsidy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the relief agent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Status mirrors the runtime snapshot returned by GET /status.
type Status struct {
	Chain           string            `json:"chain"`
	SchemeID        string            `json:"scheme_id"`
	Cursor          uint64            `json:"cursor"`
	Contracts       ContractAddresses `json:"contracts"`
	SignerReady     bool              `json:"signer_ready"`
	SummarizerReady bool              `json:"summarizer_ready"`
	AutoEligibility bool              `json:"auto_execute_eligibility"`
	AutoPayments    bool              `json:"auto_execute_payments"`
}

// ContractAddresses lists the deployed contracts backing the agent.
type ContractAddresses struct {
	PartyRegistry  string `json:"party_registry"`
	DisasterOracle string `json:"disaster_oracle"`
	RulesEngine    string `json:"rules_engine"`
	FundCustodian  string `json:"fund_custodian"`
}

// LogEntry is one record of the agent activity log.
type LogEntry struct {
	Timestamp int64          `json:"ts"`
	Level     string         `json:"level"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
}

// Logs is the response of GET /logs. Now carries the server clock in
// milliseconds; pass it back as since for incremental polling.
type Logs struct {
	Now     int64      `json:"now"`
	Entries []LogEntry `json:"entries"`
}

// SimulateRequest describes a synthetic disaster event. Zero-valued fields
// fall back to the server side demo defaults.
type SimulateRequest struct {
	Region       string `json:"region,omitempty"`
	Temperature  *int64 `json:"temperature,omitempty"`
	Rainfall     *int64 `json:"rainfall,omitempty"`
	DroughtAlert *bool  `json:"drought_alert,omitempty"`
	FloodAlert   *bool  `json:"flood_alert,omitempty"`
}

// TriggerAck acknowledges an accepted simulation trigger.
type TriggerAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	Region  string `json:"region"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agrosubsidy api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the relief agent API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken stores the static bearer token sent with mutating requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Status fetches the current runtime snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.get(ctx, "/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Logs fetches activity log entries newer than since (milliseconds, zero for
// all) limited to limit entries (zero for the server default).
func (c *Client) Logs(ctx context.Context, since int64, limit int) (Logs, error) {
	endpoint := "/logs"
	query := url.Values{}
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var logs Logs
	if err := c.get(ctx, endpoint, &logs); err != nil {
		return Logs{}, err
	}
	return logs, nil
}

// Simulate enqueues a synthetic disaster event for processing.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (TriggerAck, error) {
	var ack TriggerAck
	if err := c.post(ctx, "/simulate", req, &ack); err != nil {
		return TriggerAck{}, err
	}
	return ack, nil
}

// Demo enqueues the standard drought demo event.
func (c *Client) Demo(ctx context.Context) (TriggerAck, error) {
	var ack TriggerAck
	if err := c.post(ctx, "/demo", struct{}{}, &ack); err != nil {
		return TriggerAck{}, err
	}
	return ack, nil
}

// Healthy reports whether the service answers its health probe.
func (c *Client) Healthy(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	trimmed, rawQuery, _ := strings.Cut(endpoint, "?")
	rel := &url.URL{Path: path.Join(c.baseURL.Path, trimmed), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
