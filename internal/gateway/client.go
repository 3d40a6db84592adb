// Package gateway dispatches records to the remote authority's create endpoints
// and reads back alerts and dashboard statistics.
package gateway

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

	"github.com/chetankumar-rs/AASHAKIRANA/internal/log"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// createPaths maps every record type to its create endpoint
var createPaths = map[model.RecordType]string{
	model.TypeFamilySurvey:     "/api/family-surveys",
	model.TypePregnancyReport:  "/api/pregnancy-reports",
	model.TypeChildVaccination: "/api/child-vaccinations",
	model.TypePostnatalCare:    "/api/postnatal-care",
	model.TypeLeprosyReport:    "/api/leprosy-reports",
}

const (
	alertsPath    = "/api/alerts"
	dashboardPath = "/api/dashboard"
	maxErrorBody  = 4 << 10
)

// CreatePath returns the create endpoint for t
func CreatePath(t model.RecordType) (string, error) {
	p, ok := createPaths[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecordType, t)
	}
	return p, nil
}

// Client talks to the remote authority over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token sent with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway URL %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create submits one payload to the create endpoint of its record type
func (c *Client) Create(ctx context.Context, payload model.Payload) error {
	if payload == nil {
		return fmt.Errorf("nil payload")
	}
	path, err := CreatePath(payload.RecordType())
	if err != nil {
		return err
	}
	body, err := model.EncodePayload(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// FetchAlerts returns the server's alerts, newest first
func (c *Client) FetchAlerts(ctx context.Context) ([]model.Alert, error) {
	var wire []alertWire
	if err := c.do(ctx, http.MethodGet, alertsPath, nil, &wire); err != nil {
		return nil, err
	}
	alerts := make([]model.Alert, 0, len(wire))
	for _, w := range wire {
		a, err := w.toAlert()
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", alertsPath, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// MarkAlertRead flags the alert as read on the server
func (c *Client) MarkAlertRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, alertsPath+"/"+url.PathEscape(id)+"/read", nil, nil)
}

// FetchDashboard returns the raw dashboard statistics document
func (c *Client) FetchDashboard(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, dashboardPath, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Probe reports whether the remote authority is reachable. Any HTTP response
// counts as reachable, only transport level failures do not.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "HEAD /", Err: err}
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	op := method + " " + path
	logger := log.GetLogger(ctx).WithField("component", "gateway").WithField("request", op)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Debug("Request failed")
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	logger.WithField("status", resp.StatusCode).WithField("elapsed", time.Since(start)).Debug("Request completed")

	if err := classify(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return &TransportError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy
func classify(op string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return &TransportError{Op: op, StatusCode: code}
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RejectedError{Op: op, StatusCode: code, Detail: errorDetail(data)}
	}
}

// errorDetail extracts the "detail" member of an error document. Validation
// errors carry a list there, which is returned as compact JSON.
func errorDetail(data []byte) string {
	var doc struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || len(doc.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(doc.Detail, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc.Detail); err != nil {
		return string(doc.Detail)
	}
	return buf.String()
}
