// Package grafana publishes treatment annotations to a Grafana instance.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	annotationsPath = "/api/annotations"
	healthPath      = "/api/health"
	maxErrorBody    = 64 << 10
)

// ErrTimeout is returned when Grafana does not answer within the client timeout.
var ErrTimeout = errors.New("grafana: timed out")

// APIError is returned when Grafana answers with anything other than 200.
// Body holds the response text verbatim.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return e.Body
}

// Client communicates with the Grafana HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	dashboardUID string
	panelID      int
	httpClient   *http.Client
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithDashboard scopes created annotations to one dashboard panel.
func WithDashboard(uid string, panelID int) Option {
	return func(c *Client) {
		c.dashboardUID = uid
		c.panelID = panelID
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Grafana client authenticating with apiKey.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAnnotation posts a treatment annotation stamped with the current
// time. Only HTTP 200 counts as success; nothing is retried.
func (c *Client) CreateAnnotation(ctx context.Context, text string) (AnnotationResponse, error) {
	body, err := json.Marshal(Annotation{
		DashboardUID: c.dashboardUID,
		PanelID:      c.panelID,
		Time:         c.now().UnixMilli(),
		Text:         text,
		Tags:         []string{TreatmentTag},
	})
	if err != nil {
		return AnnotationResponse{}, fmt.Errorf("marshaling annotation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+annotationsPath, bytes.NewReader(body))
	if err != nil {
		return AnnotationResponse{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AnnotationResponse{}, c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return AnnotationResponse{}, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// Any 200 means the annotation exists; the body is informational.
	var out AnnotationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		slog.Debug("unreadable annotation response", "error", err)
		return AnnotationResponse{}, nil
	}
	return out, nil
}

// Health checks that Grafana is up and returns its version.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return "", fmt.Errorf("decoding health response: %w", err)
	}
	if h.Database != "" && h.Database != "ok" {
		return h.Version, fmt.Errorf("grafana database %s", h.Database)
	}
	return h.Version, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *Client) wrapTransportError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, c.httpClient.Timeout, err)
	}
	return fmt.Errorf("executing request: %w", err)
}
