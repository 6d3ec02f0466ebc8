// Package alertmanager provides a client for the Alertmanager v2 API.
package alertmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/avolkov/incident-bridge/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 5 // requests per second across all sources

	alertsPath = "/api/v2/alerts"
)

// Config holds Alertmanager client configuration.
type Config struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 means default
}

// Client fetches alerts from Alertmanager instances. A single client is
// shared by all configured sources so the rate limit is global.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Alertmanager client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// apiAlert mirrors the Alertmanager v2 alert shape, trimmed to the fields
// we consume.
type apiAlert struct {
	Fingerprint string            `json:"fingerprint"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	Status      struct {
		State string `json:"state"`
	} `json:"status"`
}

// FetchFiringAlerts returns the currently firing alerts from the given
// Alertmanager base URL. Silenced and inhibited alerts are excluded
// server-side.
func (c *Client) FetchFiringAlerts(ctx context.Context, endpoint string) ([]domain.Alert, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL, err := buildAlertsURL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var apiAlerts []apiAlert
	if err := json.NewDecoder(resp.Body).Decode(&apiAlerts); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	alerts := make([]domain.Alert, 0, len(apiAlerts))
	for _, a := range apiAlerts {
		if a.Status.State != "active" {
			continue
		}
		alerts = append(alerts, domain.Alert{
			Fingerprint: a.Fingerprint,
			State:       a.Status.State,
			Labels:      a.Labels,
			Annotations: a.Annotations,
			StartsAt:    a.StartsAt,
		})
	}

	return alerts, nil
}

func buildAlertsURL(endpoint string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	base.Path, err = url.JoinPath(base.Path, alertsPath)
	if err != nil {
		return "", fmt.Errorf("build alerts path: %w", err)
	}

	q := base.Query()
	q.Set("active", "true")
	q.Set("silenced", "false")
	q.Set("inhibited", "false")
	base.RawQuery = q.Encode()

	return base.String(), nil
}
