// Copyright 2025 The Passwordstate Operator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package passwordstate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

const (
	// APIKeyHeader is the request header carrying the Passwordstate API key.
	APIKeyHeader = "APIKey"

	DefaultTimeout = 30 * time.Second
)

// ClientConfig configures the HTTP side of a Client.
type ClientConfig struct {
	// Timeout bounds a whole request, body included.
	Timeout time.Duration
	// QPS limits the rate of requests sent to Passwordstate. Zero disables
	// the limit.
	QPS float64
	// Burst is the number of requests allowed above QPS.
	Burst int
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client reads password lists from a Passwordstate server.
type Client struct {
	log        logr.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Client.
func NewClient(log logr.Logger, cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return &Client{
		log:        log.WithName("passwordstate"),
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		limiter:    limiter,
	}
}

// GetPasswordList fetches every password of the list listID. A non 2xx
// answer is returned as an *APIError.
func (c *Client) GetPasswordList(ctx context.Context, serverBaseURL, listID, apiKey string) (*PasswordListResponse, error) {
	endpoint, err := passwordListURL(serverBaseURL, listID)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetching password list %s: %w", listID, err)
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading password list %s: %w", listID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			ListID:     listID,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	passwords, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing password list %s: %w", listID, err)
	}

	c.log.V(1).Info("Fetched password list", "listID", listID, "passwords", len(passwords))
	return &PasswordListResponse{
		Passwords: passwords,
		Body:      string(body),
	}, nil
}

func passwordListURL(serverBaseURL, listID string) (string, error) {
	if serverBaseURL == "" {
		return "", fmt.Errorf("passwordstate server base url is empty")
	}
	base, err := url.Parse(strings.TrimRight(serverBaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid passwordstate server base url %q: %w", serverBaseURL, err)
	}
	base = base.JoinPath("api", "passwords", listID)
	q := base.Query()
	q.Set("QueryAll", "true")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// APIError is returned when Passwordstate answers with a non success
// status.
type APIError struct {
	ListID     string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Sprintf("failed to fetch password list with id %s from passwordstate: %s: %s", e.ListID, e.Status, msg)
}

var _ error = &APIError{}
