package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// HTTPConfig configures an HTTP tool client.
type HTTPConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:7001"
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// Timeout bounds each individual attempt
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// RetryAttempts is the number of attempts before surfacing the error
	RetryAttempts int `json:"retry_attempts" mapstructure:"retry_attempts"`

	// RetryDelay is the base backoff; after failed attempt n (counting from
	// 0) the client waits RetryDelay * 2^n before the next attempt
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

var httpVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPClient speaks JSON to a tool server over HTTP. Methods are either bare
// paths (POSTed) or verb-prefixed strings like "GET /api/x".
type HTTPClient struct {
	config HTTPConfig
	client *http.Client

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewHTTPClient creates an HTTP tool client with defaults applied.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &HTTPClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Connect marks the client connected. HTTP is connectionless; reachability is
// confirmed lazily by calls or via HealthCheck.
func (c *HTTPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	c.connected = true
	return nil
}

// Call performs the request with per-attempt timeout and exponential backoff
// across attempts. Any error, including non-2xx responses, is retried until
// the attempt budget is exhausted.
func (c *HTTPClient) Call(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.mu.Unlock()

	verb, path := splitMethod(method)

	var lastErr error
	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * (1 << uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.attempt(ctx, verb, path, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		log.WithFields(log.Fields{
			"method":  method,
			"attempt": attempt + 1,
			"max":     c.config.RetryAttempts,
		}).WithError(err).Debug("Tool call attempt failed")
	}

	return nil, fmt.Errorf("tool call %s failed after %d attempts: %w", method, c.config.RetryAttempts, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, verb, path string, params map[string]interface{}) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	target := c.config.BaseURL + path

	var body io.Reader
	if verb == http.MethodGet {
		if len(params) > 0 {
			query := url.Values{}
			for key, value := range params {
				query.Set(key, fmt.Sprintf("%v", value))
			}
			target += "?" + query.Encode()
		}
	} else {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, verb, target, body)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "call", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var result interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	return result, nil
}

// HealthCheck issues GET <baseUrl>/health; any 2xx response indicates healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed || !c.connected {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Disconnect marks the client closed. Idempotent.
func (c *HTTPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}

// splitMethod separates an optional verb prefix from the path. A bare path
// defaults to POST.
func splitMethod(method string) (string, string) {
	if space := strings.IndexByte(method, ' '); space > 0 {
		verb := strings.ToUpper(method[:space])
		if httpVerbs[verb] {
			path := strings.TrimSpace(method[space+1:])
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			return verb, path
		}
	}

	path := method
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return http.MethodPost, path
}
