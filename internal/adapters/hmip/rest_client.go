package hmip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// protocolVersion is sent in the VERSION header of every call
	protocolVersion = "12"

	restPathPrefix = "/hmip/"

	headerVersion    = "VERSION"
	headerClientAuth = "CLIENTAUTH"
	headerAuthToken  = "AUTHTOKEN"
	headerPin        = "PIN"
)

// authMode selects which credential headers a request carries
type authMode int

const (
	authLookup authMode = iota
	authPairing
	authFull
)

// RESTClient interface defines the cloud REST gateway
type RESTClient interface {
	// Host discovery
	ResolveHosts(ctx context.Context) (Hosts, error)
	Hosts() Hosts
	SetHosts(hosts Hosts)

	// Authenticated calls
	SetAuthToken(token string)
	HasAuthToken() bool
	Call(ctx context.Context, path string, body interface{}) ([]byte, error)

	// Pairing calls: no AUTHTOKEN, optional PIN
	CallPreAuth(ctx context.Context, path string, body interface{}) (*Response, error)
}

// Response is a raw REST response
type Response struct {
	StatusCode int
	Body       []byte
}

// RESTOptions configures a REST client
type RESTOptions struct {
	LookupURL      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Metrics        MetricsObserver
}

// restClient implements RESTClient
type restClient struct {
	identity   *Identity
	lookupURL  string
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    MetricsObserver

	mu        sync.RWMutex
	hosts     Hosts
	authToken string
}

// NewRESTClient creates a new REST client for identity
func NewRESTClient(identity *Identity, opts RESTOptions, logger *logrus.Logger) RESTClient {
	if opts.LookupURL == "" {
		opts.LookupURL = DefaultLookupURL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &restClient{
		identity:   identity,
		lookupURL:  opts.LookupURL,
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// ResolveHosts asks the lookup service for the REST and WebSocket hosts. No retry.
func (c *restClient) ResolveHosts(ctx context.Context) (Hosts, error) {
	c.logger.WithField("access_point_id", c.identity.AccessPointID()).Debug("Resolving HmIP hosts")

	body := lookupRequest{
		ClientCharacteristics: DefaultClientCharacteristics(),
		ID:                    c.identity.AccessPointID(),
	}

	status, data, err := c.doRequest(ctx, c.lookupURL, "getHost", body, authLookup)
	if err != nil {
		return Hosts{}, NewHmIPError(KindHostResolution, "Lookup request failed", err)
	}
	if status < 200 || status >= 300 {
		return Hosts{}, &HmIPError{
			Kind:    KindHostResolution,
			Code:    status,
			Message: "Lookup service rejected the request",
		}
	}

	hosts, err := parseHosts(data)
	if err != nil {
		return Hosts{}, err
	}

	c.SetHosts(hosts)

	c.logger.WithFields(logrus.Fields{
		"rest_url":      hosts.RESTURL,
		"websocket_url": hosts.WebSocketURL,
	}).Info("Resolved HmIP hosts")

	return hosts, nil
}

func (c *restClient) Hosts() Hosts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hosts
}

func (c *restClient) SetHosts(hosts Hosts) {
	hosts.RESTURL = strings.TrimSuffix(hosts.RESTURL, "/")
	hosts.WebSocketURL = NormalizeWebSocketURL(hosts.WebSocketURL)

	c.mu.Lock()
	c.hosts = hosts
	c.mu.Unlock()
}

func (c *restClient) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *restClient) HasAuthToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken != ""
}

// Call POSTs body to {restBaseUrl}/hmip/{path} with full authentication.
// Any transport failure or non-2xx status is returned as a REST call error.
func (c *restClient) Call(ctx context.Context, path string, body interface{}) ([]byte, error) {
	url, err := c.restURL(path)
	if err != nil {
		return nil, err
	}

	status, data, err := c.doRequest(ctx, url, path, body, authFull)
	if err != nil {
		return nil, newRestCallError(path, 0, "HTTP request failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, newRestCallError(path, status, "Unexpected status", fmt.Errorf("response: %s", truncate(data, 256)))
	}
	return data, nil
}

// CallPreAuth POSTs without AUTHTOKEN. Non-2xx statuses are returned in the response,
// not as errors, so the pairing steps can interpret them.
func (c *restClient) CallPreAuth(ctx context.Context, path string, body interface{}) (*Response, error) {
	url, err := c.restURL(path)
	if err != nil {
		return nil, err
	}

	status, data, err := c.doRequest(ctx, url, path, body, authPairing)
	if err != nil {
		return nil, newRestCallError(path, 0, "HTTP request failed", err)
	}
	return &Response{StatusCode: status, Body: data}, nil
}

func (c *restClient) restURL(path string) (string, error) {
	hosts := c.Hosts()
	if !hosts.Resolved() {
		return "", ErrHostsNotResolved
	}
	return hosts.RESTURL + restPathPrefix + strings.TrimPrefix(path, "/"), nil
}

// doRequest performs a single POST. There is no retry; callers own the retry policy.
func (c *restClient) doRequest(ctx context.Context, url, path string, body interface{}, mode authMode) (int, []byte, error) {
	if body == nil {
		body = struct{}{}
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, mode)

	c.logger.WithFields(logrus.Fields{
		"path": path,
		"mode": mode,
	}).Debug("Making HTTP request to HmIP cloud")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRESTCall(path, 0, time.Since(start))
		c.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("HmIP HTTP request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	c.metrics.ObserveRESTCall(path, resp.StatusCode, time.Since(start))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Received HTTP response from HmIP cloud")

	return resp.StatusCode, responseBody, nil
}

func (c *restClient) setHeaders(req *http.Request, mode authMode) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerVersion, protocolVersion)
	req.Header.Set(headerClientAuth, c.identity.ClientAuthToken())

	switch mode {
	case authLookup:
		return
	case authPairing:
		if pin := c.identity.Pin(); pin != "" {
			req.Header.Set(headerPin, pin)
		}
		return
	}

	c.mu.RLock()
	token := c.authToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set(headerAuthToken, token)
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
