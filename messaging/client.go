// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/palaver-im/palaver/lib/ref"
)

// maxResponseSize bounds how much of a REST response body we read.
// Matrix responses are small; this exists so a misbehaving server
// cannot exhaust memory.
const maxResponseSize int64 = 16 << 20

// maxErrorBodySize bounds how much of an error response body we
// capture for classification and diagnostics.
const maxErrorBodySize int64 = 64 << 10

// ClientConfig carries the settings needed to construct a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix client-server API,
	// like "https://matrix.example.org". Required.
	HomeserverURL string
	// HTTPClient is the HTTP client for all requests, including
	// long-lived streaming connections. Optional; a client without a
	// global timeout is used by default (streaming connections stay
	// open indefinitely, so a global timeout would sever them).
	HTTPClient *http.Client
	// Logger receives structured logs. Optional; defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client is a connection to a Matrix homeserver. It performs the
// unauthenticated discovery calls itself and mints Sessions for
// authenticated work. Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the configuration and constructs a Client. No
// network traffic happens here.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid homeserver URL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: homeserver URL %q must use http or https", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// No Timeout: it would apply to streaming connections too and
		// kill them mid-stream. Per-request deadlines come from the
		// caller's context.
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HomeserverURL returns the base URL this client talks to, without a
// trailing slash.
func (c *Client) HomeserverURL() string { return c.baseURL }

// CloseIdleConnections releases idle keep-alive connections held by
// the underlying HTTP client. Live streams are unaffected.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// ServerVersions fetches the spec versions and unstable features the
// homeserver advertises. This is an unauthenticated call.
func (c *Client) ServerVersions(ctx context.Context) (*Versions, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", "", nil)
	if err != nil {
		return nil, err
	}
	var wire serverVersionsResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &UnexpectedResponseError{
			Message: "malformed versions response",
			Err:     err,
		}
	}
	return newVersions(wire), nil
}

// SessionFromToken constructs a Session from an existing access token
// without any network traffic. Use Session.WhoAmI to verify the token
// actually works.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) *Session {
	return &Session{
		client:       c,
		userID:       userID,
		accessToken:  accessToken,
		capabilities: newCapabilityCache(),
	}
}

// doRequest performs one REST request and returns the response body.
// path must already be URL-encoded — it is concatenated, not joined,
// so identifiers with encoded characters pass through untouched. An
// empty accessToken sends no Authorization header. A non-2xx response
// is classified into the package's error taxonomy.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any) ([]byte, error) {
	op := method + " " + path

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode %s request body: %w", op, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create %s request: %w", op, err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodySize))
		classified := classifyResponse(op, response.StatusCode, errorBody)
		c.logger.Debug("request failed",
			"op", op,
			"status", response.StatusCode,
			"duration", time.Since(start),
			"error", classified)
		return nil, classified
	}

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	c.logger.Debug("request complete",
		"op", op,
		"status", response.StatusCode,
		"duration", time.Since(start))
	return responseBody, nil
}
