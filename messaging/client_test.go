// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/palaver-im/palaver/lib/ref"
)

const testToken = "syt-test-token"

// newTestClient starts an httptest server around handler and returns
// a Client pointed at it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		HTTPClient:    server.Client(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

// newTestSession is newTestClient plus an authenticated session for
// @test:example.org.
func newTestSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	client := newTestClient(t, handler)
	return client.SessionFromToken(ref.MustParseUserID("@test:example.org"), testToken)
}

// writeMatrixError writes a standard Matrix JSON error response.
func writeMatrixError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"errcode":%q,"error":%q}`, code, message)
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	for name, homeserverURL := range map[string]string{
		"empty":        "",
		"unparseable":  "://matrix.example.org",
		"wrong scheme": "ftp://matrix.example.org",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewClient(ClientConfig{HomeserverURL: homeserverURL}); err == nil {
				t.Errorf("NewClient(%q) succeeded, want error", homeserverURL)
			}
		})
	}
}

func TestServerVersions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/versions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("versions request carried Authorization %q, want none", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"versions": ["v1.1", "v1.5", "v1.11"],
			"unstable_features": {"org.matrix.msc2108": true, "org.example.disabled": false}
		}`)
	}))

	versions, err := client.ServerVersions(context.Background())
	if err != nil {
		t.Fatalf("ServerVersions failed: %v", err)
	}
	if got := versions.Latest(); got != "v1.11" {
		t.Errorf("Latest() = %q, want %q", got, "v1.11")
	}
	if got := len(versions.All()); got != 3 {
		t.Errorf("len(All()) = %d, want 3", got)
	}
	if !versions.Features().Has(FeatureStreamingSync) {
		t.Error("Has(FeatureStreamingSync) = false, want true")
	}
	if versions.Features().Has("org.example.disabled") {
		t.Error("Has() = true for feature advertised as disabled")
	}
	if versions.Features().Has("org.example.absent") {
		t.Error("Has() = true for feature not advertised at all")
	}
}

func TestServerVersionsEmpty(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"versions": []}`)
	}))

	versions, err := client.ServerVersions(context.Background())
	if err != nil {
		t.Fatalf("ServerVersions failed: %v", err)
	}
	if got := versions.Latest(); got != "" {
		t.Errorf("Latest() = %q, want empty", got)
	}
}

func TestWhoAmI(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer "+testToken {
			t.Errorf("Authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user_id": "@test:example.org", "device_id": "DEVICE"}`)
	}))

	// Construct with a zero user ID: WhoAmI should resolve and record it.
	session := client.SessionFromToken(ref.UserID{}, testToken)
	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID.String() != "@test:example.org" {
		t.Errorf("WhoAmI = %q", userID)
	}
	if session.UserID() != userID {
		t.Errorf("session.UserID() = %q, want %q", session.UserID(), userID)
	}
}

func TestWhoAmIBadToken(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMatrixError(w, http.StatusUnauthorized, ErrCodeUnknownToken, "Invalid access token")
	}))

	_, err := session.WhoAmI(context.Background())
	var unauthorized *UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("err = %v, want UnauthorizedError", err)
	}
	if unauthorized.Code != ErrCodeUnknownToken {
		t.Errorf("Code = %q, want %q", unauthorized.Code, ErrCodeUnknownToken)
	}
}

func TestResponseClassification(t *testing.T) {
	t.Parallel()

	t.Run("matrix error becomes RequestError", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeMatrixError(w, http.StatusNotFound, ErrCodeNotFound, "No such endpoint")
		}))
		_, err := session.WhoAmI(context.Background())
		if !IsRequestError(err, ErrCodeNotFound) {
			t.Fatalf("err = %v, want RequestError %s", err, ErrCodeNotFound)
		}
		var requestErr *RequestError
		if !errors.As(err, &requestErr) || requestErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode not preserved in %v", err)
		}
	})

	t.Run("504 becomes TimeoutError", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGatewayTimeout)
			fmt.Fprint(w, "<html>upstream timed out</html>")
		}))
		_, err := session.WhoAmI(context.Background())
		var timeout *TimeoutError
		if !errors.As(err, &timeout) {
			t.Fatalf("err = %v, want TimeoutError", err)
		}
		// A TimeoutError must also satisfy a generic connection check.
		var connection *ConnectionError
		if !errors.As(err, &connection) {
			t.Error("TimeoutError did not match *ConnectionError")
		}
	})

	t.Run("non-matrix body becomes UnexpectedResponseError", func(t *testing.T) {
		session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "<html>oops</html>")
		}))
		_, err := session.WhoAmI(context.Background())
		var unexpected *UnexpectedResponseError
		if !errors.As(err, &unexpected) {
			t.Fatalf("err = %v, want UnexpectedResponseError", err)
		}
	})
}

func TestTransportFailureBecomesConnectionError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(ClientConfig{
		HomeserverURL: server.URL,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	server.Close()

	_, err = client.ServerVersions(context.Background())
	var connection *ConnectionError
	if !errors.As(err, &connection) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}
