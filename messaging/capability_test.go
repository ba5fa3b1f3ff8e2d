// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestStreamingSyncSupportCachedAcrossCalls(t *testing.T) {
	t.Parallel()

	var probes atomic.Int64
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamingSyncPath {
			t.Errorf("probe hit %q, want %q", r.URL.Path, streamingSyncPath)
		}
		probes.Add(1)
		writeMatrixError(w, http.StatusUnauthorized, ErrCodeMissingToken, "Missing access token")
	}))

	// An auth rejection proves the endpoint exists.
	supported, err := session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync failed: %v", err)
	}
	if !supported {
		t.Fatal("supported = false after 401 probe, want true")
	}

	// Second call answers from the cache without touching the network.
	if _, err := session.SupportsStreamingSync(context.Background()); err != nil {
		t.Fatalf("second SupportsStreamingSync failed: %v", err)
	}
	if got := probes.Load(); got != 1 {
		t.Errorf("probe count = %d, want 1", got)
	}
}

func TestStreamingSyncUnsupported(t *testing.T) {
	t.Parallel()

	var probes atomic.Int64
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		writeMatrixError(w, http.StatusNotFound, ErrCodeUnrecognized, "Unrecognized request")
	}))

	supported, err := session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync failed: %v", err)
	}
	if supported {
		t.Fatal("supported = true for unrecognized endpoint")
	}

	// The negative verdict is cached too.
	if _, err := session.SupportsStreamingSync(context.Background()); err != nil {
		t.Fatalf("second SupportsStreamingSync failed: %v", err)
	}
	if got := probes.Load(); got != 1 {
		t.Errorf("probe count = %d, want 1", got)
	}
}

func TestStreamingSyncSupportedViaOpenHandshake(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))

	supported, err := session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync failed: %v", err)
	}
	if !supported {
		t.Fatal("supported = false after successful handshake")
	}
}

func TestStreamingSyncConnectionFailureNotCached(t *testing.T) {
	t.Parallel()

	var probes atomic.Int64
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) == 1 {
			// Sever the connection mid-handshake: the client sees a
			// transport error, not an HTTP response.
			hijacker, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			connection, _, err := hijacker.Hijack()
			if err != nil {
				t.Errorf("hijack failed: %v", err)
				return
			}
			connection.Close()
			return
		}
		writeMatrixError(w, http.StatusUnauthorized, ErrCodeMissingToken, "Missing access token")
	}))

	_, err := session.SupportsStreamingSync(context.Background())
	var connection *ConnectionError
	if !errors.As(err, &connection) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}

	// The failure was not cached: the next call probes again and gets
	// a definitive answer.
	supported, err := session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync after transport failure: %v", err)
	}
	if !supported {
		t.Fatal("supported = false after successful re-probe")
	}
	if got := probes.Load(); got != 2 {
		t.Errorf("probe count = %d, want 2", got)
	}
}

func TestRefreshCapabilityForcesReprobe(t *testing.T) {
	t.Parallel()

	var probes atomic.Int64
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probes.Add(1) == 1 {
			// The server predates the feature...
			writeMatrixError(w, http.StatusNotFound, ErrCodeUnrecognized, "Unrecognized request")
			return
		}
		// ...then gets upgraded.
		writeMatrixError(w, http.StatusUnauthorized, ErrCodeMissingToken, "Missing access token")
	}))

	supported, err := session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync failed: %v", err)
	}
	if supported {
		t.Fatal("supported = true before upgrade")
	}

	session.RefreshCapability(FeatureStreamingSync)

	supported, err = session.SupportsStreamingSync(context.Background())
	if err != nil {
		t.Fatalf("SupportsStreamingSync after refresh failed: %v", err)
	}
	if !supported {
		t.Fatal("supported = false after refresh and upgrade")
	}
	if got := probes.Load(); got != 2 {
		t.Errorf("probe count = %d, want 2", got)
	}
}
