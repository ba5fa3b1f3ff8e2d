// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"sync"
)

// FeatureStreamingSync is the unstable feature identifier for sync
// delivered over server-sent events (MSC2108).
const FeatureStreamingSync = "org.matrix.msc2108"

// capabilityCache records, per feature, whether the homeserver
// supports it. Entries are written only after a probe produced a
// definitive answer; transport failures are never cached.
type capabilityCache struct {
	mu        sync.Mutex
	supported map[string]bool
}

func newCapabilityCache() *capabilityCache {
	return &capabilityCache{supported: make(map[string]bool)}
}

func (c *capabilityCache) lookup(feature string) (supported, cached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	supported, cached = c.supported[feature]
	return supported, cached
}

func (c *capabilityCache) store(feature string, supported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supported[feature] = supported
}

func (c *capabilityCache) invalidate(feature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.supported, feature)
}

// SupportsStreamingSync reports whether the homeserver supports
// streaming sync, probing the endpoint on first call and caching the
// answer for the session's lifetime.
//
// The probe interprets the handshake outcome rather than trusting
// advertised flags: an open stream or an authentication rejection
// both mean the endpoint exists (supported), while any other Matrix
// API error — typically M_UNRECOGNIZED with a 404 — means it does
// not. Connection-level failures say nothing about support; they are
// returned as errors and the next call probes again.
//
// A server upgrade can change the real answer mid-session; call
// RefreshCapability to discard the cached verdict.
func (s *Session) SupportsStreamingSync(ctx context.Context) (bool, error) {
	if supported, cached := s.capabilities.lookup(FeatureStreamingSync); cached {
		return supported, nil
	}
	supported, err := s.probeStreamingSync(ctx)
	if err != nil {
		return false, err
	}
	s.capabilities.store(FeatureStreamingSync, supported)
	return supported, nil
}

// RefreshCapability discards the session's cached verdict for a
// feature, forcing the next capability query to probe the server
// again.
func (s *Session) RefreshCapability(feature string) {
	s.capabilities.invalidate(feature)
}

func (s *Session) probeStreamingSync(ctx context.Context) (bool, error) {
	response, err := s.streamingHandshake(ctx, StreamOptions{})
	if err == nil {
		// The endpoint answered with a live stream; we only needed the
		// handshake, so drop the connection immediately.
		response.Body.Close()
		return true, nil
	}

	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		// The endpoint exists and got far enough to check credentials.
		return true, nil
	}
	var requestErr *RequestError
	if errors.As(err, &requestErr) {
		return false, nil
	}
	return false, err
}
