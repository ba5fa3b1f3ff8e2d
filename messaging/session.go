// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/palaver-im/palaver/lib/ref"
)

// Session is an authenticated identity on a homeserver. It holds the
// access token, answers capability questions about the server, and
// opens streaming sync connections. Session is safe for concurrent
// use; all its streams share the client's HTTP transport.
type Session struct {
	client       *Client
	accessToken  string
	capabilities *capabilityCache

	mu     sync.Mutex
	userID ref.UserID
}

// UserID returns the user this session acts as. It may be the zero
// value if the session was constructed from a bare token; WhoAmI
// resolves and records the real identity.
func (s *Session) UserID() ref.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Client returns the underlying homeserver client.
func (s *Session) Client() *Client { return s.client }

// WhoAmI asks the homeserver which user the access token belongs to,
// and records the answer on the session if it was constructed without
// a user ID. A rejected token surfaces as an UnauthorizedError.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx,
		http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, err
	}
	var wire whoAmIResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return ref.UserID{}, &UnexpectedResponseError{
			Message: "malformed whoami response",
			Err:     err,
		}
	}
	s.mu.Lock()
	if s.userID.IsZero() {
		s.userID = wire.UserID
	}
	s.mu.Unlock()
	return wire.UserID, nil
}
