// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging provides a Matrix client built around streaming
// sync: instead of long-polling /sync, a session opens a single
// long-lived HTTP connection and receives sync payloads as
// server-sent events (MSC2108).
//
// The package has three layers:
//
//   - Client: homeserver connection plus the small set of unauthenticated
//     and token-authenticated REST calls the streaming transport needs
//     (server version discovery, token introspection).
//
//   - Session: an authenticated identity on a homeserver. A session
//     answers whether the server supports streaming sync (with the
//     answer cached per feature) and opens sync streams.
//
//   - SyncStream: one live streaming connection. A background goroutine
//     reassembles server-sent event records from the socket, decodes
//     each sync payload, and delivers it to the caller's handler in
//     arrival order. The stream tracks a resume cursor that advances
//     only after a payload has been fully decoded and delivered, so a
//     resumed stream never skips data.
//
// Streams do not reconnect on their own. When a stream terminates —
// server close, network failure, malformed payload, or local Cancel —
// Join reports the outcome and the caller decides whether to open a
// new stream resuming from Cursor.
package messaging
