// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable value types for Matrix
// identifiers: user IDs, room IDs, and event IDs.
//
// Identifiers arrive from the homeserver (sync payloads, API
// responses) and are parsed into these types at the boundary, so code
// above the wire layer never handles a structurally invalid ID. All
// constructors validate their input; the zero value of each type is
// not valid and is detectable with IsZero.
//
// JSON marshaling uses the canonical Matrix string form
// (@localpart:server, !opaque:server, $opaque) via
// encoding.TextMarshaler, which also makes the types usable as JSON
// object keys.
package ref
