// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// Package sse implements the wire level of the Server-Sent-Events
// format used by the streaming sync transport.
//
// The package is split along the two stages of reassembly. [Assembler]
// turns an arbitrarily chunked byte stream into complete raw records:
// it buffers incoming chunks and emits a record each time a blank-line
// terminator is observed, regardless of how the transport fragmented
// the stream. [ParseRecord] then decomposes one raw record into its
// named fields (id, event, data) per the SSE field syntax.
//
// The split keeps the buffering state machine independent of field
// parsing, so chunk-boundary behavior can be tested exhaustively: for
// any byte sequence, feeding it whole or split at every possible
// offset yields the same records in the same order.
package sse
