// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import "bytes"

// Record terminators. A record ends at the earliest blank line, which
// is either two consecutive line feeds or two consecutive CRLF pairs.
var (
	terminatorLF   = []byte("\n\n")
	terminatorCRLF = []byte("\r\n\r\n")
)

// Assembler reassembles complete SSE records from an arbitrarily
// chunked byte stream. Transports hand it raw reads in whatever sizes
// the network produced; the assembler buffers them and emits a record
// only once its terminating blank line has been observed. Incomplete
// trailing data stays buffered for the next call.
//
// The zero value is ready to use. Assembler is not safe for concurrent
// use — each stream owns one.
type Assembler struct {
	buffer []byte
}

// Feed appends chunk to the internal buffer and returns every complete
// raw record that the buffer now contains, in the order their
// terminators appeared. The returned records do not include the
// terminator. Feed never returns a partial record: bytes after the
// last terminator remain buffered.
//
// Splitting the same byte sequence differently across Feed calls
// produces identical output.
func (a *Assembler) Feed(chunk []byte) []string {
	a.buffer = append(a.buffer, chunk...)

	var records []string
	for {
		record, rest, found := cutRecord(a.buffer)
		if !found {
			break
		}
		records = append(records, string(record))
		// Shift the remainder to the front of the buffer. copy
		// handles the overlap (memmove semantics).
		a.buffer = append(a.buffer[:0], rest...)
	}
	return records
}

// Buffered returns the number of bytes held for an incomplete record.
func (a *Assembler) Buffered() int {
	return len(a.buffer)
}

// cutRecord finds the earliest record terminator in buffer and splits
// around it. The record excludes the terminator; rest is everything
// after it.
func cutRecord(buffer []byte) (record, rest []byte, found bool) {
	lfIndex := bytes.Index(buffer, terminatorLF)
	crlfIndex := bytes.Index(buffer, terminatorCRLF)

	switch {
	case lfIndex < 0 && crlfIndex < 0:
		return nil, nil, false
	case crlfIndex < 0 || (lfIndex >= 0 && lfIndex < crlfIndex):
		return buffer[:lfIndex], buffer[lfIndex+len(terminatorLF):], true
	default:
		return buffer[:crlfIndex], buffer[crlfIndex+len(terminatorCRLF):], true
	}
}
