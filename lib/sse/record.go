// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package sse

import "strings"

// Record is one parsed SSE record.
type Record struct {
	// Data is the payload, assembled from one or more "data:" lines
	// joined with newlines per the SSE specification. An empty string
	// is a valid payload — check HasData to distinguish a record that
	// carried "data:" with no value from one with no data lines at all
	// (a comment or keepalive block).
	Data string

	// Event is the event name from the last "event:" line, or empty
	// if none was present.
	Event string

	// ID is the record id from the last "id:" line, or empty if none
	// was present. Stream consumers use it as a resumption cursor.
	ID string

	// HasData reports whether at least one "data:" line was present.
	HasData bool
}

// ParseRecord decomposes one raw record (as emitted by [Assembler],
// terminator already stripped) into its fields.
//
// Lines are separated by LF with an optional preceding CR. A "data:"
// line appends its value to the payload; "event:" and "id:" set the
// event name and id, last occurrence winning. Per the SSE field
// syntax, exactly one space after the colon is stripped when present.
// Comment lines (leading ':') and unknown fields are ignored.
func ParseRecord(raw string) Record {
	var record Record
	var dataLines []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || line[0] == ':' {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			// A line with no colon is a field name with an empty value.
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			record.HasData = true
		case "event":
			record.Event = value
		case "id":
			record.ID = value
		default:
			// Unknown fields (including "retry") are ignored.
		}
	}

	record.Data = strings.Join(dataLines, "\n")
	return record
}
