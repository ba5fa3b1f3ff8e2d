// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// A user ID always starts with '@' and contains a ':' separating the
// localpart from the server name. Only the structural format is
// validated — localpart character rules vary between servers and are
// the homeserver's concern.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := splitSigilID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string (e.g., "@alice:example.org").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the portion between the '@' sigil and the
// ':server' suffix. Panics on a zero-value UserID.
func (u UserID) Localpart() string {
	localpart, _ := u.split()
	return localpart
}

// Server returns the server name portion after the ':'. Panics on a
// zero-value UserID.
func (u UserID) Server() string {
	_, server := u.split()
	return server
}

func (u UserID) split() (localpart, server string) {
	if u.id == "" {
		panic("ref: split called on zero-value UserID")
	}
	localpart, server, err := splitSigilID(u.id, '@', "user ID")
	if err != nil {
		// Validated at construction — unreachable.
		panic(fmt.Sprintf("ref: internal error splitting %q: %v", u.id, err))
	}
	return localpart, server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// format. Empty input produces the zero value (unset user ID).
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
