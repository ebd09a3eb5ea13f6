// Package domain holds the permission model: the access level lattice, grants,
// their condition bundles, request context and resolution decisions.
package domain

import (
	"cmp"
	"fmt"
	"strings"
)

// AccessLevel is a point in the totally ordered lattice
// BLOCKED < READ < WRITE < DELETE < ADMIN.
type AccessLevel uint8

const (
	Blocked AccessLevel = iota
	Read
	Write
	Delete
	Admin
)

var levelNames = [...]string{
	Blocked: "BLOCKED",
	Read:    "READ",
	Write:   "WRITE",
	Delete:  "DELETE",
	Admin:   "ADMIN",
}

// Levels lists every access level in ascending order.
func Levels() []AccessLevel {
	return []AccessLevel{Blocked, Read, Write, Delete, Admin}
}

// Valid reports whether l is one of the five lattice symbols.
func (l AccessLevel) Valid() bool { return l <= Admin }

func (l AccessLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("AccessLevel(%d)", uint8(l))
	}
	return levelNames[l]
}

// ParseAccessLevel parses a level symbol, case-insensitively.
func ParseAccessLevel(s string) (AccessLevel, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == u {
			return AccessLevel(i), nil
		}
	}
	return Blocked, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, uint8(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *AccessLevel) UnmarshalText(b []byte) error {
	v, err := ParseAccessLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Compare returns -1, 0 or +1 as a is below, equal to or above b.
func Compare(a, b AccessLevel) int { return cmp.Compare(a, b) }

// Max returns the more permissive of a and b.
func Max(a, b AccessLevel) AccessLevel {
	if a >= b {
		return a
	}
	return b
}

// Meets reports whether actual grants at least required. BLOCKED never meets
// anything, including a BLOCKED requirement.
func Meets(actual, required AccessLevel) bool {
	if actual == Blocked {
		return false
	}
	return actual >= required
}
