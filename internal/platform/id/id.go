// Package id generates opaque identifiers for scenes, objects, and batches.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random v4 UUID encoded as 26 lowercase base32 characters.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// NewPrefixed returns NewID with a kind prefix such as "obj" or "batch".
func NewPrefixed(prefix string) (string, error) {
	value, err := NewID()
	if err != nil {
		return "", err
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return value, nil
	}
	return prefix + "_" + value, nil
}

// Prefixed is NewPrefixed for call sites without an error path. If the
// random source fails it falls back to a time-based id.
func Prefixed(prefix string) string {
	value, err := NewPrefixed(prefix)
	if err != nil {
		return fmt.Sprintf("%s_%d", strings.TrimSpace(prefix), time.Now().UnixNano())
	}
	return value
}
