package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 {
		t.Fatalf("expected 26-character id, got %d", len(value))
	}
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in id", r)
		}
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if version := decoded[6] >> 4; version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
}

func TestNewPrefixed(t *testing.T) {
	value, err := NewPrefixed("obj")
	if err != nil {
		t.Fatalf("new prefixed id: %v", err)
	}
	if !strings.HasPrefix(value, "obj_") || len(value) != len("obj_")+26 {
		t.Fatalf("unexpected prefixed id %q", value)
	}

	bare, err := NewPrefixed("  ")
	if err != nil {
		t.Fatalf("new prefixed id: %v", err)
	}
	if strings.Contains(bare, "_") {
		t.Fatalf("expected no prefix separator, got %q", bare)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, ok := seen[value]; ok {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	value := Prefixed("batch")
	if !strings.HasPrefix(value, "batch_") {
		t.Fatalf("value = %q, want batch_ prefix", value)
	}
	if len(value) != len("batch_")+26 {
		t.Fatalf("len = %d, want %d", len(value), len("batch_")+26)
	}
}
