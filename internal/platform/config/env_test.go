package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port   int           `env:"TEST_PORT" envDefault:"123"`
	Delay  time.Duration `env:"TEST_DELAY" envDefault:"45s"`
	Voices []string      `env:"TEST_VOICES" envDefault:"Nova,Rook" envSeparator:","`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Delay != 45*time.Second {
		t.Fatalf("expected default delay 45s, got %v", cfg.Delay)
	}
	if len(cfg.Voices) != 2 || cfg.Voices[1] != "Rook" {
		t.Fatalf("unexpected voices %v", cfg.Voices)
	}
}

func TestParseEnvUsesPrefix(t *testing.T) {
	t.Setenv("YESAND_TEST_PORT", "9090")
	t.Setenv("TEST_PORT", "1")

	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected prefixed port 9090, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("YESAND_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
