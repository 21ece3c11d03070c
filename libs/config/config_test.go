package config

import (
	"testing"
	"time"
)

func TestTypedGetters(t *testing.T) {
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_BAD_INT", "x")
	t.Setenv("CFG_BOOL_OFF", "off")
	t.Setenv("CFG_BOOL_ON", "yes")
	t.Setenv("CFG_MINUTES", "15")
	t.Setenv("CFG_LIST", " a, ,b ,c")

	if got := Int("CFG_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := Int("CFG_BAD_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if Bool("CFG_BOOL_OFF", true) {
		t.Fatalf("expected off to be false")
	}
	if !Bool("CFG_BOOL_ON", false) {
		t.Fatalf("expected yes to be true")
	}
	if !Bool("CFG_BOOL_UNSET", true) {
		t.Fatalf("expected fallback true")
	}
	if got := Minutes("CFG_MINUTES", time.Hour); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", got)
	}
	if got := List("CFG_LIST"); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestPortAndRequired(t *testing.T) {
	t.Setenv("CFG_PORT", "99999")
	if _, err := Port("CFG_PORT", "8080"); err == nil {
		t.Fatalf("expected invalid port error")
	}
	if p, err := Port("CFG_PORT_UNSET", "8080"); err != nil || p != "8080" {
		t.Fatalf("expected fallback port, got %q %v", p, err)
	}
	if _, err := RequiredString("CFG_REQUIRED_UNSET"); err == nil {
		t.Fatalf("expected missing required error")
	}
}
