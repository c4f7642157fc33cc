package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Errorf("expected 32 characters, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("unexpected character %q in hex string", c)
		}
	}
	if GenerateRandomHex(0) != "" || GenerateRandomHex(-5) != "" {
		t.Error("non-positive lengths should produce empty strings")
	}
}

func TestGenerateOperationID(t *testing.T) {
	id := GenerateOperationID()
	if !strings.HasPrefix(id, "op_") {
		t.Errorf("expected op_ prefix, got %s", id)
	}
	if len(id) != len("op_")+32 {
		t.Errorf("unexpected id length: %d", len(id))
	}

	// Collision sanity check over a modest sample.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateOperationID()
		if seen[id] {
			t.Fatalf("duplicate operation id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateAnimationID(t *testing.T) {
	id := GenerateAnimationID()
	if !strings.HasPrefix(id, "anim_") {
		t.Errorf("expected anim_ prefix, got %s", id)
	}
}
