package id

import (
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	// Check format
	if !Valid(id) {
		t.Errorf("expected a valid UUID, got %s", id)
	}

	// Check uniqueness
	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"3f2b8c1e-9a4d-4e57-b0a1-6c2d9e8f7a10", true},
		{"not-a-uuid", false},
		{"", false},
		{"../../etc/passwd", false},
		{"{3f2b8c1e-9a4d-4e57-b0a1-6c2d9e8f7a10}", false},
	}

	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
