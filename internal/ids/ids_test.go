package ids

import (
	"strings"
	"testing"
)

func TestNewAndValidate(t *testing.T) {
	id := New(Generation)
	if !strings.HasPrefix(id, "gen_") {
		t.Fatalf("New(Generation) = %q", id)
	}
	if err := Validate(id, Generation); err != nil {
		t.Errorf("Validate own id: %v", err)
	}
	if err := Validate(id, Purchase); err == nil {
		t.Error("expected prefix mismatch")
	}
	if err := Validate("not-an-id", Generation); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(Transaction)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
