package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableULID(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}
	for _, id := range []string{a, b} {
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("ParseStrict(%q): %v", id, err)
		}
	}
}
