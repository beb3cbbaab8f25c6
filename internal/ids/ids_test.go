package ids

import "testing"

func TestNewIsSortableAndValid(t *testing.T) {
	a := New()
	b := New()
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids, got %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %q then %q", a, b)
	}
	for _, bad := range []string{"", "user-1", "not-a-ulid-at-all-000000000"} {
		if Valid(bad) {
			t.Fatalf("Valid(%q) = true", bad)
		}
	}
}
