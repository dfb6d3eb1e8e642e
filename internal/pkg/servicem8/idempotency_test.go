package servicem8

import "testing"

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("quote_approval", "job-123", "Jane Doe")
	b := IdempotencyKey("quote_approval", "job-123", "Jane Doe")
	if a != b {
		t.Fatalf("same inputs produced different keys: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestIdempotencyKeyDistinguishesInputs(t *testing.T) {
	base := IdempotencyKey("quote_approval", "job-123", "Jane Doe")

	tests := []struct {
		name string
		key  string
	}{
		{name: "different operation", key: IdempotencyKey("job_note", "job-123", "Jane Doe")},
		{name: "different subject", key: IdempotencyKey("quote_approval", "job-456", "Jane Doe")},
		{name: "different fingerprint", key: IdempotencyKey("quote_approval", "job-123", "John Doe")},
		{name: "missing fingerprint", key: IdempotencyKey("quote_approval", "job-123")},
	}
	for _, tt := range tests {
		if tt.key == base {
			t.Fatalf("%s produced the same key", tt.name)
		}
	}
}

func TestIdempotencyKeyFieldBoundaries(t *testing.T) {
	// Concatenation must not be ambiguous across field boundaries.
	if IdempotencyKey("op", "ab", "c") == IdempotencyKey("op", "a", "bc") {
		t.Fatal("shifting bytes across field boundaries produced the same key")
	}
	if IdempotencyKey("opa", "b") == IdempotencyKey("op", "ab") {
		t.Fatal("shifting bytes between operation and subject produced the same key")
	}
}
