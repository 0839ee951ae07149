package errs

import "testing"

func TestNewAssignsDefaultCode(t *testing.T) {
	e := New(WriteBlocked, "writes are blocked")
	if e.SQLState != "42000" || e.Number != 1142 {
		t.Fatalf("expected 42000/1142, got %s/%d", e.SQLState, e.Number)
	}
}

func TestNewfFormats(t *testing.T) {
	e := Newf(UnsupportedFeature, "feature %s is not supported", "JOIN")
	if e.Message != "feature JOIN is not supported" {
		t.Fatalf("unexpected message: %q", e.Message)
	}
}

func TestErrorStringIncludesKind(t *testing.T) {
	e := New(PoolExhausted, "no slot available")
	if got := e.Error(); got != "PoolExhausted: no slot available" {
		t.Fatalf("unexpected Error() output: %q", got)
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 99
	if k.String() != "Unknown" {
		t.Fatalf("expected Unknown, got %q", k.String())
	}
}
