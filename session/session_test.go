package session

import "testing"

func TestNewSeedsDefaultSystemVars(t *testing.T) {
	s := New(42)
	if s.ConnectionID() != 42 {
		t.Fatalf("expected connection id 42, got %d", s.ConnectionID())
	}
	if v, ok := s.SystemVar("autocommit"); !ok || v != "ON" {
		t.Fatalf("expected autocommit=ON, got %q (%v)", v, ok)
	}
}

func TestSetDatabaseRoundTrips(t *testing.T) {
	s := New(1)
	s.SetDatabase("reporting")
	if got := s.Database(); got != "reporting" {
		t.Fatalf("expected reporting, got %q", got)
	}
}

func TestSystemVarNameIsCaseInsensitive(t *testing.T) {
	s := New(1)
	s.SetSystemVar("TX_ISOLATION", "SERIALIZABLE")
	v, ok := s.SystemVar("tx_isolation")
	if !ok || v != "SERIALIZABLE" {
		t.Fatalf("expected SERIALIZABLE, got %q (%v)", v, ok)
	}
}

func TestUserVarRoundTrips(t *testing.T) {
	s := New(1)
	s.SetUserVar("@myvar", 7)
	v, ok := s.UserVar("@MyVar")
	if !ok || v != 7 {
		t.Fatalf("expected 7, got %v (%v)", v, ok)
	}
}

func TestSystemVarMissingReportsNotOK(t *testing.T) {
	s := New(1)
	if _, ok := s.SystemVar("not_tracked"); ok {
		t.Fatalf("expected ok=false for untracked variable")
	}
}
