package tags_test

import (
	"testing"

	"github.com/tcpms/tcpms/tags"
)

func TestSetNameLookup(t *testing.T) {
	s := tags.New().Set("Ping", 20).Set("Pong", 21)

	if got := s.Name(20); got != "Ping" {
		t.Errorf("Name(20): got %q, want Ping", got)
	}
	if tag, ok := s.Lookup("Pong"); !ok || tag != 21 {
		t.Errorf("Lookup(Pong): got (%d, %v), want (21, true)", tag, ok)
	}
	if !s.Known(20) {
		t.Error("Known(20): got false, want true")
	}
	if s.Known(99) {
		t.Error("Known(99): got true, want false")
	}
}

func TestNameUnknownTag(t *testing.T) {
	s := tags.New()
	if got := s.Name(5); got != "TAG:5" {
		t.Errorf("Name(5) on empty set: got %q, want TAG:5", got)
	}
}

func TestLookupUnknownName(t *testing.T) {
	s := tags.New()
	if _, ok := s.Lookup("Nope"); ok {
		t.Error("Lookup(Nope): got true, want false")
	}
}

func TestSetChaining(t *testing.T) {
	s := tags.New()
	if got := s.Set("A", 1).Set("B", 2); got != s {
		t.Error("Set does not return its receiver for chaining")
	}
}
