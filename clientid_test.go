package tcpms_test

import (
	"testing"

	"github.com/tcpms/tcpms"
)

func TestClientSessionKeyValueEquality(t *testing.T) {
	a, err := tcpms.NewClientSessionKey()
	if err != nil {
		t.Fatalf("NewClientSessionKey: unexpected error: %v", err)
	}
	b := a // copy by value
	if a != b {
		t.Error("copies of a ClientSessionKey compare unequal, want equal by value")
	}

	c, err := tcpms.NewClientSessionKey()
	if err != nil {
		t.Fatalf("NewClientSessionKey: unexpected error: %v", err)
	}
	if a == c {
		t.Error("two freshly generated keys collided, extremely unlikely")
	}
}

func TestClientSessionKeyStringIsStable(t *testing.T) {
	k, err := tcpms.NewClientSessionKey()
	if err != nil {
		t.Fatalf("NewClientSessionKey: unexpected error: %v", err)
	}
	if k.String() != k.String() {
		t.Error("String() is not stable across calls")
	}
	if len(k.String()) == 0 {
		t.Error("String(): got empty string")
	}
}
