package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tcpms/tcpms/wire"
)

func TestBuilderScannerRoundTrip(t *testing.T) {
	var b wire.Builder
	b.Byte(0x07)
	b.Bool(true)
	b.Bool(false)
	b.Uint16(0xBEEF)
	b.Int32(-12345)
	b.Put(1, 2, 3)

	sc := wire.NewScanner(b.Bytes())

	if got, err := sc.Byte(); err != nil || got != 0x07 {
		t.Fatalf("Byte: got (%v, %v), want (0x07, nil)", got, err)
	}
	if got, err := sc.Bool(); err != nil || got != true {
		t.Fatalf("Bool: got (%v, %v), want (true, nil)", got, err)
	}
	if got, err := sc.Bool(); err != nil || got != false {
		t.Fatalf("Bool: got (%v, %v), want (false, nil)", got, err)
	}
	if got, err := sc.Uint16(); err != nil || got != 0xBEEF {
		t.Fatalf("Uint16: got (%v, %v), want (0xBEEF, nil)", got, err)
	}
	if got, err := sc.Int32(); err != nil || got != -12345 {
		t.Fatalf("Int32: got (%v, %v), want (-12345, nil)", got, err)
	}
	rest, err := sc.Get(3)
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, rest); diff != "" {
		t.Errorf("Get: diff (-want +got):\n%s", diff)
	}
	if sc.Len() != 0 {
		t.Errorf("Len: got %d, want 0", sc.Len())
	}
}

func TestScannerTruncated(t *testing.T) {
	sc := wire.NewScanner([]byte{0x01})
	if _, err := sc.Uint32(); err == nil {
		t.Error("Uint32 on truncated input: got nil error, want non-nil")
	}
}

func TestBuilderGrowReset(t *testing.T) {
	var b wire.Builder
	b.Grow(16)
	b.Put('a', 'b', 'c')
	if b.Len() != 3 {
		t.Errorf("Len: got %d, want 3", b.Len())
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", b.Len())
	}
}

func TestUTF16LERoundTrip(t *testing.T) {
	tests := []string{"", "hello", "héllo wörld", "日本語", "\U0001F600"}
	for _, s := range tests {
		enc := wire.EncodeUTF16LE(s)
		got, err := wire.DecodeUTF16LE(enc)
		if err != nil {
			t.Errorf("DecodeUTF16LE(%q): unexpected error: %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("round trip %q: got %q", s, got)
		}
	}
}

func TestUTF16LEEncoding(t *testing.T) {
	// "A" is U+0041: little-endian bytes 0x41, 0x00.
	got := wire.EncodeUTF16LE("A")
	want := []byte{0x41, 0x00}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EncodeUTF16LE(\"A\"): diff (-want +got):\n%s", diff)
	}
}

func TestDecodeUTF16LEOddLength(t *testing.T) {
	if _, err := wire.DecodeUTF16LE([]byte{0x41}); err == nil {
		t.Error("DecodeUTF16LE with odd length: got nil error, want non-nil")
	}
}
