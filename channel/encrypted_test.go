package channel_test

import (
	"context"
	"testing"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/channel"
)

func TestEncryptedRoundTrip(t *testing.T) {
	aes, err := tcpms.NewAesContextFresh("shared secret")
	if err != nil {
		t.Fatalf("NewAesContextFresh: unexpected error: %v", err)
	}

	inner, peer := channel.Direct()
	defer inner.Close()
	defer peer.Close()

	enc := channel.NewEncrypted(inner, aes)

	go func() {
		enc.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataString, []byte("secret payload")))
	}()

	// The peer observes the ciphertext directly on the unwrapped channel.
	raw, err := peer.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}
	if string(raw.Payload) == "secret payload" {
		t.Error("payload crossed the wire in plaintext")
	}

	plain, err := aes.Decrypt(raw.Payload)
	if err != nil {
		t.Fatalf("Decrypt: unexpected error: %v", err)
	}
	if string(plain) != "secret payload" {
		t.Errorf("decrypted payload: got %q, want %q", plain, "secret payload")
	}
}

func TestEncryptedPassesInternalPackagesThrough(t *testing.T) {
	aes, err := tcpms.NewAesContextFresh("shared secret")
	if err != nil {
		t.Fatalf("NewAesContextFresh: unexpected error: %v", err)
	}

	inner, peer := channel.Direct()
	defer inner.Close()
	defer peer.Close()
	enc := channel.NewEncrypted(inner, aes)

	go enc.Send(tcpms.NewPackage(tcpms.PackagePing, tcpms.DataEmpty, nil))

	got, err := peer.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: unexpected error: %v", err)
	}
	if got.Type != tcpms.PackagePing {
		t.Errorf("got %v, want PackagePing", got.Type)
	}
}

func TestEncryptedUnwrap(t *testing.T) {
	aes, err := tcpms.NewAesContextFresh("shared secret")
	if err != nil {
		t.Fatalf("NewAesContextFresh: unexpected error: %v", err)
	}
	inner, peer := channel.Direct()
	defer peer.Close()
	enc := channel.NewEncrypted(inner, aes)
	if enc.Unwrap() != inner {
		t.Error("Unwrap() did not return the wrapped inner channel")
	}
}
