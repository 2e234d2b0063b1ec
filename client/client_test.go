package client_test

import (
	"testing"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/client"
)

func TestUnconnectedClientSendsFail(t *testing.T) {
	c := client.New(nil)

	if err := c.SendString("hi"); err == nil {
		t.Error("SendString before Connect: got nil error, want non-nil")
	}
	if err := c.SendBlob([]byte("hi")); err == nil {
		t.Error("SendBlob before Connect: got nil error, want non-nil")
	}
	if err := c.SendByte('x'); err == nil {
		t.Error("SendByte before Connect: got nil error, want non-nil")
	}
}

func TestUnconnectedClientMetricsIsNil(t *testing.T) {
	c := client.New(nil)
	if m := c.Metrics(); m != nil {
		t.Errorf("Metrics before Connect: got %v, want nil", m)
	}
}

func TestDisconnectBeforeConnectIsNoop(t *testing.T) {
	c := client.New(nil)
	c.Disconnect()
	c.Disconnect()
}

func TestSendErrorKindIsDisconnected(t *testing.T) {
	c := client.New(nil)
	err := c.SendString("hi")
	var pe *tcpms.ProtocolError
	if err == nil {
		t.Fatal("SendString before Connect: got nil error")
	}
	if !asProtocolError(err, &pe) || pe.Kind != tcpms.KindDisconnected {
		t.Errorf("SendString before Connect: got %v, want KindDisconnected", err)
	}
}

func asProtocolError(err error, target **tcpms.ProtocolError) bool {
	if pe, ok := err.(*tcpms.ProtocolError); ok {
		*target = pe
		return true
	}
	return false
}
