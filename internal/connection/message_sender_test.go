package connection

import (
	"io"
	"net"
	"testing"
)

func TestSendWritesFullPayload(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("hello pathfinder")
	done := make(chan error, 1)
	go func() { done <- Send(client, payload, "test-conn") }()

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(buf) != string(payload) {
		t.Errorf("got %q, want %q", buf, payload)
	}
}

func TestSendReturnsErrorOnClosedConn(t *testing.T) {
	server, client := net.Pipe()
	server.Close()
	client.Close()

	if err := Send(client, []byte("x"), "test-conn"); err == nil {
		t.Fatal("expected an error sending on a closed connection")
	}
}
