package transport

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAddr(t *testing.T) {
	scheme, target, err := ParseAddr("tcp:127.0.0.1:4433")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if scheme != SchemeTCP || target != "127.0.0.1:4433" {
		t.Fatalf("got scheme=%q target=%q", scheme, target)
	}

	if _, _, err := ParseAddr("no-scheme-here"); err == nil {
		t.Fatal("expected an error for an address with no scheme prefix")
	}
	if _, _, err := ParseAddr("bogus:whatever"); err == nil {
		t.Fatal("expected an error for an unknown scheme")
	}
}

func TestUnixListenerRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "pf.sock")
	ln, err := Listen("ux:"+sockPath, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan Accepted, 1)
	go func() {
		a, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- a
	}()

	client, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	a := <-accepted
	defer a.Conn.Close()

	if a.UserID == "" {
		t.Error("expected a non-empty local-socket user id")
	}

	payload := []byte(`{"hello":true}`)
	go func() {
		if err := a.Conn.WriteFrame(payload); err != nil {
			t.Errorf("WriteFrame: %v", err)
		}
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	clientConn := byteStreamConn{client}
	got, err := clientConn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got frame %q, want %q", got, payload)
	}
}

func TestHostOf(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if host := hostOf(conn.RemoteAddr()); host != "127.0.0.1" {
		t.Errorf("hostOf = %q, want 127.0.0.1", host)
	}
}
