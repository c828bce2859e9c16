package server

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/proto"
	"github.com/pathfinderd/pathfinder/internal/session"
)

func testDomainConfig(sockPath string) DomainConfig {
	return DomainConfig{
		Name:             "test",
		Sockets:          []SocketConfig{{Addr: "ux:" + sockPath}},
		VersionLimit:     session.VersionLimit{Min: 2, Max: 3},
		IdleTimeout:      30 * time.Second,
		HandshakeTimeout: 4 * time.Second,
		Resources: domain.Config{
			MaxUserResources:  domain.UnlimitedLimits(),
			MaxTotalResources: domain.UnlimitedLimits(),
			CoalesceWindow:    50 * time.Millisecond,
		},
	}
}

func TestServerAcceptsAndRespondsToHello(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "pf.sock")
	srv, err := New([]DomainConfig{testDomainConfig(sockPath)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(srv.Domains()) != 1 {
		t.Fatalf("got %d domains, want 1", len(srv.Domains()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hello := map[string]any{
		"ta-cmd":                   "hello",
		"ta-id":                    1,
		"msg-type":                 "request",
		"client-id":                1,
		"protocol-minimum-version": 2,
		"protocol-maximum-version": 3,
	}
	body, err := json.Marshal(hello)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := proto.WriteFrame(conn, body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := proto.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(reply) == 0 {
		t.Error("expected a non-empty hello reply")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after context cancellation")
	}
}
