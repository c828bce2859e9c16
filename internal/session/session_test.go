package session

import (
	"sync"
	"testing"
	"time"

	"github.com/pathfinderd/pathfinder/internal/connection"
	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/proto"
)

// fakeConn is a minimal transport.Conn backed by in-memory channels, for
// driving a Session without a real socket.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 4), out: make(chan []byte, 4)}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	b, ok := <-c.in
	if !ok {
		return nil, &proto.TransportError{Message: "closed"}
	}
	return b, nil
}

func (c *fakeConn) WriteFrame(payload []byte) error {
	c.out <- payload
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) RemoteAddr() string              { return "fake:1" }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func newTestSession(t *testing.T) (*Session, *fakeConn, *domain.Domain) {
	t.Helper()
	dom := domain.New(domain.Config{
		MaxUserResources:  domain.UnlimitedLimits(),
		MaxTotalResources: domain.UnlimitedLimits(),
		CoalesceWindow:    10 * time.Millisecond,
	}, func(domain.Notification) {})
	t.Cleanup(dom.Close)

	registry := connection.NewManager()
	conn := newFakeConn()
	cfg := Config{
		DomainName:   "test",
		VersionLimit: VersionLimit{Min: 2, Max: 3},
	}
	s := New(conn, "", cfg, dom, registry)
	return s, conn, dom
}

func helloFrame(t *testing.T, taID, clientID int64) []byte {
	t.Helper()
	wire, err := proto.Encode(&proto.Message{
		Cmd: proto.CmdHello, TaID: taID, MsgType: proto.MsgRequest,
		Body: map[string]any{
			"client-id":                clientID,
			"protocol-minimum-version": int64(2),
			"protocol-maximum-version": int64(3),
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return wire
}

func TestHandleHelloHandshakesAndRegisters(t *testing.T) {
	s, conn, _ := newTestSession(t)
	go s.Run()

	conn.in <- helloFrame(t, 1, 42)

	var reply []byte
	select {
	case reply = <-conn.out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a hello reply")
	}

	m, err := proto.Decode(reply, 0)
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if m.MsgType != proto.MsgComplete {
		t.Fatalf("msg-type = %v, want complete", m.MsgType)
	}
	if s.ClientID() != 42 {
		t.Errorf("ClientID() = %d, want 42", s.ClientID())
	}

	conn.Close()
}

func TestHandleHelloFailsOnUnsupportedVersion(t *testing.T) {
	s, conn, _ := newTestSession(t)
	go s.Run()

	wire, err := proto.Encode(&proto.Message{
		Cmd: proto.CmdHello, TaID: 1, MsgType: proto.MsgRequest,
		Body: map[string]any{
			"client-id":                int64(1),
			"protocol-minimum-version": int64(9),
			"protocol-maximum-version": int64(9),
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	conn.in <- wire

	var reply []byte
	select {
	case reply = <-conn.out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a fail reply")
	}

	m, err := proto.Decode(reply, 0)
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if m.MsgType != proto.MsgFail {
		t.Fatalf("msg-type = %v, want fail", m.MsgType)
	}

	conn.Close()
}

func TestDuplicateTAIDClosesConnection(t *testing.T) {
	s, conn, _ := newTestSession(t)
	go s.Run()

	conn.in <- helloFrame(t, 1, 42)
	select {
	case <-conn.out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for hello reply")
	}

	subscribe := func(subID int64) []byte {
		wire, err := proto.Encode(&proto.Message{
			Cmd: proto.CmdSubscribe, TaID: 5, MsgType: proto.MsgRequest,
			Body: map[string]any{"subscription-id": subID},
		})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return wire
	}

	conn.in <- subscribe(1)
	select {
	case reply := <-conn.out:
		m, err := proto.Decode(reply, 0)
		if err != nil {
			t.Fatalf("Decode reply: %v", err)
		}
		if m.MsgType != proto.MsgAccept {
			t.Fatalf("msg-type = %v, want accept", m.MsgType)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe accept")
	}

	// Ta-id 5 is still open (subscription 1 has never been unsubscribed).
	// Reusing it on a second, unrelated subscribe request is fatal.
	conn.in <- subscribe(2)

	deadline := time.After(time.Second)
	for {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for connection to close on duplicate ta-id")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNonHelloBeforeHandshakeFails(t *testing.T) {
	s, conn, _ := newTestSession(t)
	go s.Run()

	wire, err := proto.Encode(&proto.Message{Cmd: proto.CmdPing, TaID: 1, MsgType: proto.MsgRequest, Body: map[string]any{}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	conn.in <- wire

	var reply []byte
	select {
	case reply = <-conn.out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a fail reply")
	}

	m, err := proto.Decode(reply, 0)
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	if m.MsgType != proto.MsgFail {
		t.Fatalf("msg-type = %v, want fail", m.MsgType)
	}

	conn.Close()
}
