package connection

import (
	"testing"

	"github.com/pathfinderd/pathfinder/internal/domain"
)

type fakePeer struct {
	id        int64
	delivered []domain.Notification
}

func (p *fakePeer) ClientID() int64             { return p.id }
func (p *fakePeer) RemoteAddr() string          { return "test" }
func (p *fakePeer) ConnectedAt() int64          { return 0 }
func (p *fakePeer) ProtoVersion() int           { return 3 }
func (p *fakePeer) TrackLatency() (float64, bool) { return 0, false }
func (p *fakePeer) Deliver(n domain.Notification) { p.delivered = append(p.delivered, n) }

func TestManagerRegisterGetUnregister(t *testing.T) {
	m := NewManager()
	peer := &fakePeer{id: 1}
	m.Register(peer)

	got, ok := m.Get(1)
	if !ok || got != peer {
		t.Fatalf("Get(1) = %v, %v; want peer, true", got, ok)
	}

	m.Unregister(1)
	if _, ok := m.Get(1); ok {
		t.Fatal("expected peer to be gone after Unregister")
	}
}

func TestManagerDeliverRoutesBySubscriberClientID(t *testing.T) {
	m := NewManager()
	peer := &fakePeer{id: 7}
	m.Register(peer)

	m.Deliver(domain.Notification{SubscriberClientID: 7, ServiceID: 42})
	m.Deliver(domain.Notification{SubscriberClientID: 99, ServiceID: 1})

	if len(peer.delivered) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(peer.delivered))
	}
	if peer.delivered[0].ServiceID != 42 {
		t.Errorf("delivered service id = %d, want 42", peer.delivered[0].ServiceID)
	}
}

func TestManagerRange(t *testing.T) {
	m := NewManager()
	m.Register(&fakePeer{id: 1})
	m.Register(&fakePeer{id: 2})

	seen := map[int64]bool{}
	m.Range(func(p Peer) bool {
		seen[p.ClientID()] = true
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("got %d peers, want 2", len(seen))
	}
}
