// Package connection tracks which live session owns each connected client
// id, so a domain's coalesced match notifications and liveness queries can
// be routed to the right socket.
package connection

import (
	"sync"

	"github.com/pathfinderd/pathfinder/internal/domain"
)

// Peer is the subset of Session a Manager needs to route deliveries and
// list connections for a "clients" request.
type Peer interface {
	ClientID() int64
	RemoteAddr() string
	ConnectedAt() int64
	ProtoVersion() int
	TrackLatency() (float64, bool)
	Deliver(domain.Notification)
}

// Manager is a per-domain registry of connected peers, keyed by client id.
type Manager struct {
	peers sync.Map // int64 -> Peer
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(p Peer) {
	m.peers.Store(p.ClientID(), p)
}

func (m *Manager) Unregister(clientID int64) {
	m.peers.Delete(clientID)
}

func (m *Manager) Get(clientID int64) (Peer, bool) {
	v, ok := m.peers.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(Peer), true
}

// Deliver routes a coalesced notification to the subscription's owning
// peer, if it is still connected. It is safe to pass directly as a
// domain.Domain's deliver callback.
func (m *Manager) Deliver(n domain.Notification) {
	if p, ok := m.Get(n.SubscriberClientID); ok {
		p.Deliver(n)
	}
}

// Range visits every currently registered peer, for a "clients" listing.
func (m *Manager) Range(fn func(Peer) bool) {
	m.peers.Range(func(_, v any) bool {
		return fn(v.(Peer))
	})
}
