package domain

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pathfinderd/pathfinder/internal/props"
)

// Notification is a self-contained snapshot of one subscription match
// event, queued for delivery to the owning session without needing to
// dereference the live Service afterwards (it may have moved on to a later
// generation, or been removed, by the time this is flushed).
type Notification struct {
	SubID              int64
	SubscriberClientID int64 // the client that owns the subscription, for routing
	MatchType          MatchType
	ServiceID          int64
	Generation         int64
	Props              props.Map
	TTL                int64
	ClientID           int64 // the service's owning client, a wire field of its own
	OrphanSince        *float64
}

func snapshotNotification(sub *Subscription, mt MatchType, svc *Service) Notification {
	n := Notification{
		SubID:              sub.SubID,
		SubscriberClientID: sub.ClientID,
		MatchType:          mt,
		ServiceID:          svc.ServiceID,
		ClientID:           svc.ClientID(),
		TTL:                svc.TTL(),
		Generation:         svc.Generation(),
		Props:              svc.Props(),
	}
	if since, ok := svc.OrphanSince(); ok {
		n.OrphanSince = &since
	}
	return n
}

type coalesceKey struct {
	subID     int64
	serviceID int64
}

// coalescer buffers same-(subscription,service) notifications within a
// short window so a burst of transitions collapses into just the final
// state. Only MatchModified events are buffered — appeared/disappeared
// are lifecycle edges callers generally want promptly, and buffering them
// risks reordering relative to a fast-following opposite transition.
type coalescer struct {
	window  time.Duration
	cache   *lru.LRU[coalesceKey, Notification]
	deliver func(Notification)
}

func newCoalescer(window time.Duration, deliver func(Notification)) *coalescer {
	c := &coalescer{window: window, deliver: deliver}
	c.cache = lru.NewLRU[coalesceKey, Notification](4096, func(_ coalesceKey, n Notification) {
		deliver(n)
	}, window)
	return c
}

// offer buffers n if it is a MatchModified event and the service's TTL is
// at least as long as the coalescing window (otherwise coalescing could
// delay delivery past the service's own TTL, which is not permitted);
// every other case is delivered immediately. An immediate delivery always
// represents the service's final state for this (subscription, service)
// pair, so any modified notification still buffered for the same pair is
// removed from the buffer first. Removal runs the cache's eviction
// callback, so that buffered entry is delivered just ahead of the
// immediate one instead of surfacing later, after the window elapses, as a
// stale update to a service the subscriber already saw appear or disappear.
func (c *coalescer) offer(n Notification) {
	if c.window <= 0 || n.MatchType != MatchModified || time.Duration(n.TTL)*time.Second < c.window {
		c.cache.Remove(coalesceKey{n.SubID, n.ServiceID})
		c.deliver(n)
		return
	}
	c.cache.Add(coalesceKey{n.SubID, n.ServiceID}, n)
}

// forget immediately delivers and drops any buffered entry for this key,
// used when a service disappears or a subscription is removed so a stale
// buffered "modified" never outlives its subscription.
func (c *coalescer) forget(subID, serviceID int64) {
	c.cache.Remove(coalesceKey{subID, serviceID})
}

func (c *coalescer) close() {
	c.cache.Purge()
}
