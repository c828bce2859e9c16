// Package domain implements the in-memory service discovery store: clients,
// services, subscriptions, resource accounting, orphan expiry and the
// subscription match engine. Ported from the reference implementation's
// sd.py; see DESIGN.md for the class-by-class mapping.
package domain

import (
	"sync"
	"time"

	"github.com/pathfinderd/pathfinder/internal/filter"
	"github.com/pathfinderd/pathfinder/internal/props"
)

const DefaultUserID = "default"

// Config bundles the per-domain resource ceilings and coalescing window,
// filled in from internal/config.
type Config struct {
	MaxUserResources  Limits
	MaxTotalResources Limits
	CoalesceWindow    time.Duration

	// AllowCrossUserOwnershipTransfer permits a publish or unpublish from a
	// user id other than a service's current owner, instead of failing with
	// permission-denied. Default false, per spec.md §9's open question on
	// cross-user removal.
	AllowCrossUserOwnershipTransfer bool
}

// Domain is one named service-discovery domain: one resource manager, one
// id-indexed store, one orphan timer queue, one notification coalescer.
// Every exported method takes the internal mutex, so calls from any number
// of connection-handling goroutines serialize exactly the way the
// reference implementation's single-threaded event loop does — a mutation
// and its synchronous subscription fan-out always run to completion before
// another goroutine's call can interleave.
type Domain struct {
	mu sync.Mutex

	resources *resourceManager
	db        *db
	orphans   *timerQueue
	coalesce  *coalescer

	allowCrossUserOwnershipTransfer bool
	onServiceChange                 func(ChangeType, *Service)
}

// New constructs a Domain. deliver is called (possibly from a background
// goroutine, for coalesced notifications) for every match the engine
// produces; it must be safe to call concurrently with Domain's own methods
// and must not call back into Domain.
func New(cfg Config, deliver func(Notification)) *Domain {
	d := &Domain{
		resources:                      newResourceManager(cfg.MaxUserResources, cfg.MaxTotalResources),
		db:                             newDB(),
		orphans:                        newTimerQueue(),
		allowCrossUserOwnershipTransfer: cfg.AllowCrossUserOwnershipTransfer,
	}
	d.coalesce = newCoalescer(cfg.CoalesceWindow, deliver)
	return d
}

// OnServiceChange installs an optional hook invoked after every committed
// service mutation (used by internal/metrics to update gauges/counters).
func (d *Domain) OnServiceChange(fn func(ChangeType, *Service)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onServiceChange = fn
}

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// ClientConnect registers clientID under userID, or reconnects it if it
// was previously known and is currently disconnected.
func (d *Domain) ClientConnect(clientID int64, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.db.getClient(clientID)
	if c == nil {
		c = newClient(clientID, userID)
	} else if c.connected {
		return &AlreadyExistsError{"client", clientID}
	} else if c.UserID != userID {
		return &UserIDChangedError{clientID, userID, c.UserID}
	}

	if err := d.resources.allocate(c.UserID, ResourceClient); err != nil {
		return err
	}

	c.connected = true
	d.db.addClient(c)
	return nil
}

func (d *Domain) getConnectedClient(clientID int64) (*Client, error) {
	c := d.db.getClient(clientID)
	if c == nil || !c.connected {
		return nil, &NotFoundError{"client", clientID}
	}
	return c, nil
}

// ClientDisconnect marks clientID disconnected, orphaning every service it
// owns and dropping every subscription it installed.
func (d *Domain) ClientDisconnect(clientID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return err
	}

	disconnectedAt := now()
	c.connected = false

	for _, sub := range subscriptionValues(c.subscriptions) {
		d.removeSubscriptionLocked(c, sub)
	}

	for _, svc := range serviceValues(c.services) {
		since := disconnectedAt
		svc.commitModify(func(ch *change) { ch.orphanSince = &since })
		d.maintainOrphans(ChangeModified, svc)
		d.notifySubscribers(ChangeModified, svc)
	}

	d.resources.deallocate(c.UserID, ResourceClient)

	if c.isStale() {
		d.db.removeClient(c)
	}
	return nil
}

// Publish creates or updates a service record, enforcing the generation
// and ownership-transfer rules from sd.py's Client.publish verbatim. A
// publish from a user id other than the service's current owner is
// permission-denied unless AllowCrossUserOwnershipTransfer is set, in which
// case ownership transfers to the caller's user id and the resource
// manager's transfer discipline moves the service's counted slot between
// the two users' consumers (spec.md §4.4: "ownership transfers to the
// caller and the user-counters are adjusted accordingly").
func (d *Domain) Publish(clientID, serviceID, gen int64, p props.Map, ttl int64) (*Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return nil, err
	}

	svc := d.db.getService(serviceID)
	if svc != nil {
		accessErr := svc.checkAccess(c.UserID)
		crossUser := accessErr != nil
		if crossUser && !d.allowCrossUserOwnershipTransfer {
			return nil, accessErr
		}

		switch {
		case gen == svc.Generation():
			if !p.Equal(svc.Props()) || ttl != svc.TTL() {
				return nil, &SameGenerationButDifferentError{
					"properties/TTL changed, but generation is left unchanged"}
			}

			if crossUser {
				if err := d.resources.transfer(svc.UserID(), c.UserID, ResourceService); err != nil {
					return nil, err
				}
			}

			prevClientID := svc.ClientID()
			if prevClientID != clientID || crossUser {
				if err := d.captureService(c, svc); err != nil {
					return nil, err
				}
				svc.commitModify(func(ch *change) {
					ch.orphanSince = nil
					ch.clientID = clientID
					if crossUser {
						ch.userID = c.UserID
					}
				})
				d.maintainOrphans(ChangeModified, svc)
				d.notifySubscribers(ChangeModified, svc)
			} else if svc.IsOrphan() {
				svc.commitModify(func(ch *change) { ch.orphanSince = nil })
				d.maintainOrphans(ChangeModified, svc)
				d.notifySubscribers(ChangeModified, svc)
			}

		case gen > svc.Generation():
			if crossUser {
				if err := d.resources.transfer(svc.UserID(), c.UserID, ResourceService); err != nil {
					return nil, err
				}
			}
			if svc.ClientID() != clientID {
				if err := d.captureService(c, svc); err != nil {
					return nil, err
				}
			}
			svc.commitModify(func(ch *change) {
				ch.generation = gen
				ch.props = p
				ch.ttl = ttl
				ch.orphanSince = nil
				ch.clientID = clientID
				ch.userID = c.UserID
			})
			d.maintainOrphans(ChangeModified, svc)
			d.notifySubscribers(ChangeModified, svc)

		default:
			return nil, &GenerationError{"invalid generation: existing service already at a newer generation"}
		}

		return svc, nil
	}

	if err := d.resources.allocate(c.UserID, ResourceService); err != nil {
		return nil, err
	}

	svc = newService(serviceID, func(ct ChangeType, s *Service) {
		if d.onServiceChange != nil {
			d.onServiceChange(ct, s)
		}
	})
	svc.commitAdd(change{
		generation: gen,
		props:      p,
		ttl:        ttl,
		clientID:   clientID,
		userID:     c.UserID,
	})
	c.addService(svc)
	d.db.addService(svc)
	d.maintainOrphans(ChangeAdded, svc)
	d.notifySubscribers(ChangeAdded, svc)

	return svc, nil
}

// captureService moves svc from its current owning client to newOwner,
// mirroring sd.py's Client.capture_service. Resource accounting is keyed
// by user id, not client id; Publish has already run resourceManager.
// transfer before calling this when the new owner's user id differs from
// the service's, so the client-map move here never needs to touch counters
// itself.
func (d *Domain) captureService(newOwner *Client, svc *Service) error {
	if victim := d.db.getClient(svc.ClientID()); victim != nil {
		victim.removeService(svc)
	}
	newOwner.addService(svc)
	return nil
}

// Unpublish removes a service. Only the owning user id may do this, unless
// AllowCrossUserOwnershipTransfer permits cross-user removal (spec.md §9's
// open question on cross-user unpublish). removeServiceLocked deallocates
// against the service's actual owning user regardless of who requested the
// removal, so no resource transfer is needed for this path.
func (d *Domain) Unpublish(clientID, serviceID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return err
	}

	svc := d.db.getService(serviceID)
	if svc == nil {
		return &NotFoundError{"service", serviceID}
	}
	if err := svc.checkAccess(c.UserID); err != nil && !d.allowCrossUserOwnershipTransfer {
		return err
	}

	owner := d.db.getClient(svc.ClientID())
	return d.removeServiceLocked(owner, svc)
}

func (d *Domain) removeServiceLocked(owner *Client, svc *Service) error {
	owner.removeService(svc)
	d.resources.deallocate(owner.UserID, ResourceService)

	if owner.isStale() {
		d.db.removeClient(owner)
	}

	d.db.removeService(svc)
	d.maintainOrphans(ChangeRemoved, svc)
	d.notifySubscribers(ChangeRemoved, svc)
	for _, sub := range d.db.allSubscriptions() {
		d.coalesce.forget(sub.SubID, svc.ServiceID)
	}
	svc.commitRemove()
	return nil
}

// CreateSubscription installs a new subscription for clientID. The caller
// must separately invoke ActivateSubscription once it has sent the
// "accept" response, matching the protocol's accept-then-notify-backlog
// ordering.
func (d *Domain) CreateSubscription(clientID, subID int64, f filter.Filter) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return nil, err
	}
	if d.db.getSubscription(subID) != nil {
		return nil, &AlreadyExistsError{"subscription", subID}
	}
	if err := d.resources.allocate(c.UserID, ResourceSubscription); err != nil {
		return nil, err
	}

	sub := &Subscription{SubID: subID, Filter: f, ClientID: clientID, UserID: c.UserID}
	c.addSubscription(sub)
	d.db.addSubscription(sub)
	return sub, nil
}

// ActivateSubscription replays every currently-matching service to a
// freshly installed subscription as a backlog of "appeared" notifications.
func (d *Domain) ActivateSubscription(clientID, subID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return err
	}
	sub, ok := c.subscriptions[subID]
	if !ok {
		return &NotFoundError{"subscription", subID}
	}
	for _, svc := range d.db.allServices() {
		sub.notify(ChangeAdded, svc, d.emitMatch)
	}
	return nil
}

// Unsubscribe removes a subscription, checked against clientID's ownership.
func (d *Domain) Unsubscribe(clientID, subID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.getConnectedClient(clientID)
	if err != nil {
		return err
	}
	sub := d.db.getSubscription(subID)
	if sub == nil {
		return &NotFoundError{"subscription", subID}
	}
	if err := sub.checkAccess(c.ClientID); err != nil {
		return err
	}
	d.removeSubscriptionLocked(c, sub)
	return nil
}

func (d *Domain) removeSubscriptionLocked(owner *Client, sub *Subscription) {
	owner.removeSubscription(sub)
	d.db.removeSubscription(sub)
	d.resources.deallocate(sub.UserID, ResourceSubscription)
	for _, svc := range d.db.allServices() {
		d.coalesce.forget(sub.SubID, svc.ServiceID)
	}
}

// GetService looks up a service by id.
func (d *Domain) GetService(id int64) (*Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	svc := d.db.getService(id)
	if svc == nil {
		return nil, &NotFoundError{"service", id}
	}
	return svc, nil
}

// GetServices returns every currently published service.
func (d *Domain) GetServices() []*Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.allServices()
}

// GetSubscription looks up a subscription by id.
func (d *Domain) GetSubscription(id int64) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := d.db.getSubscription(id)
	if sub == nil {
		return nil, &NotFoundError{"subscription", id}
	}
	return sub, nil
}

// GetSubscriptions returns every installed subscription.
func (d *Domain) GetSubscriptions() []*Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.allSubscriptions()
}

// PurgeOrphans removes every orphaned service whose orphan timeout has
// elapsed as of now, returning the ids that were purged.
func (d *Domain) PurgeOrphans(nowTime float64) []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	due := d.orphans.due(nowTime)
	for _, id := range due {
		svc := d.db.getService(id)
		if svc == nil {
			continue
		}
		owner := d.db.getClient(svc.ClientID())
		if owner != nil {
			_ = d.removeServiceLocked(owner, svc)
		}
	}
	return due
}

// NextOrphanTimeout returns the earliest pending orphan deadline, if any.
func (d *Domain) NextOrphanTimeout() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orphans.nextTimeout()
}

func (d *Domain) maintainOrphans(change ChangeType, svc *Service) {
	switch change {
	case ChangeAdded:
		if svc.IsOrphan() {
			d.orphans.add(svc.ServiceID, svc.OrphanTimeout())
		}
	case ChangeModified:
		isOrphan, wasOrphan := svc.IsOrphan(), svc.WasOrphan()
		switch {
		case wasOrphan && !isOrphan:
			d.orphans.remove(svc.ServiceID)
		case !wasOrphan && isOrphan:
			d.orphans.add(svc.ServiceID, svc.OrphanTimeout())
		case wasOrphan && isOrphan:
			cur, prev := svc.OrphanTimeout(), svc.PrevOrphanTimeout()
			if cur != prev {
				d.orphans.update(svc.ServiceID, cur)
			}
		}
	case ChangeRemoved:
		if svc.IsOrphan() {
			d.orphans.remove(svc.ServiceID)
		}
	}
}

func (d *Domain) notifySubscribers(change ChangeType, svc *Service) {
	for _, sub := range d.db.allSubscriptions() {
		sub.notify(change, svc, d.emitMatch)
	}
}

// emitMatch is the single path every subscription's match funnels through,
// feeding the coalescer so bursts of modifications collapse before
// reaching the session layer.
func (d *Domain) emitMatch(sub *Subscription, mt MatchType, svc *Service) {
	d.coalesce.offer(snapshotNotification(sub, mt, svc))
}

// Snapshot summarizes current occupancy, for internal/admin's introspection
// RPC and internal/metrics' gauges.
type Snapshot struct {
	ClientIDs       []int64
	ServiceIDs      []int64
	SubscriptionIDs []int64
}

func (d *Domain) SnapshotState() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	var s Snapshot
	for id := range d.db.clients {
		s.ClientIDs = append(s.ClientIDs, id)
	}
	for id := range d.db.services {
		s.ServiceIDs = append(s.ServiceIDs, id)
	}
	for id := range d.db.subscriptions {
		s.SubscriptionIDs = append(s.SubscriptionIDs, id)
	}
	return s
}

func (d *Domain) Close() {
	d.coalesce.close()
}

func serviceValues(m map[int64]*Service) []*Service {
	out := make([]*Service, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func subscriptionValues(m map[int64]*Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
