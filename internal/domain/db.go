package domain

// db is the raw id-indexed storage, the Go analogue of sd.py's DB class.
// It is never locked on its own — the owning Domain's mutex guards every
// access, matching the single-threaded-by-construction semantics the
// reference implementation gets for free from its cooperative event loop.
type db struct {
	clients       map[int64]*Client
	services      map[int64]*Service
	subscriptions map[int64]*Subscription
}

func newDB() *db {
	return &db{
		clients:       map[int64]*Client{},
		services:      map[int64]*Service{},
		subscriptions: map[int64]*Subscription{},
	}
}

func (d *db) getClient(id int64) *Client        { return d.clients[id] }
func (d *db) addClient(c *Client)               { d.clients[c.ClientID] = c }
func (d *db) removeClient(c *Client)            { delete(d.clients, c.ClientID) }

func (d *db) getService(id int64) *Service      { return d.services[id] }
func (d *db) addService(s *Service)             { d.services[s.ServiceID] = s }
func (d *db) removeService(s *Service)          { delete(d.services, s.ServiceID) }
func (d *db) allServices() []*Service {
	out := make([]*Service, 0, len(d.services))
	for _, s := range d.services {
		out = append(out, s)
	}
	return out
}

func (d *db) getSubscription(id int64) *Subscription { return d.subscriptions[id] }
func (d *db) addSubscription(s *Subscription)         { d.subscriptions[s.SubID] = s }
func (d *db) removeSubscription(s *Subscription)      { delete(d.subscriptions, s.SubID) }
func (d *db) allSubscriptions() []*Subscription {
	out := make([]*Subscription, 0, len(d.subscriptions))
	for _, s := range d.subscriptions {
		out = append(out, s)
	}
	return out
}
