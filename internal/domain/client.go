package domain

// Client is one registered client id. Unlike the reference implementation's
// Client/Connection split (which keeps a list of historical, still-stale
// Connection objects), this repo folds "current connection" and "client" into
// one struct: a client is removed from the domain the instant it is both
// disconnected and owns no (even orphaned) service, so no list of stale
// connections can ever accumulate. See DESIGN.md's Open Question resolution.
type Client struct {
	ClientID int64
	UserID   string

	connected     bool
	services      map[int64]*Service
	subscriptions map[int64]*Subscription
}

func newClient(clientID int64, userID string) *Client {
	return &Client{
		ClientID:      clientID,
		UserID:        userID,
		services:      map[int64]*Service{},
		subscriptions: map[int64]*Subscription{},
	}
}

func (c *Client) IsConnected() bool { return c.connected }

// isStale reports whether the client retains nothing worth remembering:
// disconnected, and orphaning no service.
func (c *Client) isStale() bool {
	return !c.connected && len(c.services) == 0
}

func (c *Client) addService(s *Service)      { c.services[s.ServiceID] = s }
func (c *Client) removeService(s *Service)   { delete(c.services, s.ServiceID) }
func (c *Client) hasService(id int64) bool   { _, ok := c.services[id]; return ok }

func (c *Client) addSubscription(s *Subscription)    { c.subscriptions[s.SubID] = s }
func (c *Client) removeSubscription(s *Subscription) { delete(c.subscriptions, s.SubID) }
func (c *Client) hasSubscription(id int64) bool      { _, ok := c.subscriptions[id]; return ok }
