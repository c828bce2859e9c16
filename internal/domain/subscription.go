package domain

import (
	"github.com/pathfinderd/pathfinder/internal/filter"
	"github.com/pathfinderd/pathfinder/internal/props"
)

// MatchCallback is invoked once per (subscription, service, MatchType)
// transition the match engine computes; Domain wires this to its
// notification coalescer, which eventually hands a Notification to the
// session layer. It receives the whole Subscription (not just its id) so
// the recipient's client id is available without a second lookup.
type MatchCallback func(sub *Subscription, matchType MatchType, service *Service)

// Subscription is an installed filter, the Go analogue of sd.py's
// Subscription. It holds no delivery callback itself — Domain supplies one
// each time it calls notify, so every subscription shares the same
// coalescing path.
type Subscription struct {
	SubID    int64
	Filter   filter.Filter // nil matches every service, mirroring an absent filter
	ClientID int64
	UserID   string
}

func (s *Subscription) matches(p props.Map) bool {
	if s.Filter == nil {
		return true
	}
	return s.Filter.Match(p)
}

// notify implements the appeared/modified/disappeared derivation table
// from sd.py's Subscription.notify exactly, handing each resulting match to
// emit rather than holding its own delivery callback.
func (s *Subscription) notify(change ChangeType, svc *Service, emit MatchCallback) {
	switch change {
	case ChangeAdded:
		if s.matches(svc.Props()) {
			emit(s, MatchAppeared, svc)
		}
	case ChangeModified:
		before, after := svc.PrevProps(), svc.Props()
		matchedBefore, matchedAfter := s.matches(before), s.matches(after)
		switch {
		case matchedBefore && matchedAfter:
			emit(s, MatchModified, svc)
		case !matchedBefore && matchedAfter:
			emit(s, MatchAppeared, svc)
		case matchedBefore && !matchedAfter:
			emit(s, MatchDisappeared, svc)
		}
	case ChangeRemoved:
		if s.matches(svc.Props()) {
			emit(s, MatchDisappeared, svc)
		}
	}
}

func (s *Subscription) checkAccess(clientID int64) error {
	if clientID != s.ClientID {
		return &PermissionError{"client may not change a subscription it does not own"}
	}
	return nil
}
