package domain

import "github.com/pathfinderd/pathfinder/internal/props"

// ChangeType is the kind of mutation a Service just underwent, the input to
// subscription.notify and to orphan bookkeeping.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeRemoved
)

// MatchType is what a subscriber is told happened to a service, derived
// from a ChangeType plus whether the service matched before/after.
type MatchType int

const (
	MatchAppeared MatchType = iota
	MatchModified
	MatchDisappeared
)

// generation is one committed snapshot of a service's mutable state — the
// Go analogue of sd.py's Generation, copied on every publish.
type generation struct {
	generation  int64
	props       props.Map
	ttl         int64
	orphanSince *float64 // seconds since epoch; nil means not orphaned
	clientID    int64
	userID      string
}

func (g *generation) copy() *generation {
	cp := *g
	return &cp
}

// Service is one published service record plus its previous generation,
// enough state to tell a newly (dis)appeared subscriber what changed.
type Service struct {
	ServiceID int64
	prev, cur *generation
	changeCB  func(ChangeType, *Service)
}

func newService(id int64, changeCB func(ChangeType, *Service)) *Service {
	return &Service{ServiceID: id, changeCB: changeCB}
}

func (s *Service) Generation() int64   { return s.cur.generation }
func (s *Service) Props() props.Map    { return s.cur.props }
func (s *Service) TTL() int64          { return s.cur.ttl }
func (s *Service) ClientID() int64     { return s.cur.clientID }
func (s *Service) UserID() string      { return s.cur.userID }
func (s *Service) OrphanSince() (float64, bool) {
	if s.cur.orphanSince == nil {
		return 0, false
	}
	return *s.cur.orphanSince, true
}
func (s *Service) IsOrphan() bool { return s.cur.orphanSince != nil }

func (s *Service) OrphanTimeout() float64 {
	since, _ := s.OrphanSince()
	return since + float64(s.TTL())
}

func (s *Service) HasPrevGeneration() bool { return s.prev != nil }

func (s *Service) WasOrphan() bool {
	return s.prev != nil && s.prev.orphanSince != nil
}

func (s *Service) PrevOrphanTimeout() float64 {
	since := *s.prev.orphanSince
	return since + float64(s.prev.ttl)
}

func (s *Service) PrevProps() props.Map {
	if s.prev == nil {
		return nil
	}
	return s.prev.props
}

// change is a pending, not-yet-committed generation, mutated by the caller
// and then handed to commitAdd/commitModify, mirroring sd.py's
// contextlib.contextmanager add()/modify() pair without needing Go
// generators — the caller just builds the struct and calls the commit
// method directly.
type change struct {
	generation  int64
	props       props.Map
	ttl         int64
	orphanSince *float64
	clientID    int64
	userID      string
}

func (s *Service) commitAdd(c change) {
	s.prev = nil
	s.cur = &generation{c.generation, c.props, c.ttl, c.orphanSince, c.clientID, c.userID}
	s.changeCB(ChangeAdded, s)
}

func (s *Service) commitModify(mutate func(*change)) {
	c := change{
		generation:  s.cur.generation,
		props:       s.cur.props,
		ttl:         s.cur.ttl,
		orphanSince: s.cur.orphanSince,
		clientID:    s.cur.clientID,
		userID:      s.cur.userID,
	}
	mutate(&c)
	s.prev = s.cur
	s.cur = &generation{c.generation, c.props, c.ttl, c.orphanSince, c.clientID, c.userID}
	s.changeCB(ChangeModified, s)
}

func (s *Service) commitRemove() {
	s.prev = s.cur
	s.cur = nil
	s.changeCB(ChangeRemoved, s)
}

func (s *Service) checkAccess(userID string) error {
	if userID != s.UserID() {
		return &PermissionError{"user id " + userID + " may not change service owned by user id " + s.UserID()}
	}
	return nil
}
