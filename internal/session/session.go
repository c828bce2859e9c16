// Package session implements the per-connection protocol state machine:
// the hello handshake, liveness tracking and the request/notify/complete
// dispatch for every transaction type, ported from the reference
// implementation's server.py Connection class.
package session

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pathfinderd/pathfinder/internal/connection"
	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/idgen"
	"github.com/pathfinderd/pathfinder/internal/logger"
	"github.com/pathfinderd/pathfinder/internal/proto"
	"github.com/pathfinderd/pathfinder/internal/transport"
)

// VersionLimit bounds the protocol versions a server is willing to speak,
// analogous to the reference implementation's ProtoVersionLimit.
type VersionLimit struct {
	Min, Max int
}

func (l VersionLimit) highestAllowed(clientMin, clientMax int64) (int, bool) {
	lo, hi := int(clientMin), int(clientMax)
	if lo > hi {
		lo, hi = hi, lo
	}
	best := 0
	for v := l.Max; v >= l.Min; v-- {
		if v >= lo && v <= hi {
			best = v
			break
		}
	}
	return best, best != 0
}

// Config carries the per-domain settings a Session needs at construction.
type Config struct {
	DomainName       string
	VersionLimit     VersionLimit
	IdleTimeout      time.Duration // applied to protocol version >= 3 only
	HandshakeTimeout time.Duration
}

// Session drives one client connection end to end: reading frames,
// dispatching to the domain, and writing back responses and
// asynchronously-triggered notifications.
type Session struct {
	cfg        Config
	conn       transport.Conn
	connID     string
	addr       string
	userIDHint string
	dom        *domain.Domain
	registry   *connection.Manager

	sendMu sync.Mutex

	mu           sync.Mutex
	clientID     int64
	userID       string
	protoVersion int
	handshaked   bool
	connectedAt  time.Time
	lastSeenAt   time.Time
	subTAs       map[int64]int64     // subscription id -> its subscribe request's ta id
	openTAs      map[int64]struct{} // ta ids currently in use on this connection
	trackTAID    int64               // 0 means no tracker installed
	trackQueryAt time.Time
	trackLatency float64
	hasTrackLat  bool
	closed       bool
}

// New wraps an accepted connection in a Session, ready for Run. userIDHint
// is the identity the transport layer already derived for this connection
// (IP, TLS peer certificate, or the local-socket default); hello uses it
// unless empty.
func New(conn transport.Conn, userIDHint string, cfg Config, dom *domain.Domain, registry *connection.Manager) *Session {
	return &Session{
		cfg:         cfg,
		conn:        conn,
		connID:      idgen.SessionID(),
		addr:        conn.RemoteAddr(),
		userIDHint:  userIDHint,
		dom:         dom,
		registry:    registry,
		connectedAt: time.Now(),
		lastSeenAt:  time.Now(),
		subTAs:      map[int64]int64{},
		openTAs:     map[int64]struct{}{},
	}
}

func (s *Session) idleSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeenAt).Seconds()
}

func (s *Session) ClientID() int64    { return s.clientID }
func (s *Session) RemoteAddr() string { return s.addr }
func (s *Session) ConnectedAt() int64 { return s.connectedAt.Unix() }

func (s *Session) ProtoVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protoVersion
}

func (s *Session) TrackLatency() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLatency, s.hasTrackLat
}

func (s *Session) isTracked() bool {
	return s.trackTAID != 0
}

func (s *Session) logPrefix() string {
	if s.cfg.DomainName != "" {
		return s.cfg.DomainName + ": <" + s.connID + "> "
	}
	return "<" + s.connID + "> "
}

// Run reads and processes frames until the connection closes or a
// protocol violation forces termination.
func (s *Session) Run() {
	logger.InfoF("%sAccepted new client connection from %q.", s.logPrefix(), s.addr)
	defer s.terminate()

	for {
		if deadline := s.readDeadline(); !deadline.IsZero() {
			_ = s.conn.SetReadDeadline(deadline)
		} else {
			_ = s.conn.SetReadDeadline(time.Time{})
		}

		raw, err := s.conn.ReadFrame()
		if err != nil {
			if isTimeout(err) {
				if s.handleIdleTimeout() {
					continue
				}
				logger.DebugF("%sClient timed out.", s.logPrefix())
				return
			}
			logger.DebugF("%sConnection closed: %v.", s.logPrefix(), err)
			return
		}

		logger.DebugF("%sReceived message: %s", s.logPrefix(), raw)

		if err := s.process(raw); err != nil {
			logger.WarnF("%s%s.", s.logPrefix(), err)
			return
		}
	}
}

// readDeadline returns the next read deadline to arm, or the zero Value
// for no deadline: protocol versions before 3 rely on the transport
// connection itself as the liveness signal, matching the reference
// implementation's check_idle.
func (s *Session) readDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handshaked {
		if s.cfg.HandshakeTimeout > 0 {
			return time.Now().Add(s.cfg.HandshakeTimeout)
		}
		return time.Time{}
	}
	if s.protoVersion < 3 || s.cfg.IdleTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.cfg.IdleTimeout)
}

// handleIdleTimeout reacts to a read deadline expiring and reports whether
// the connection stays open. A connection that never finished the
// handshake, or a handshaked v3 connection with no track transaction, is
// closed; on a tracked v3 connection it sends a track query if one isn't
// already outstanding, or gives up if the previous query was never
// answered.
func (s *Session) handleIdleTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handshaked {
		return false
	}
	if s.protoVersion < 3 {
		return true
	}
	if !s.isTracked() {
		return false
	}
	if !s.trackQueryAt.IsZero() {
		return false
	}
	s.trackQueryAt = time.Now()
	taID := s.trackTAID
	s.mu.Unlock()
	s.respond(&proto.Message{Cmd: proto.CmdTrack, TaID: taID, MsgType: proto.MsgNotify,
		Body: map[string]any{"track-type": string(proto.TrackTypeQuery)}})
	s.mu.Lock()
	logger.DebugF("%sSent liveness query.", s.logPrefix())
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	if e, ok := err.(net.Error); ok {
		ne = e
		return ne.Timeout()
	}
	return os.IsTimeout(err)
}

func (s *Session) process(raw []byte) error {
	s.mu.Lock()
	version := s.protoVersion
	handshaked := s.handshaked
	s.lastSeenAt = time.Now()
	s.mu.Unlock()

	m, err := proto.Decode(raw, version)
	if err != nil {
		return err
	}

	if !handshaked && m.Cmd != proto.CmdHello {
		logger.WarnF("%sAttempt to issue %q before issuing %q.", s.logPrefix(), m.Cmd, proto.CmdHello)
		s.fail(m, proto.FailNoHello)
		return nil
	}

	// A request opens a new transaction on its ta-id; the id must not already
	// be in use by an earlier transaction still awaiting its complete/fail on
	// this connection. hello is exempt — a repeated hello reusing the first
	// one's ta-id is handled as a special case inside handleHello, not as a
	// fresh transaction.
	if m.MsgType == proto.MsgRequest && m.Cmd != proto.CmdHello {
		s.mu.Lock()
		_, inUse := s.openTAs[m.TaID]
		if !inUse {
			s.openTAs[m.TaID] = struct{}{}
		}
		s.mu.Unlock()
		if inUse {
			return fmt.Errorf("duplicate transaction id %d reused on %q", m.TaID, m.Cmd)
		}
	}

	switch m.Cmd {
	case proto.CmdHello:
		s.handleHello(m)
	case proto.CmdTrack:
		s.handleTrack(m)
	case proto.CmdSubscribe:
		s.handleSubscribe(m)
	case proto.CmdUnsubscribe:
		s.handleUnsubscribe(m)
	case proto.CmdSubscriptions:
		s.handleSubscriptions(m)
	case proto.CmdServices:
		s.handleServices(m)
	case proto.CmdPublish:
		s.handlePublish(m)
	case proto.CmdUnpublish:
		s.handleUnpublish(m)
	case proto.CmdPing:
		s.handlePing(m)
	case proto.CmdClients:
		s.handleClients(m)
	}
	return nil
}

// determineUserID returns the identity New's userIDHint carried in from
// the transport layer, falling back to an IP-derived or default identity
// if none was supplied (only possible when a Session is built directly
// rather than via a transport.Listener, e.g. in tests).
func (s *Session) determineUserID() string {
	if s.userIDHint != "" {
		return s.userIDHint
	}
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil || host == "" || net.ParseIP(host) == nil {
		return domain.DefaultUserID
	}
	return "ip:" + host
}

func (s *Session) handleHello(m *proto.Message) {
	clientID, _ := m.Int("client-id")
	minV, _ := m.Int("protocol-minimum-version")
	maxV, _ := m.Int("protocol-maximum-version")

	s.mu.Lock()
	if s.clientID == 0 && !s.handshaked {
		s.clientID = clientID
	} else if s.clientID != clientID {
		s.mu.Unlock()
		logger.WarnF("%sAttempt to change client id denied.", s.logPrefix())
		s.fail(m, proto.FailPermissionDenied)
		return
	} else if s.handshaked {
		version := s.protoVersion
		s.mu.Unlock()
		s.complete(m, map[string]any{"protocol-version": version})
		return
	}
	s.mu.Unlock()

	version, ok := s.cfg.VersionLimit.highestAllowed(minV, maxV)
	if !ok {
		logger.WarnF("%sClient doesn't support a protocol version in the range %d-%d.",
			s.logPrefix(), proto.MinVersion, proto.MaxVersion)
		s.fail(m, proto.FailUnsupportedProtocolVersion)
		return
	}

	userID := s.determineUserID()
	logger.InfoF("%sUser id is %q.", s.logPrefix(), userID)

	if err := s.dom.ClientConnect(clientID, userID); err != nil {
		switch err.(type) {
		case *domain.AlreadyExistsError:
			logger.WarnF("%sClient 0x%x is already connected.", s.logPrefix(), clientID)
			s.fail(m, proto.FailClientIDExists)
		case *domain.ResourceError:
			logger.WarnF("%sUnable to connect: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailInsufficientResources)
		default:
			logger.WarnF("%sUnable to connect: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailPermissionDenied)
		}
		return
	}

	s.mu.Lock()
	s.userID = userID
	s.protoVersion = version
	s.handshaked = true
	s.mu.Unlock()

	s.registry.Register(s)

	logger.DebugF("%sHandshake finished. Protocol version %d selected.", s.logPrefix(), version)
	s.complete(m, map[string]any{"protocol-version": version})
}

func (s *Session) handleTrack(m *proto.Message) {
	switch m.MsgType {
	case proto.MsgRequest:
		s.mu.Lock()
		if s.isTracked() {
			s.mu.Unlock()
			logger.WarnF("%sTrack transaction already exists.", s.logPrefix())
			s.fail(m, proto.FailTrackExists)
			return
		}
		s.trackTAID = m.TaID
		s.mu.Unlock()
		logger.DebugF("%sInstalled tracker.", s.logPrefix())
		s.accept(m, nil)

	case proto.MsgInform:
		trackType, _ := m.String("track-type")
		switch proto.TrackType(trackType) {
		case proto.TrackTypeQuery:
			s.respond(&proto.Message{Cmd: proto.CmdTrack, TaID: m.TaID, MsgType: proto.MsgNotify,
				Body: map[string]any{"track-type": string(proto.TrackTypeReply)}})
			logger.DebugF("%sReplied to track query.", s.logPrefix())
		case proto.TrackTypeReply:
			s.mu.Lock()
			if !s.trackQueryAt.IsZero() {
				s.trackLatency = time.Since(s.trackQueryAt).Seconds()
				s.hasTrackLat = true
				s.trackQueryAt = time.Time{}
			}
			s.mu.Unlock()
			logger.DebugF("%sReceived track query reply.", s.logPrefix())
		}
	}
}

// Deliver writes one match notification to the client. An immediate
// delivery runs synchronously on whichever session goroutine made the
// domain call that produced the match, this session's own Run goroutine
// included (for instance during ActivateSubscription); a buffered delivery
// runs from the coalescing cache's eviction callback. Every write here goes
// through the same send mutex Run's responses use.
func (s *Session) Deliver(n domain.Notification) {
	s.mu.Lock()
	taID, ok := s.subTAs[n.SubID]
	s.mu.Unlock()
	if !ok {
		return
	}

	body := map[string]any{
		"match-type": wireMatchType(n.MatchType),
		"service-id": n.ServiceID,
	}
	if n.MatchType != domain.MatchDisappeared {
		body["generation"] = n.Generation
		body["service-props"] = n.Props
		body["ttl"] = n.TTL
		body["client-id"] = n.ClientID
		if n.OrphanSince != nil {
			body["orphan-since"] = *n.OrphanSince
		}
	}
	s.respond(&proto.Message{Cmd: proto.CmdSubscribe, TaID: taID, MsgType: proto.MsgNotify, Body: body})
}

func wireMatchType(mt domain.MatchType) string {
	switch mt {
	case domain.MatchAppeared:
		return proto.MatchAppeared
	case domain.MatchModified:
		return proto.MatchModified
	default:
		return proto.MatchDisappeared
	}
}

// respond writes m and, if it terminates a transaction (complete or fail),
// frees its ta-id for reuse. This is the single place that retires a ta-id
// opened by process, since a multi-response transaction's complete can be
// sent long after the original request (e.g. unsubscribe completing the
// subscribe transaction via its saved ta-id, below in handleUnsubscribe).
func (s *Session) respond(m *proto.Message) {
	if m.MsgType == proto.MsgComplete || m.MsgType == proto.MsgFail {
		s.mu.Lock()
		delete(s.openTAs, m.TaID)
		s.mu.Unlock()
	}

	wire, err := proto.Encode(m)
	if err != nil {
		logger.ErrorF("%sFailed to encode %s %s response: %v.", s.logPrefix(), m.Cmd, m.MsgType, err)
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteFrame(wire); err != nil {
		logger.DebugF("%sFailed to send message: %v.", s.logPrefix(), err)
		return
	}
	logger.DebugF("%sSent message: %s", s.logPrefix(), wire)
}

func (s *Session) accept(in *proto.Message, body map[string]any) {
	s.respond(&proto.Message{Cmd: in.Cmd, TaID: in.TaID, MsgType: proto.MsgAccept, Body: body})
}

func (s *Session) complete(in *proto.Message, body map[string]any) {
	s.respond(&proto.Message{Cmd: in.Cmd, TaID: in.TaID, MsgType: proto.MsgComplete, Body: body})
}

func (s *Session) fail(in *proto.Message, reason proto.FailReason) {
	s.respond(&proto.Message{Cmd: in.Cmd, TaID: in.TaID, MsgType: proto.MsgFail,
		Body: map[string]any{"fail-reason": string(reason)}})
}

func (s *Session) terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handshaked := s.handshaked
	clientID := s.clientID
	s.mu.Unlock()

	logger.InfoF("%sDisconnected.", s.logPrefix())

	if handshaked {
		s.registry.Unregister(clientID)
		if err := s.dom.ClientDisconnect(clientID); err != nil {
			logger.WarnF("%sError disconnecting client: %v.", s.logPrefix(), err)
		}
	}
	_ = s.conn.Close()
}
