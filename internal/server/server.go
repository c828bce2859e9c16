// Package server binds every configured domain's listener sockets and
// drives its accept loop and orphan timer, tying internal/transport,
// internal/domain, internal/connection and internal/session together into
// a running process. Generalized from one hard-coded TCP port to N domains
// each with their own listener set and supervised under one errgroup.
package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pathfinderd/pathfinder/internal/connection"
	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/logger"
	"github.com/pathfinderd/pathfinder/internal/session"
	"github.com/pathfinderd/pathfinder/internal/transport"
)

// SocketConfig is one listener address a domain binds, plus its optional
// TLS overrides.
type SocketConfig struct {
	Addr string
	TLS  *transport.TLSAttrs
}

// DomainConfig is everything one domain's listeners and session behavior
// need, filled in from internal/config.
type DomainConfig struct {
	Name             string
	Sockets          []SocketConfig
	VersionLimit     session.VersionLimit
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	Resources        domain.Config
}

// boundDomain is one domain's fully wired runtime state: its store, its
// connection registry, and the listeners it owns.
type boundDomain struct {
	cfg       DomainConfig
	dom       *domain.Domain
	registry  *connection.Manager
	listeners []transport.Listener
}

// Server owns every bound domain for one process.
type Server struct {
	domains []*boundDomain
}

// New binds every listener address of every domain. If any bind fails, the
// listeners already opened are closed before returning the error, so a
// single misconfigured socket can't leave others running unsupervised.
func New(domains []DomainConfig) (*Server, error) {
	s := &Server{}
	for _, cfg := range domains {
		bd := &boundDomain{cfg: cfg, registry: connection.NewManager()}
		bd.dom = domain.New(cfg.Resources, bd.registry.Deliver)

		for _, sock := range cfg.Sockets {
			ln, err := transport.Listen(sock.Addr, sock.TLS)
			if err != nil {
				s.closeAll()
				return nil, err
			}
			bd.listeners = append(bd.listeners, ln)
		}
		s.domains = append(s.domains, bd)
	}
	return s, nil
}

// Domains returns every bound domain's store, keyed by its configured
// name, for callers (metrics, admin) that need to observe or query a
// domain outside of the accept loop.
func (s *Server) Domains() map[string]*domain.Domain {
	out := make(map[string]*domain.Domain, len(s.domains))
	for _, bd := range s.domains {
		out[bd.cfg.Name] = bd.dom
	}
	return out
}

func (s *Server) closeAll() {
	for _, bd := range s.domains {
		for _, ln := range bd.listeners {
			_ = ln.Close()
		}
	}
}

// Run blocks accepting connections and purging orphans on every domain
// until ctx is canceled or one listener fails fatally, at which point
// every goroutine is unwound and the first error is returned.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, bd := range s.domains {
		bd := bd
		for _, ln := range bd.listeners {
			ln := ln
			g.Go(func() error { return bd.acceptLoop(ctx, ln) })
		}
		g.Go(func() error { return bd.orphanLoop(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		s.closeAll()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (bd *boundDomain) sessionConfig() session.Config {
	return session.Config{
		DomainName:       bd.cfg.Name,
		VersionLimit:     bd.cfg.VersionLimit,
		IdleTimeout:      bd.cfg.IdleTimeout,
		HandshakeTimeout: bd.cfg.HandshakeTimeout,
	}
}

func (bd *boundDomain) acceptLoop(ctx context.Context, ln transport.Listener) error {
	logger.InfoF("%s: listening on %s", bd.cfg.Name, ln.Addr())
	for {
		accepted, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.ErrorF("%s: accept on %s failed: %v", bd.cfg.Name, ln.Addr(), err)
				return err
			}
		}
		sess := session.New(accepted.Conn, accepted.UserID, bd.sessionConfig(), bd.dom, bd.registry)
		go runSession(sess)
	}
}

// runSession recovers from a panic in one connection's handling so a bug
// triggered by a single malicious or malformed peer never brings down the
// rest of the domain.
func runSession(sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorF("session terminated by panic: %v", r)
		}
	}()
	sess.Run()
}

// orphanLoop is the domain's single timer goroutine: it sleeps until the
// next orphan deadline (or a fixed fallback interval if none is pending)
// and purges everything due each time it wakes.
func (bd *boundDomain) orphanLoop(ctx context.Context) error {
	const idlePoll = 5 * time.Second
	for {
		wait := idlePoll
		if deadline, ok := bd.dom.NextOrphanTimeout(); ok {
			if d := time.Until(unixFloatToTime(deadline)); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			purged := bd.dom.PurgeOrphans(nowUnix())
			if len(purged) > 0 {
				logger.DebugF("%s: purged %d orphaned service(s).", bd.cfg.Name, len(purged))
			}
		}
	}
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func unixFloatToTime(t float64) time.Time {
	secs := int64(t)
	nanos := int64((t - float64(secs)) * float64(time.Second))
	return time.Unix(secs, nanos)
}
