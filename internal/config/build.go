package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/server"
	"github.com/pathfinderd/pathfinder/internal/session"
	"github.com/pathfinderd/pathfinder/internal/transport"
)

// BuildDomains translates a loaded Config's domain entries into the
// runtime shape internal/server needs: resolved resource limits, protocol
// version bounds (clamped to the server's supported range) and per-socket
// TLS attributes.
func BuildDomains(cfg Config) ([]server.DomainConfig, error) {
	out := make([]server.DomainConfig, 0, len(cfg.Domains))
	for i, d := range cfg.Domains {
		dc, err := buildDomain(d, cfg.Resources)
		if err != nil {
			return nil, fmt.Errorf("domain %d (%q): %w", i, d.Name, err)
		}
		out = append(out, dc)
	}
	return out, nil
}

func buildDomain(d DomainEntry, resources ResourcesConfig) (server.DomainConfig, error) {
	if len(d.Sockets) == 0 {
		return server.DomainConfig{}, fmt.Errorf("domain has no sockets configured")
	}

	sockets := make([]server.SocketConfig, 0, len(d.Sockets))
	for _, s := range d.Sockets {
		sc := server.SocketConfig{Addr: s.Addr}
		if s.TLS != (TLSEntry{}) {
			sc.TLS = &transport.TLSAttrs{
				CertFile:  s.TLS.Cert,
				KeyFile:   s.TLS.Key,
				TrustedCA: s.TLS.TC,
				CRLFile:   s.TLS.CRL,
			}
		}
		sockets = append(sockets, sc)
	}

	maxIdle := d.Idle.Max
	if maxIdle == 0 {
		maxIdle = DefaultMaxIdleSeconds
	}
	minIdle := d.Idle.Min
	if minIdle == 0 {
		minIdle = DefaultMinIdleSeconds
	}
	if minIdle < 1 {
		return server.DomainConfig{}, fmt.Errorf("idle.min must be >= 1")
	}

	limit := session.VersionLimit{Min: 2, Max: 3}
	if d.ProtocolVersion.Min != 0 {
		limit.Min = d.ProtocolVersion.Min
	}
	if d.ProtocolVersion.Max != 0 {
		limit.Max = d.ProtocolVersion.Max
	}
	if limit.Min < 2 || limit.Max > 3 || limit.Min > limit.Max {
		return server.DomainConfig{}, fmt.Errorf("protocol_version range must be within 2-3")
	}

	return server.DomainConfig{
		Name:             d.Name,
		Sockets:          sockets,
		VersionLimit:     limit,
		IdleTimeout:      time.Duration(maxIdle) * time.Second,
		HandshakeTimeout: time.Duration(minIdle) * time.Second,
		Resources: domain.Config{
			MaxUserResources:                resourceLimitsToLimits(resources.User),
			MaxTotalResources:               resourceLimitsToLimits(resources.Total),
			CoalesceWindow:                  250 * time.Millisecond,
			AllowCrossUserOwnershipTransfer: resources.AllowCrossUserOwnershipTransfer,
		},
	}, nil
}

func resourceLimitsToLimits(r ResourceLimits) domain.Limits {
	return domain.Limits{
		r.clientsOr(domain.NoLimit),
		r.subscriptionsOr(domain.NoLimit),
		r.servicesOr(domain.NoLimit),
	}
}

// DomainsFromAddrs builds domains directly from CLI positional listener
// addresses: each address is its own domain unless multiSocket is set, in
// which case "+"-joined groups (the -m flag) form one domain per group.
// Used only when listener addresses are given on the command line; the
// file's domains are then ignored.
func DomainsFromAddrs(addrs []string, multiSocket bool) []server.DomainConfig {
	out := make([]server.DomainConfig, 0, len(addrs))
	for _, addr := range addrs {
		var sockets []server.SocketConfig
		if multiSocket {
			for _, p := range strings.Split(addr, "+") {
				sockets = append(sockets, server.SocketConfig{Addr: p})
			}
		} else {
			sockets = []server.SocketConfig{{Addr: addr}}
		}
		out = append(out, server.DomainConfig{
			Sockets:          sockets,
			VersionLimit:     session.VersionLimit{Min: 2, Max: 3},
			IdleTimeout:      DefaultMaxIdleSeconds * time.Second,
			HandshakeTimeout: DefaultMinIdleSeconds * time.Second,
			Resources: domain.Config{
				MaxUserResources:  domain.UnlimitedLimits(),
				MaxTotalResources: domain.UnlimitedLimits(),
				CoalesceWindow:    250 * time.Millisecond,
			},
		})
	}
	return out
}
