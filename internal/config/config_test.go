package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pathfinder.yaml")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error prompting the operator to edit the freshly created file")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("second Load of the now-existing default file failed: %v", err)
	}
	if !cfg.Log.Console || !cfg.Log.Syslog {
		t.Errorf("default config should start with console and syslog logging on, got %+v", cfg.Log)
	}
	if cfg.Log.Filter != "info" {
		t.Errorf("default log filter = %q, want %q", cfg.Log.Filter, "info")
	}
}

func TestBuildDomainsRejectsSocketlessDomain(t *testing.T) {
	cfg := Config{Domains: []DomainEntry{{Name: "empty"}}}
	if _, err := BuildDomains(cfg); err == nil {
		t.Fatal("expected an error for a domain with no sockets")
	}
}

func TestBuildDomainsAppliesDefaultsAndLimits(t *testing.T) {
	clients := int64(10)
	cfg := Config{
		Domains: []DomainEntry{{
			Name:    "main",
			Sockets: []SocketEntry{{Addr: "tcp:127.0.0.1:4433"}},
		}},
		Resources: ResourcesConfig{Total: ResourceLimits{Clients: &clients}},
	}

	domains, err := BuildDomains(cfg)
	if err != nil {
		t.Fatalf("BuildDomains: %v", err)
	}
	if len(domains) != 1 {
		t.Fatalf("got %d domains, want 1", len(domains))
	}
	d := domains[0]
	if d.VersionLimit.Min != 2 || d.VersionLimit.Max != 3 {
		t.Errorf("version limit = %+v, want {2 3}", d.VersionLimit)
	}
	if d.IdleTimeout.Seconds() != DefaultMaxIdleSeconds {
		t.Errorf("idle timeout = %v, want %ds", d.IdleTimeout, DefaultMaxIdleSeconds)
	}
	if d.Resources.MaxTotalResources[0] != 10 {
		t.Errorf("max total clients = %d, want 10", d.Resources.MaxTotalResources[0])
	}
	if d.Resources.MaxTotalResources[2] != -1 {
		t.Errorf("max total services should be unlimited, got %d", d.Resources.MaxTotalResources[2])
	}
}

func TestBuildDomainsRejectsOutOfRangeProtocolVersion(t *testing.T) {
	cfg := Config{Domains: []DomainEntry{{
		Sockets:         []SocketEntry{{Addr: "tcp:127.0.0.1:4433"}},
		ProtocolVersion: VersionRange{Min: 1, Max: 3},
	}}}
	if _, err := BuildDomains(cfg); err == nil {
		t.Fatal("expected an error for a protocol_version range outside 2-3")
	}
}

func TestDomainsFromAddrsSingleDomainPerAddress(t *testing.T) {
	domains := DomainsFromAddrs([]string{"tcp:127.0.0.1:1", "ux:/tmp/pf.sock"}, false)
	if len(domains) != 2 {
		t.Fatalf("got %d domains, want 2", len(domains))
	}
	for _, d := range domains {
		if len(d.Sockets) != 1 {
			t.Errorf("domain %+v should have exactly one socket", d)
		}
	}
}

func TestDomainsFromAddrsMultiSocketJoinsOnPlus(t *testing.T) {
	domains := DomainsFromAddrs([]string{"tcp:127.0.0.1:1+tcp:127.0.0.1:2"}, true)
	if len(domains) != 1 {
		t.Fatalf("got %d domains, want 1", len(domains))
	}
	if len(domains[0].Sockets) != 2 {
		t.Fatalf("got %d sockets, want 2", len(domains[0].Sockets))
	}
}
