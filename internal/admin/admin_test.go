package admin

import (
	"context"
	"testing"
	"time"

	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/props"
)

func newTestDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d := domain.New(domain.Config{
		MaxUserResources:  domain.UnlimitedLimits(),
		MaxTotalResources: domain.UnlimitedLimits(),
		CoalesceWindow:    10 * time.Millisecond,
	}, func(domain.Notification) {})
	t.Cleanup(d.Close)
	return d
}

func TestSnapshotReturnsDomainState(t *testing.T) {
	dom := newTestDomain(t)
	if err := dom.ClientConnect(1, "alice"); err != nil {
		t.Fatalf("ClientConnect: %v", err)
	}
	p := props.New().Add("role", props.String("web"))
	if _, err := dom.Publish(1, 100, 1, p, 60); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	svc := NewService(map[string]*domain.Domain{"default": dom})
	resp, err := svc.snapshot(context.Background(), &SnapshotRequest{Domain: "default"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(resp.ClientIDs) != 1 || resp.ClientIDs[0] != 1 {
		t.Errorf("ClientIDs = %v, want [1]", resp.ClientIDs)
	}
	if len(resp.ServiceIDs) != 1 || resp.ServiceIDs[0] != 100 {
		t.Errorf("ServiceIDs = %v, want [100]", resp.ServiceIDs)
	}
}

func TestSnapshotRejectsUnknownDomain(t *testing.T) {
	svc := NewService(map[string]*domain.Domain{"default": newTestDomain(t)})
	if _, err := svc.snapshot(context.Background(), &SnapshotRequest{Domain: "bogus"}); err == nil {
		t.Fatal("expected an error for an unknown domain")
	}
}

func TestServeAndInvoke(t *testing.T) {
	svc := NewService(map[string]*domain.Domain{"default": newTestDomain(t)})
	ln, err := svc.Serve("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	_ = ln

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}
