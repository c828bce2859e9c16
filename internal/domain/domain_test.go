package domain

import (
	"sync"
	"testing"
	"time"

	"github.com/pathfinderd/pathfinder/internal/filter"
	"github.com/pathfinderd/pathfinder/internal/props"
)

func newTestDomain(t *testing.T, notify func(Notification)) *Domain {
	t.Helper()
	if notify == nil {
		notify = func(Notification) {}
	}
	d := New(Config{
		MaxUserResources:  UnlimitedLimits(),
		MaxTotalResources: UnlimitedLimits(),
		CoalesceWindow:    10 * time.Millisecond,
	}, notify)
	t.Cleanup(d.Close)
	return d
}

func TestPublishAndSubscribeDeliversAppeared(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	d := newTestDomain(t, func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	if err := d.ClientConnect(1, "alice"); err != nil {
		t.Fatalf("ClientConnect: %v", err)
	}

	f, err := filter.Parse("(role=web)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := d.CreateSubscription(1, 100, f); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if err := d.ActivateSubscription(1, 100); err != nil {
		t.Fatalf("ActivateSubscription: %v", err)
	}

	p := props.New().Add("role", props.String("web"))
	if _, err := d.Publish(1, 200, 1, p, 60); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected at least one notification after publishing a matching service")
	}
	if got[0].MatchType != MatchAppeared {
		t.Errorf("match type = %v, want MatchAppeared", got[0].MatchType)
	}
	if got[0].SubscriberClientID != 1 {
		t.Errorf("subscriber client id = %d, want 1", got[0].SubscriberClientID)
	}
}

func TestPublishRejectsStaleGeneration(t *testing.T) {
	d := newTestDomain(t, nil)
	if err := d.ClientConnect(1, "alice"); err != nil {
		t.Fatalf("ClientConnect: %v", err)
	}
	p := props.New().Add("role", props.String("web"))
	if _, err := d.Publish(1, 1, 5, p, 60); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := d.Publish(1, 1, 4, p, 60); err == nil {
		t.Fatal("expected an error publishing an older generation over a newer one")
	}
}

func TestUnpublishRemovesService(t *testing.T) {
	d := newTestDomain(t, nil)
	if err := d.ClientConnect(1, "alice"); err != nil {
		t.Fatalf("ClientConnect: %v", err)
	}
	p := props.New().Add("role", props.String("web"))
	if _, err := d.Publish(1, 1, 1, p, 60); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := d.Unpublish(1, 1); err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	if _, err := d.GetService(1); err == nil {
		t.Fatal("expected the service to be gone after Unpublish")
	}
}

func TestClientDisconnectOrphansServiceUntilPurged(t *testing.T) {
	d := newTestDomain(t, nil)
	if err := d.ClientConnect(1, "alice"); err != nil {
		t.Fatalf("ClientConnect: %v", err)
	}
	p := props.New().Add("role", props.String("web"))
	if _, err := d.Publish(1, 1, 1, p, 1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := d.ClientDisconnect(1); err != nil {
		t.Fatalf("ClientDisconnect: %v", err)
	}
	if _, err := d.GetService(1); err != nil {
		t.Fatal("service should survive its owner's disconnect until its TTL expires")
	}

	purged := d.PurgeOrphans(now() + 10)
	if len(purged) != 1 || purged[0] != 1 {
		t.Fatalf("PurgeOrphans = %v, want [1]", purged)
	}
	if _, err := d.GetService(1); err == nil {
		t.Fatal("expected the orphaned service to be gone after its TTL elapsed")
	}
}
