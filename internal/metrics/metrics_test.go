package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRegistryCountersAndGauges(t *testing.T) {
	r := NewRegistry("test")
	r.ClientConnected()
	r.ClientConnected()
	r.ClientDisconnected()
	r.SubscriptionCreated()
	r.Fail("old-generation")
	r.Notify("appeared")

	mfs, err := r.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{"pathfinder_clients", "pathfinder_services", "pathfinder_subscriptions", "pathfinder_fail_total", "pathfinder_notify_total"} {
		if !found[name] {
			t.Errorf("expected %q among gathered metric families", name)
		}
	}
}

func TestServeExposesMetricsEndpoints(t *testing.T) {
	r := NewRegistry("test")
	r.ClientConnected()

	srv, err := Serve("127.0.0.1:0", map[string]*Registry{"test": r})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Invoke(ctx)
	}()

	addr := srv.ln.Addr().String()
	url := "http://" + addr + "/metrics/test"

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(body), "pathfinder_clients") {
		t.Errorf("response body missing pathfinder_clients: %s", body)
	}
}
